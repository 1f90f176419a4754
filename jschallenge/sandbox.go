// Package jschallenge runs anti-bot challenge scripts in a zero-browser
// JavaScript sandbox and reports the verification cookie they assign.
//
// Challenge pages served by the upstream embed one or more inline scripts.
// One of them computes a short-lived crumb (e.g. "acw_sc__v2=...") and writes
// it to document.cookie before asking the page to reload.  This package
// evaluates those scripts in-process, using a pure-Go interpreter, against a
// deliberately tiny set of browser globals:
//
//   - document.cookie – accessor property; writes are captured, reads return
//     the last written value (initially "").
//   - document.location.reload() and the location alias – no-ops.
//   - window, self (same object as window) and navigator – empty objects.
//
// Nothing else exists inside the sandbox: no timers, no network, no DOM.  A
// script that reaches for any of those fails with an ordinary execution
// error, which callers treat as "try the next script".
//
// Every Execute call builds a fresh VM, so there is no state shared between
// attempts or between requests.
package jschallenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported interpreter back-ends.
const (
	// EngineOtto selects the robertkrimen/otto interpreter (ES5).
	EngineOtto = "otto"
	// EngineGoja selects the dop251/goja interpreter (ES5.1+ with most ES6).
	EngineGoja = "goja"
)

// DefaultTimeout bounds a single script run when the caller passes zero.
const DefaultTimeout = 5 * time.Second

var (
	// ErrNoScripts is returned by Selector.Solve when the document contains
	// no inline script blocks at all.
	ErrNoScripts = errors.New("no <script> tags found")

	// ErrNoCookie is returned when a script ran to completion without ever
	// assigning document.cookie.
	ErrNoCookie = errors.New("script executed but did not set cookie")

	// ErrNoCookieProduced is the fallback returned by Selector.Solve when no
	// script succeeded and none recorded an error of its own.
	ErrNoCookieProduced = errors.New("no cookie produced")

	// ErrTimeout is returned when a script exceeded the sandbox time limit.
	ErrTimeout = errors.New("script execution timed out")
)

// Sandbox executes one challenge script and returns the cookie crumb it
// assigned to document.cookie.
type Sandbox interface {
	// Execute runs script wrapped in an immediately-invoked function.  The
	// returned crumb is the text before the first ';' of the last value
	// written to document.cookie.
	Execute(ctx context.Context, script string) (string, error)
}

// New returns the Sandbox implementation named by engine.  An empty engine
// selects otto.  timeout <= 0 selects DefaultTimeout.
func New(engine string, timeout time.Duration) (Sandbox, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch strings.ToLower(engine) {
	case "", EngineOtto:
		return NewOttoSandbox(timeout), nil
	case EngineGoja:
		return NewGojaSandbox(timeout), nil
	default:
		return nil, fmt.Errorf("jschallenge: unknown engine %q", engine)
	}
}

// wrapScript isolates the script's declarations from the shim scope.  The
// newline before the closing brace keeps a trailing line comment in the
// script from swallowing the call.
func wrapScript(script string) string {
	return "(function(){" + script + "\n})();"
}

// crumbFrom turns the last document.cookie write into a name=value crumb,
// dropping attributes such as path or expires.
func crumbFrom(written string) (string, error) {
	crumb, _, _ := strings.Cut(written, ";")
	if crumb == "" {
		return "", ErrNoCookie
	}
	return crumb, nil
}

// halt is the value used to stop a running VM from the watchdog.
type halt struct {
	cause error
}

// watchdog fires stop once the timeout elapses or ctx is cancelled, whichever
// comes first.  The returned function must be called when the script has
// finished; it releases the watchdog goroutine.
func watchdog(ctx context.Context, timeout time.Duration, stop func(cause error)) (release func()) {
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			stop(ErrTimeout)
		case <-ctx.Done():
			stop(ctx.Err())
		}
	}()
	return func() { close(done) }
}
