package jschallenge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robertkrimen/otto"
)

// ottoShim builds the browser globals.  It is evaluated once per VM and called
// with the Go cookie sink; the document.cookie setter forwards every write to
// the sink so the captured value never has to be read back out of the VM.
const ottoShim = `(function (sink) {
	var jar = "";
	var location = { reload: function () {} };
	var document = { location: location };
	Object.defineProperty(document, "cookie", {
		get: function () { return jar; },
		set: function (value) { jar = String(value); sink(jar); },
		enumerable: true
	});
	var window = {};
	return { document: document, location: location, window: window, self: window, navigator: {} };
})`

// ottoGlobals lists the shim properties copied onto the global object.
var ottoGlobals = []string{"document", "location", "window", "self", "navigator"}

// OttoSandbox implements Sandbox on top of the otto pure-Go interpreter.
// It holds no VM of its own and is safe for concurrent use.
type OttoSandbox struct {
	timeout time.Duration
}

// NewOttoSandbox returns an OttoSandbox whose runs are interrupted after
// timeout.
func NewOttoSandbox(timeout time.Duration) *OttoSandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OttoSandbox{timeout: timeout}
}

// Execute runs script in a freshly built otto VM.
func (s *OttoSandbox) Execute(ctx context.Context, script string) (cookie string, err error) {
	var written string
	vm, err := newOttoVM(func(v string) { written = v })
	if err != nil {
		return "", err
	}

	// otto stops a running script by executing a function from the Interrupt
	// channel.  A JS try block swallows the panic and rewraps it as a
	// TypeError, so the cause is kept aside and the interrupt re-arms itself
	// until the VM unwinds.
	var stopped atomic.Pointer[halt]
	vm.Interrupt = make(chan func(), 1)
	var interrupt func()
	interrupt = func() {
		select {
		case vm.Interrupt <- interrupt:
		default:
		}
		panic(*stopped.Load())
	}
	release := watchdog(ctx, s.timeout, func(cause error) {
		stopped.Store(&halt{cause: cause})
		vm.Interrupt <- interrupt
	})
	defer release()

	defer func() {
		if r := recover(); r != nil {
			cookie = ""
			if h := stopped.Load(); h != nil {
				err = h.cause
				return
			}
			err = fmt.Errorf("jschallenge: eval: %v", r)
		}
	}()

	_, runErr := vm.Run(wrapScript(script))
	if h := stopped.Load(); h != nil {
		return "", h.cause
	}
	if runErr != nil {
		return "", fmt.Errorf("jschallenge: eval: %w", runErr)
	}
	return crumbFrom(written)
}

// newOttoVM creates a VM whose globals are exactly the shim objects.
func newOttoVM(sink func(string)) (*otto.Otto, error) {
	vm := otto.New()
	// otto.New installs a console that prints to stdout.
	if _, err := vm.Run("delete console;"); err != nil {
		return nil, fmt.Errorf("jschallenge: bootstrap JS globals: %w", err)
	}

	setup, err := vm.Run(ottoShim)
	if err != nil {
		return nil, fmt.Errorf("jschallenge: bootstrap JS globals: %w", err)
	}
	sinkFn := func(call otto.FunctionCall) otto.Value {
		sink(call.Argument(0).String())
		return otto.UndefinedValue()
	}
	shim, err := setup.Call(otto.UndefinedValue(), sinkFn)
	if err != nil {
		return nil, fmt.Errorf("jschallenge: bootstrap JS globals: %w", err)
	}
	for _, name := range ottoGlobals {
		v, err := shim.Object().Get(name)
		if err != nil {
			return nil, fmt.Errorf("jschallenge: bootstrap %s: %w", name, err)
		}
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("jschallenge: bootstrap %s: %w", name, err)
		}
	}
	return vm, nil
}
