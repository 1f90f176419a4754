package jschallenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// GojaSandbox implements Sandbox on top of the goja interpreter.  goja is
// faster than otto and understands more modern syntax, which helps with
// challenge scripts produced by newer obfuscators.
type GojaSandbox struct {
	timeout time.Duration
}

// NewGojaSandbox returns a GojaSandbox whose runs are interrupted after
// timeout.
func NewGojaSandbox(timeout time.Duration) *GojaSandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GojaSandbox{timeout: timeout}
}

// Execute runs script in a freshly built goja runtime.
func (s *GojaSandbox) Execute(ctx context.Context, script string) (cookie string, err error) {
	var written string
	vm, err := newGojaVM(func(v string) { written = v })
	if err != nil {
		return "", err
	}

	release := watchdog(ctx, s.timeout, func(cause error) {
		vm.Interrupt(halt{cause: cause})
	})
	defer release()

	defer func() {
		if r := recover(); r != nil {
			cookie = ""
			err = fmt.Errorf("jschallenge: eval: %v", r)
		}
	}()

	if _, err := vm.RunString(wrapScript(script)); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if h, ok := interrupted.Value().(halt); ok {
				return "", h.cause
			}
		}
		return "", fmt.Errorf("jschallenge: eval: %w", err)
	}
	return crumbFrom(written)
}

// newGojaVM creates a runtime whose globals are exactly the shim objects.
func newGojaVM(sink func(string)) (*goja.Runtime, error) {
	vm := goja.New()

	// The runtime ships no require/process/console; only the shim is added.
	jar := ""
	location := vm.NewObject()
	if err := location.Set("reload", func(goja.FunctionCall) goja.Value { return goja.Undefined() }); err != nil {
		return nil, fmt.Errorf("jschallenge: bootstrap location: %w", err)
	}

	document := vm.NewObject()
	getter := vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(jar) })
	setter := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		jar = call.Argument(0).String()
		sink(jar)
		return goja.Undefined()
	})
	if err := document.DefineAccessorProperty("cookie", getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return nil, fmt.Errorf("jschallenge: bootstrap document.cookie: %w", err)
	}
	if err := document.Set("location", location); err != nil {
		return nil, fmt.Errorf("jschallenge: bootstrap document.location: %w", err)
	}

	window := vm.NewObject()
	globals := map[string]interface{}{
		"document":  document,
		"location":  location,
		"window":    window,
		"self":      window,
		"navigator": vm.NewObject(),
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("jschallenge: bootstrap %s: %w", name, err)
		}
	}
	return vm, nil
}
