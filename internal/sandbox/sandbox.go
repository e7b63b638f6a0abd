package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// Sandbox owns one isolated goja runtime. A fresh Sandbox is built for
// every inbound request; nothing inside it survives the request.
type Sandbox struct {
	vm      *goja.Runtime
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sandbox with a fresh runtime and the given execution
// deadline.
func New(timeout time.Duration, logger zerolog.Logger) *Sandbox {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &Sandbox{
		vm:      vm,
		timeout: timeout,
		logger:  logger,
	}
}

// VM exposes the underlying runtime to the context builder.
func (s *Sandbox) VM() *goja.Runtime {
	return s.vm
}

// Arm starts the deadline watchdog: when the derived context expires the
// runtime is interrupted, aborting any synchronous execution in flight.
func (s *Sandbox) Arm(ctx context.Context) context.Context {
	s.mu.Lock()
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		select {
		case <-execCtx.Done():
			s.vm.Interrupt("execution interrupted: " + execCtx.Err().Error())
		case <-done:
			return
		}
	}()

	return execCtx
}

// Disarm stops the watchdog and clears any pending interrupt.
func (s *Sandbox) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.vm.ClearInterrupt()
}

// wrapScriptError maps goja error types onto the sandbox error taxonomy.
func wrapScriptError(err error, script string) error {
	if _, ok := err.(*goja.InterruptedError); ok {
		return &ScriptError{Script: script, Cause: ErrTimeout}
	}
	if _, ok := err.(*goja.CompilerSyntaxError); ok {
		return &ScriptError{Script: script, Cause: err}
	}
	if _, ok := err.(*goja.Exception); ok {
		return &ScriptError{Script: script, Cause: err}
	}
	return &ScriptError{Script: script, Cause: err}
}
