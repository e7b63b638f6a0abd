package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// State names the executor's position in its lifecycle.
type State string

// Executor states. Loading and invocation each advance the state; any
// failure parks it in StateErrored or StateTimedOut.
const (
	StateUninitialized State = "uninitialized"
	StateModuleLoaded  State = "module-loaded"
	StateMethodInvoked State = "method-invoked"
	StateCompleted     State = "completed"
	StateTimedOut      State = "timed-out"
	StateErrored       State = "errored"
)

// Executor drives the two-phase protocol against one sandbox: load the
// app module to obtain its export table, then invoke one named handler.
type Executor struct {
	sandbox *Sandbox
	logger  zerolog.Logger

	state   State
	exports *goja.Object
}

// NewExecutor creates an executor bound to the sandbox.
func NewExecutor(s *Sandbox, logger zerolog.Logger) *Executor {
	return &Executor{
		sandbox: s,
		logger:  logger,
		state:   StateUninitialized,
	}
}

// State returns the executor's current state.
func (e *Executor) State() State {
	return e.state
}

// MarkCompleted records that the script signalled completion.
func (e *Executor) MarkCompleted() {
	e.state = StateCompleted
}

// LoadModule compiles and runs the app script, capturing its export
// table. Compilation and top-level execution errors park the executor in
// StateErrored (or StateTimedOut when the deadline interrupted it).
func (e *Executor) LoadModule(source, name string) error {
	if e.state != StateUninitialized {
		return fmt.Errorf("sandbox: load in state %s", e.state)
	}

	vm := e.sandbox.VM()

	wrapped := "(function(exports, module, require) {\n" + source + "\n})"
	fnValue, err := vm.RunScript(name, wrapped)
	if err != nil {
		return e.fail(err, name)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		e.state = StateErrored
		return &ScriptError{Script: name, Cause: fmt.Errorf("module did not compile to a function")}
	}

	exports := vm.NewObject()
	moduleObj := vm.NewObject()
	_ = moduleObj.Set("exports", exports)

	requireFn := vm.Get("require")
	if requireFn == nil {
		requireFn = goja.Undefined()
	}

	if _, err := fn(goja.Undefined(), exports, moduleObj, requireFn); err != nil {
		return e.fail(err, name)
	}

	table, ok := moduleObj.Get("exports").(*goja.Object)
	if !ok {
		e.state = StateErrored
		return &ScriptError{Script: name, Cause: fmt.Errorf("module exports is not an object")}
	}

	e.exports = table
	e.state = StateModuleLoaded
	e.logger.Debug().Str("script", name).Msg("module loaded")
	return nil
}

// Invoke looks up method on the captured export table and calls it with
// the deserialized arguments. A missing method is a script-author error
// (ErrMethodNotFound), never a host crash. The handler's return value is
// not consulted; completion arrives only through the injected callback.
func (e *Executor) Invoke(method string, paramsJSON json.RawMessage) error {
	if e.state != StateModuleLoaded {
		return ErrNotLoaded
	}

	vm := e.sandbox.VM()

	handlerValue := e.exports.Get(method)
	handler, ok := goja.AssertFunction(handlerValue)
	if !ok {
		e.state = StateErrored
		return fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	var params interface{}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &params); err != nil {
			e.state = StateErrored
			return fmt.Errorf("sandbox: invalid method params: %w", err)
		}
	}

	e.state = StateMethodInvoked
	if _, err := handler(e.exports, vm.ToValue(params)); err != nil {
		return e.fail(err, method)
	}
	return nil
}

// fail records the terminal state for err and returns the wrapped error.
func (e *Executor) fail(err error, script string) error {
	wrapped := wrapScriptError(err, script)
	if se, ok := wrapped.(*ScriptError); ok && se.Cause == ErrTimeout {
		e.state = StateTimedOut
	} else {
		e.state = StateErrored
	}
	return wrapped
}
