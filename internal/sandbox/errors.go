// Package sandbox provides the isolated execution environment for
// developer scripts: a per-request goja runtime with a bounded deadline,
// a restricted module loader, and the injected capability surface.
package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for sandbox operations.
var (
	// ErrTimeout indicates script execution exceeded the deadline.
	ErrTimeout = errors.New("sandbox: execution timeout")

	// ErrModuleNotFound indicates a required module could not be
	// resolved inside the permitted roots.
	ErrModuleNotFound = errors.New("sandbox: module not found")

	// ErrMethodNotFound indicates the invoked method does not exist on
	// the script's export table.
	ErrMethodNotFound = errors.New("sandbox: method not found")

	// ErrNotLoaded indicates invocation was attempted before the module
	// was loaded.
	ErrNotLoaded = errors.New("sandbox: module not loaded")
)

// ScriptError wraps a failure raised by developer script code, whether at
// compile time, during top-level execution, or inside a handler.
type ScriptError struct {
	Script string
	Cause  error
}

func (e *ScriptError) Error() string {
	if e.Script != "" {
		return fmt.Sprintf("sandbox: script error in %s: %v", e.Script, e.Cause)
	}
	return fmt.Sprintf("sandbox: script error: %v", e.Cause)
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ScriptError.
func (e *ScriptError) Is(target error) bool {
	_, ok := target.(*ScriptError)
	return ok
}

// ErrScript is a sentinel for errors.Is matching.
var ErrScript = &ScriptError{}
