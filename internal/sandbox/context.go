package sandbox

import (
	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"appdock/internal/capability"
	"appdock/internal/coverage"
)

// Env describes the restricted global environment assembled for one
// request's script execution.
type Env struct {
	Loader       *Loader
	Capabilities *capability.Context
	Collector    *coverage.Collector
	ScriptRoot   string
	Logger       zerolog.Logger

	// RenderData is the completion entry point. It is the only channel
	// through which developer code communicates a result; synchronous
	// return values are never consulted.
	RenderData func(errValue, output interface{})
}

// BuildContext wires the environment into the sandbox's global scope:
// the console subset, the module loader, a pinned working directory, the
// coverage accumulator, the capability surface, and the completion
// callback.
func BuildContext(s *Sandbox, env Env) error {
	vm := s.VM()

	if err := registerConsole(vm, env.Logger); err != nil {
		return err
	}

	if env.Loader != nil {
		if err := env.Loader.Register(vm); err != nil {
			return err
		}
	}

	process := vm.NewObject()
	scriptRoot := env.ScriptRoot
	_ = process.Set("cwd", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(scriptRoot)
	})
	if err := vm.Set("process", process); err != nil {
		return err
	}

	if err := vm.Set("__coverage__", vm.NewObject()); err != nil {
		return err
	}

	if env.Capabilities != nil {
		if err := capability.Register(vm, env.Capabilities); err != nil {
			return err
		}
	}

	renderData := env.RenderData
	return vm.Set("renderData", func(call goja.FunctionCall) goja.Value {
		if renderData == nil {
			return goja.Undefined()
		}
		var errValue, output interface{}
		if len(call.Arguments) > 0 {
			arg := call.Arguments[0]
			if arg != nil && !goja.IsUndefined(arg) && !goja.IsNull(arg) {
				errValue = arg.Export()
			}
		}
		if len(call.Arguments) > 1 {
			arg := call.Arguments[1]
			if arg != nil && !goja.IsUndefined(arg) && !goja.IsNull(arg) {
				output = arg.Export()
			}
		}
		renderData(errValue, output)
		return goja.Undefined()
	})
}

// HarvestCoverage exports the accumulator and records the per-file counts
// into the collector. Called once the request's execution has settled.
func HarvestCoverage(s *Sandbox, collector *coverage.Collector) {
	if collector == nil {
		return
	}
	raw := s.VM().Get("__coverage__")
	if raw == nil || goja.IsUndefined(raw) || goja.IsNull(raw) {
		return
	}
	snapshot, ok := raw.Export().(map[string]interface{})
	if !ok {
		return
	}
	for path, v := range snapshot {
		switch n := v.(type) {
		case int64:
			collector.Record(path, n)
		case float64:
			collector.Record(path, int64(n))
		}
	}
}
