package sandbox

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// registerConsole injects the restricted console available to scripts:
// log, info, and error only. The host console is never exposed.
func registerConsole(vm *goja.Runtime, logger zerolog.Logger) error {
	console := vm.NewObject()

	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		logger.Info().Msg(formatConsoleArgs(call.Arguments))
		return goja.Undefined()
	})
	_ = console.Set("info", func(call goja.FunctionCall) goja.Value {
		logger.Info().Msg(formatConsoleArgs(call.Arguments))
		return goja.Undefined()
	})
	_ = console.Set("error", func(call goja.FunctionCall) goja.Value {
		logger.Error().Msg(formatConsoleArgs(call.Arguments))
		return goja.Undefined()
	})

	return vm.Set("console", console)
}

// formatConsoleArgs joins arguments with spaces, console.log style.
func formatConsoleArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatConsoleValue(arg)
	}
	result := ""
	for i, p := range parts {
		if i > 0 {
			result += " "
		}
		result += p
	}
	return result
}

func formatConsoleValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch val := v.Export().(type) {
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
