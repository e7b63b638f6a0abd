package capability

import (
	"github.com/dop251/goja"
)

// resolved returns a promise already resolved with value. Capability
// operations complete synchronously on the VM goroutine, so settling
// before returning is safe; the script's reaction callbacks run when the
// current invocation unwinds.
func resolved(vm *goja.Runtime, value interface{}) goja.Value {
	promise, resolve, _ := vm.NewPromise()
	resolve(value)
	return vm.ToValue(promise)
}

// rejected returns a promise already rejected with the given failure value.
func rejected(vm *goja.Runtime, value interface{}) goja.Value {
	promise, _, reject := vm.NewPromise()
	reject(value)
	return vm.ToValue(promise)
}

// rejectedResult returns a promise rejected with a {status, message} value.
func rejectedResult(vm *goja.Runtime, status int, message string) goja.Value {
	return rejected(vm, map[string]interface{}{
		"status":  status,
		"message": message,
	})
}

// resolvedResult returns a promise resolved with a {status, message} value.
func resolvedResult(vm *goja.Runtime, status int, message string) goja.Value {
	return resolved(vm, map[string]interface{}{
		"status":  status,
		"message": message,
	})
}
