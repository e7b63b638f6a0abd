package capability

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dop251/goja"

	"appdock/internal/storage"
)

// maxRecordSize bounds the serialized value accepted by the data store.
const maxRecordSize = 8 * 1024

// registerDB injects the $db capability: store/fetch/update/delete over
// the local key-value store, namespaced per product.
func registerDB(vm *goja.Runtime, cctx *Context) error {
	dbObj := vm.NewObject()

	_ = dbObj.Set("store", func(call goja.FunctionCall) goja.Value {
		key, ok := recordKey(cctx, call)
		if !ok {
			return rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
		}
		if len(call.Arguments) < 2 {
			return rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
		}

		value := call.Arguments[1].Export()
		if _, isObj := value.(map[string]interface{}); !isObj {
			return rejectedResult(vm, http.StatusBadRequest, "The value must be of type JSON object")
		}

		data, err := json.Marshal(value)
		if err != nil {
			return rejectedResult(vm, http.StatusBadRequest, "The value could not be serialized")
		}
		if len(data) > maxRecordSize {
			return rejectedResult(vm, http.StatusBadRequest, "Payload exceeds maximum size")
		}

		var ttl time.Duration
		if len(call.Arguments) > 2 {
			if opts, ok := call.Arguments[2].Export().(map[string]interface{}); ok {
				if secs, ok := opts["ttl"].(float64); ok && secs > 0 {
					ttl = time.Duration(secs * float64(time.Second))
				}
			}
		}

		if err := cctx.DB.StoreRecord(key, data, ttl); err != nil {
			cctx.Logger.Error().Err(err).Str("key", key).Msg("db store failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to store record")
		}
		return resolved(vm, map[string]interface{}{"Created": true})
	})

	_ = dbObj.Set("fetch", func(call goja.FunctionCall) goja.Value {
		key, ok := recordKey(cctx, call)
		if !ok {
			return rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
		}

		raw, err := cctx.DB.FetchRecord(key)
		if errors.Is(err, storage.ErrNotFound) {
			return rejectedResult(vm, http.StatusNotFound, "Record not found")
		}
		if err != nil {
			cctx.Logger.Error().Err(err).Str("key", key).Msg("db fetch failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to fetch record")
		}

		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return rejectedResult(vm, http.StatusInternalServerError, "Stored record is corrupted")
		}
		return resolved(vm, value)
	})

	_ = dbObj.Set("update", func(call goja.FunctionCall) goja.Value {
		key, ok := recordKey(cctx, call)
		if !ok || len(call.Arguments) < 3 {
			return rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
		}

		op := call.Arguments[1].String()
		attrs, ok := call.Arguments[2].Export().(map[string]interface{})
		if !ok {
			return rejectedResult(vm, http.StatusBadRequest, "The attributes must be of type JSON object")
		}

		err := cctx.DB.UpdateRecord(key, op, attrs)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return rejectedResult(vm, http.StatusNotFound, "Record not found")
		case errors.Is(err, storage.ErrInvalidOp), errors.Is(err, storage.ErrNotObject):
			return rejectedResult(vm, http.StatusBadRequest, err.Error())
		case err != nil:
			cctx.Logger.Error().Err(err).Str("key", key).Msg("db update failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to update record")
		}
		return resolved(vm, map[string]interface{}{"Modified": true})
	})

	_ = dbObj.Set("delete", func(call goja.FunctionCall) goja.Value {
		key, ok := recordKey(cctx, call)
		if !ok {
			return rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
		}

		err := cctx.DB.DeleteRecord(key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			cctx.Logger.Error().Err(err).Str("key", key).Msg("db delete failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to delete record")
		}
		return resolved(vm, map[string]interface{}{"Deleted": true})
	})

	return vm.Set("$db", dbObj)
}

// recordKey extracts the key argument and namespaces it by product so
// concurrent apps for different products cannot collide.
func recordKey(cctx *Context, call goja.FunctionCall) (string, bool) {
	if len(call.Arguments) < 1 {
		return "", false
	}
	key := call.Arguments[0].String()
	if key == "" || key == "undefined" || key == "null" {
		return "", false
	}
	return cctx.Product + ":" + key, true
}
