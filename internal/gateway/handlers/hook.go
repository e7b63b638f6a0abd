package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"appdock/internal/dispatch"
)

// HookHandler turns inbound webhook calls into product events.
type HookHandler struct {
	dispatcher EventDispatcher
	tunnelURL  string
}

// NewHookHandler creates the handler.
func NewHookHandler(dispatcher EventDispatcher, tunnelURL string) *HookHandler {
	return &HookHandler{dispatcher: dispatcher, tunnelURL: tunnelURL}
}

// Receive handles POST /event/hook/{product} and
// POST /event/hook/{product}/{path}. The optional path segment is the
// discriminator the app supplied when it generated the webhook URL; it
// is forwarded untouched so the handler can tell its hooks apart.
func (h *HookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	product := vars["product"]
	if product == "" {
		SendJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":      http.StatusBadRequest,
			"message":     "missing product in webhook URL",
			"errorSource": "PLATFORM",
		})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		SendJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":      http.StatusBadRequest,
			"message":     "unreadable request body",
			"errorSource": "PLATFORM",
		})
		return
	}

	var data interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = string(raw)
		}
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	params, err := json.Marshal(map[string]interface{}{
		"data":    data,
		"headers": headers,
		"path":    vars["path"],
	})
	if err != nil {
		SendJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":      http.StatusInternalServerError,
			"message":     "could not build event payload",
			"errorSource": "PLATFORM",
		})
		return
	}

	env := dispatch.Envelope{
		CategoryName: dispatch.CategoryProductEvent,
		CategoryArgs: dispatch.CategoryArgs{
			MethodName:   "onExternalEvent",
			MethodParams: params,
		},
		Product: product,
	}
	body, err := json.Marshal(env)
	if err != nil {
		SendJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":      http.StatusInternalServerError,
			"message":     "could not build event payload",
			"errorSource": "PLATFORM",
		})
		return
	}

	h.dispatcher.Dispatch(r.Context(), body, NewSink(w), h.tunnelURL)
}
