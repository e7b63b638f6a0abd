package handlers

import (
	"context"
	"io"
	"net/http"

	"appdock/internal/dispatch"
)

// maxBodySize bounds inbound event payloads.
const maxBodySize = 1 << 20

// EventDispatcher executes one inbound envelope and writes exactly one
// response through the sink.
type EventDispatcher interface {
	Dispatch(ctx context.Context, body []byte, sink dispatch.ResponseSink, tunnelBase string)
}

// EventHandler serves the dispatch entry endpoint.
type EventHandler struct {
	dispatcher EventDispatcher
	tunnelURL  string
}

// NewEventHandler creates the handler. tunnelURL may be empty.
func NewEventHandler(dispatcher EventDispatcher, tunnelURL string) *EventHandler {
	return &EventHandler{dispatcher: dispatcher, tunnelURL: tunnelURL}
}

// Execute handles POST /event/execute.
func (h *EventHandler) Execute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		SendJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":      http.StatusBadRequest,
			"message":     "unreadable request body",
			"errorSource": "PLATFORM",
		})
		return
	}

	h.dispatcher.Dispatch(r.Context(), body, NewSink(w), h.tunnelURL)
}
