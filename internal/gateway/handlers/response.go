// Package handlers provides the gateway's HTTP handlers.
package handlers

import (
	"encoding/json"
	"net/http"
)

// SendJSON writes a JSON response with the given status code.
func SendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Sink adapts an http.ResponseWriter to the dispatcher's response
// contract. The dispatcher guarantees a single write per request, so
// the adapter carries no guard of its own.
type Sink struct {
	w http.ResponseWriter
}

// NewSink wraps the writer.
func NewSink(w http.ResponseWriter) *Sink {
	return &Sink{w: w}
}

// WriteResponse emits the dispatch result as JSON.
func (s *Sink) WriteResponse(status int, body map[string]interface{}) {
	SendJSON(s.w, status, body)
}
