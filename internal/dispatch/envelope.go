// Package dispatch classifies inbound events, drives the sandboxed
// two-phase execution protocol, and bridges the script's completion
// callback into exactly one HTTP response.
package dispatch

import (
	"encoding/json"
)

// Category names a dispatch path.
type Category string

// The three dispatch categories.
const (
	// CategoryRequest is an ad hoc call, e.g. front-end initiated.
	CategoryRequest Category = "request"
	// CategoryAppEvent is an install/uninstall lifecycle event.
	CategoryAppEvent Category = "appEvent"
	// CategoryProductEvent is an external product callback, scheduled
	// trigger, or webhook.
	CategoryProductEvent Category = "productEvent"
)

// Valid reports whether the category is one of the three known paths.
func (c Category) Valid() bool {
	switch c {
	case CategoryRequest, CategoryAppEvent, CategoryProductEvent:
		return true
	}
	return false
}

// CategoryArgs carries the target method and its arguments.
type CategoryArgs struct {
	MethodName   string          `json:"methodName"`
	MethodParams json.RawMessage `json:"methodParams,omitempty"`
}

// Envelope is the structured description of one dispatch request. It is
// built once per inbound call and never mutated.
type Envelope struct {
	CategoryName Category     `json:"categoryName"`
	CategoryArgs CategoryArgs `json:"categoryArgs"`

	// TimeoutMS overrides the category's default execution deadline.
	TimeoutMS int `json:"timeout,omitempty"`

	// Product selects the registered-events table. Empty falls back to
	// the first product in the manifest.
	Product string `json:"product,omitempty"`

	// DefaultBody is returned verbatim when an appEvent's method is not
	// registered, which is "feature not configured" rather than an error.
	DefaultBody json.RawMessage `json:"defaultBody,omitempty"`

	// InstallContext marks installation-page invocations, during which
	// the stateful capabilities are withheld.
	InstallContext bool `json:"installContext,omitempty"`
}
