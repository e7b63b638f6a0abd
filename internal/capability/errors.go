// Package capability implements the constrained APIs injected into the
// sandboxed script: data store, outbound request proxy, schedule manager,
// and webhook target URL generation.
package capability

import (
	"errors"
	"fmt"
)

// Sentinel errors for capability wiring. Expected operation failures are
// not errors in this sense; they travel as rejected Results.
var (
	// ErrUnknownCapability indicates a request for a capability that does
	// not exist. This is a programmer error, not a script failure.
	ErrUnknownCapability = errors.New("capability: unknown capability")
)

// Result is the structured failure (or acknowledgement) value every
// capability operation settles with.
type Result struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (r Result) Error() string {
	return fmt.Sprintf("capability: %d %s", r.Status, r.Message)
}

// Fixed validation messages for the request capability.
const (
	MsgMustBeHTTPS    = "Invalid URL - Must be HTTPS"
	MsgIPDisallowed   = "Invalid URL - IP is disallowed"
	MsgMustBeFQDN     = "Invalid URL - Must be FQDN"
	MsgInvalidOptions = "invalid options"
)
