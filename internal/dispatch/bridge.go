package dispatch

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Error sources distinguish who a failure is attributable to.
const (
	// SourceApp marks failures attributable to developer code.
	SourceApp = "APP"
	// SourcePlatform marks failures attributable to the harness.
	SourcePlatform = "PLATFORM"
)

// msgMalformedCompletion replaces ill-shaped error values passed to the
// completion callback.
const msgMalformedCompletion = "Error object must contain a message or status"

// ResponseSink receives the single JSON response for a request.
type ResponseSink interface {
	WriteResponse(status int, body map[string]interface{})
}

// Bridge converts the script's one completion call into exactly one
// response. A second completion, or one arriving after the wall-clock
// deadline already answered, is a logged no-op.
type Bridge struct {
	requestID string
	sink      ResponseSink
	logger    zerolog.Logger

	mu    sync.Mutex
	sent  bool
	timer *time.Timer
	done  chan struct{}
}

// NewBridge creates a bridge with a generated request identifier.
func NewBridge(sink ResponseSink, logger zerolog.Logger) *Bridge {
	return &Bridge{
		requestID: uuid.NewString(),
		sink:      sink,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// RequestID returns the identifier included in every response shape.
func (b *Bridge) RequestID() string {
	return b.requestID
}

// Done is closed once the response has been written.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Sent reports whether the response has been written.
func (b *Bridge) Sent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// ArmDeadline starts the wall-clock timer that answers with a gateway
// timeout if the script never completes. It is independent of the
// sandbox's execution deadline.
func (b *Bridge) ArmDeadline(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent || b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(d, func() {
		b.write(http.StatusGatewayTimeout, map[string]interface{}{
			"requestID":   b.requestID,
			"status":      http.StatusGatewayTimeout,
			"message":     "Timeout while processing the request",
			"errorSource": SourcePlatform,
		})
	})
}

// Complete handles the script's completion call: an error value produces
// an error response, otherwise the optional output is echoed back.
func (b *Bridge) Complete(errValue, output interface{}) {
	if errValue != nil {
		status, message, ok := normalizeError(errValue)
		if !ok {
			b.write(http.StatusBadRequest, map[string]interface{}{
				"requestID":   b.requestID,
				"status":      http.StatusBadRequest,
				"message":     msgMalformedCompletion,
				"errorSource": SourceApp,
			})
			return
		}
		b.write(status, map[string]interface{}{
			"requestID":   b.requestID,
			"status":      status,
			"message":     message,
			"errorSource": SourceApp,
		})
		return
	}

	body := map[string]interface{}{"requestID": b.requestID}
	if output != nil {
		body["response"] = output
	}
	b.write(http.StatusOK, body)
}

// Fail writes a structured error response attributed to source.
func (b *Bridge) Fail(status int, message, source string) {
	b.write(status, map[string]interface{}{
		"requestID":   b.requestID,
		"status":      status,
		"message":     message,
		"errorSource": source,
	})
}

// write performs the single guarded response write.
func (b *Bridge) write(status int, body map[string]interface{}) {
	b.mu.Lock()
	if b.sent {
		b.mu.Unlock()
		b.logger.Debug().Str("request_id", b.requestID).Msg("suppressed duplicate response")
		return
	}
	b.sent = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	b.sink.WriteResponse(status, body)
	close(b.done)
}

// normalizeError validates the completion error value. Well-formed means
// a JSON object carrying a message or a status; arrays, primitives, and
// objects with neither are malformed and get substituted.
func normalizeError(errValue interface{}) (status int, message string, ok bool) {
	obj, isObj := errValue.(map[string]interface{})
	if !isObj {
		return 0, "", false
	}

	message, hasMessage := obj["message"].(string)
	status = 0
	hasStatus := false
	switch s := obj["status"].(type) {
	case float64:
		status = int(s)
		hasStatus = true
	case int64:
		status = int(s)
		hasStatus = true
	}

	if !hasMessage && !hasStatus {
		return 0, "", false
	}
	if !hasStatus {
		status = http.StatusInternalServerError
	}
	return status, message, true
}
