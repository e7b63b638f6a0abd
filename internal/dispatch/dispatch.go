package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"appdock/internal/config"
	"appdock/internal/coverage"
	"appdock/internal/manifest"
	"appdock/internal/oauth"
	"appdock/internal/scheduler"
	"appdock/internal/storage"
)

const (
	msgMissingCategory = "The event category is missing in the request"
	msgUnknownCategory = "Unknown event category"
	msgBadEnvelope     = "Malformed event payload"
)

// Dispatcher owns the long-lived collaborators shared by every request
// and builds the per-request machinery around each envelope.
type Dispatcher struct {
	cfg          *config.Config
	db           *storage.DB
	schedule     *scheduler.Manager
	manifest     *manifest.Provider
	oauth        *oauth.Manager
	instrumenter coverage.Instrumenter
	collector    *coverage.Collector
	logger       zerolog.Logger
}

// Options collects the dispatcher's collaborators.
type Options struct {
	Config       *config.Config
	DB           *storage.DB
	Schedule     *scheduler.Manager
	Manifest     *manifest.Provider
	OAuth        *oauth.Manager
	Instrumenter coverage.Instrumenter
	Collector    *coverage.Collector
	Logger       zerolog.Logger
}

// New creates a dispatcher. A nil instrumenter degrades to pass-through.
func New(opts Options) *Dispatcher {
	if opts.Instrumenter == nil {
		opts.Instrumenter = coverage.NopInstrumenter{}
	}
	return &Dispatcher{
		cfg:          opts.Config,
		db:           opts.DB,
		schedule:     opts.Schedule,
		manifest:     opts.Manifest,
		oauth:        opts.OAuth,
		instrumenter: opts.Instrumenter,
		collector:    opts.Collector,
		logger:       opts.Logger,
	}
}

// Dispatch parses the inbound body into an envelope and executes it,
// writing exactly one response through sink. tunnelBase, when non-empty,
// overrides the configured base URL for generated webhook targets.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte, sink ResponseSink, tunnelBase string) {
	bridge := NewBridge(sink, d.logger)

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		bridge.Fail(http.StatusInternalServerError, msgBadEnvelope, SourcePlatform)
		return
	}
	if env.CategoryName == "" {
		bridge.Fail(http.StatusInternalServerError, msgMissingCategory, SourcePlatform)
		return
	}
	if !env.CategoryName.Valid() {
		bridge.Fail(http.StatusInternalServerError, msgUnknownCategory, SourcePlatform)
		return
	}

	baseURL := d.cfg.Gateway.BaseURL()
	if tunnelBase != "" {
		baseURL = tunnelBase
	}

	d.logger.Info().
		Str("request_id", bridge.RequestID()).
		Str("category", string(env.CategoryName)).
		Str("method", env.CategoryArgs.MethodName).
		Msg("dispatching event")

	d.run(ctx, &env, bridge, baseURL)
}
