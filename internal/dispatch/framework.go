package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"appdock/internal/capability"
	"appdock/internal/sandbox"
)

const (
	msgScriptFailed   = "Error while executing the app script"
	msgMethodMissing  = "The requested handler is not exported by the app"
	msgEventMissing   = "The event is not registered in the app manifest"
	msgScriptTimedOut = "Timeout while processing the request"
)

// run drives one envelope through the two-phase protocol: resolve the
// callback, assemble a fresh sandbox, load the app module, invoke the
// handler, and hold the request open until the bridge has answered.
func (d *Dispatcher) run(ctx context.Context, env *Envelope, bridge *Bridge, baseURL string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("request_id", bridge.RequestID()).
				Msg("dispatch panicked")
			bridge.Fail(http.StatusInternalServerError, msgScriptFailed, SourcePlatform)
		}
	}()

	product := env.Product
	if product == "" {
		if products := d.manifest.Products(); len(products) > 0 {
			product = products[0]
		}
	}

	method, res := resolveMethod(env, d.manifest, product)
	switch res {
	case resolveNotConfigured:
		bridge.Complete(nil, decodeDefaultBody(env.DefaultBody))
		return
	case resolveMissing:
		bridge.Fail(http.StatusInternalServerError, msgEventMissing, SourceApp)
		return
	}

	entry := filepath.Join(d.cfg.App.ScriptRoot(), d.cfg.App.ServerFile)
	source, err := os.ReadFile(entry)
	if err != nil {
		d.logger.Error().Err(err).Str("path", entry).Msg("app script unreadable")
		bridge.Fail(http.StatusInternalServerError, msgScriptFailed, SourcePlatform)
		return
	}
	instrumented, err := d.instrumenter.Instrument(string(source), entry)
	if err != nil {
		d.logger.Error().Err(err).Str("path", entry).Msg("instrumentation failed")
		bridge.Fail(http.StatusInternalServerError, msgScriptFailed, SourcePlatform)
		return
	}
	if d.collector != nil {
		d.collector.Record(entry, 1)
	}

	sbx := sandbox.New(categoryTimeout(env, d.cfg.Sandbox), d.logger)
	execCtx := sbx.Arm(ctx)
	defer sbx.Disarm()

	executor := sandbox.NewExecutor(sbx, d.logger)
	cctx := &capability.Context{
		Ctx:      execCtx,
		Product:  product,
		DB:       d.db,
		Schedule: d.schedule,
		Manifest: d.manifest,
		OAuth:    d.oauth,
		Proxy: capability.ProxyConfig{
			Timeout:    d.cfg.Proxy.Timeout,
			MaxRetries: d.cfg.Proxy.MaxRetries,
			RetryDelay: d.cfg.Proxy.RetryDelay,
		},
		Logger:         d.logger,
		BaseURL:        baseURL,
		CurrentEvent:   env.CategoryArgs.MethodName,
		InstallContext: env.InstallContext,
	}

	loader := sandbox.NewLoader(d.cfg.App.ScriptRoot(), d.cfg.App.DepsRoot(),
		d.instrumenter, d.collector, d.logger)
	err = sandbox.BuildContext(sbx, sandbox.Env{
		Loader:       loader,
		Capabilities: cctx,
		Collector:    d.collector,
		ScriptRoot:   d.cfg.App.ScriptRoot(),
		Logger:       d.logger,
		RenderData: func(errValue, output interface{}) {
			executor.MarkCompleted()
			bridge.Complete(errValue, output)
		},
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("sandbox context assembly failed")
		bridge.Fail(http.StatusInternalServerError, msgScriptFailed, SourcePlatform)
		return
	}

	bridge.ArmDeadline(wallClockDeadline(env, d.cfg.Sandbox))

	if err := executor.LoadModule(instrumented, entry); err != nil {
		d.failScript(bridge, err)
		return
	}
	if err := executor.Invoke(method, env.CategoryArgs.MethodParams); err != nil {
		d.failScript(bridge, err)
		return
	}

	// The handler may settle asynchronously through a capability
	// promise; the bridge's own deadline guarantees this unblocks.
	<-bridge.Done()

	sandbox.HarvestCoverage(sbx, d.collector)
	d.logger.Debug().
		Str("request_id", bridge.RequestID()).
		Str("method", method).
		Str("state", string(executor.State())).
		Msg("dispatch finished")
}

// failScript maps a load/invoke failure onto the bridge. Everything the
// developer's code caused is attributed to the app.
func (d *Dispatcher) failScript(bridge *Bridge, err error) {
	d.logger.Warn().Err(err).Str("request_id", bridge.RequestID()).Msg("script execution failed")
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		bridge.Fail(http.StatusGatewayTimeout, msgScriptTimedOut, SourceApp)
	case errors.Is(err, sandbox.ErrMethodNotFound):
		bridge.Fail(http.StatusNotFound, msgMethodMissing, SourceApp)
	case errors.Is(err, sandbox.ErrScript), errors.Is(err, sandbox.ErrModuleNotFound):
		bridge.Fail(http.StatusInternalServerError, msgScriptFailed, SourceApp)
	default:
		bridge.Fail(http.StatusInternalServerError, msgScriptFailed, SourcePlatform)
	}
}

// decodeDefaultBody turns the envelope's raw default body into a value
// for the success response. Unparseable or absent bodies degrade to nil.
func decodeDefaultBody(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
