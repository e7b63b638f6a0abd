package dispatch

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"appdock/internal/config"
	"appdock/internal/manifest"
	"appdock/internal/scheduler"
	"appdock/internal/storage"
)

const testServerScript = `
exports = {
	onTicketCreateHandler: function(args) {
		renderData(null, { echoed: args.subject });
	},
	onAppInstallHandler: function(args) {
		renderData();
	},
	failingHandler: function(args) {
		renderData({ status: 403, message: "not allowed" });
	},
	malformedHandler: function(args) {
		renderData(["not", "an", "object"]);
	},
	throwingHandler: function(args) {
		throw new Error("boom");
	},
	silentHandler: function(args) {
		// Never calls renderData.
	}
};
module.exports = exports;
`

const testManifest = `{
	"pf_version": "2.3.0",
	"product": {
		"helpdesk": {
			"events": [
				{"event": "onTicketCreate", "callback": "onTicketCreateHandler"},
				{"event": "onAppInstall", "callback": "onAppInstallHandler"}
			]
		},
		"omni": {
			"omni_mode": true,
			"events": []
		}
	}
}`

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "server.js"), []byte(testServerScript), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	cfg := config.Default()
	cfg.App.Dir = dir
	cfg.App.ScriptDir = ""
	cfg.App.DepsDir = "deps"
	cfg.App.ServerFile = "server.js"
	cfg.Sandbox.RequestTimeout = time.Second
	cfg.Sandbox.AppEventTimeout = time.Second
	cfg.Sandbox.ProductEventTimeout = time.Second

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mfst := manifest.NewProvider(dir, zerolog.Nop())
	if err := mfst.Load(); err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	sched := scheduler.NewManager(scheduler.NewStore(db), "http://localhost:0/event/execute", zerolog.Nop())

	return New(Options{
		Config:   cfg,
		DB:       db,
		Schedule: sched,
		Manifest: mfst,
		Logger:   zerolog.Nop(),
	})
}

func dispatchBody(t *testing.T, d *Dispatcher, body string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	d.Dispatch(context.Background(), []byte(body), sink, "")
	if sink.count() != 1 {
		t.Fatalf("writes = %d, want exactly 1", sink.count())
	}
	return sink
}

func TestDispatchRequestSuccess(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "request",
		"categoryArgs": {
			"methodName": "onTicketCreateHandler",
			"methodParams": {"subject": "printer on fire"}
		}
	}`)

	w := sink.last(t)
	if w.status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", w.status, w.body)
	}
	out, ok := w.body["response"].(map[string]interface{})
	if !ok || out["echoed"] != "printer on fire" {
		t.Errorf("response = %v", w.body["response"])
	}
	if _, ok := w.body["requestID"].(string); !ok {
		t.Error("requestID missing")
	}
}

func TestDispatchMissingCategory(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{"categoryArgs": {"methodName": "x"}}`)

	w := sink.last(t)
	if w.status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.status)
	}
	if w.body["errorSource"] != SourcePlatform {
		t.Errorf("errorSource = %v, want PLATFORM", w.body["errorSource"])
	}
	if _, ok := w.body["requestID"].(string); !ok {
		t.Error("requestID missing")
	}
	if _, ok := w.body["message"].(string); !ok {
		t.Error("message missing")
	}
}

func TestDispatchUnknownCategory(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{"categoryName": "mystery", "categoryArgs": {"methodName": "x"}}`)
	if sink.last(t).status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", sink.last(t).status)
	}
}

func TestDispatchGarbageBody(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{{{`)
	w := sink.last(t)
	if w.status != http.StatusInternalServerError || w.body["errorSource"] != SourcePlatform {
		t.Errorf("write = %v %v", w.status, w.body)
	}
}

func TestDispatchAppEventResolved(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "appEvent",
		"categoryArgs": {"methodName": "onAppInstall", "methodParams": {}},
		"product": "helpdesk"
	}`)
	if sink.last(t).status != http.StatusOK {
		t.Errorf("status = %d, body = %v", sink.last(t).status, sink.last(t).body)
	}
}

func TestDispatchAppEventNotRegisteredIsGraceful(t *testing.T) {
	d := testDispatcher(t)

	// onAppUninstall is not in the events table: a lifecycle event with no
	// handler answers with the supplied default body instead of an error.
	sink := dispatchBody(t, d, `{
		"categoryName": "appEvent",
		"categoryArgs": {"methodName": "onAppUninstall", "methodParams": {}},
		"product": "helpdesk",
		"defaultBody": {"skipped": true}
	}`)

	w := sink.last(t)
	if w.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.status)
	}
	out, ok := w.body["response"].(map[string]interface{})
	if !ok || out["skipped"] != true {
		t.Errorf("response = %v, want default body", w.body["response"])
	}
}

func TestDispatchProductEventNotRegisteredGracefulByDefault(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "productEvent",
		"categoryArgs": {"methodName": "onConversationCreate", "methodParams": {}},
		"product": "helpdesk"
	}`)
	if sink.last(t).status != http.StatusOK {
		t.Errorf("status = %d, want graceful 200", sink.last(t).status)
	}
}

func TestDispatchProductEventMissingRegistrationFatalForOmni(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "productEvent",
		"categoryArgs": {"methodName": "onConversationCreate", "methodParams": {}},
		"product": "omni"
	}`)

	w := sink.last(t)
	if w.status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.status)
	}
	if w.body["errorSource"] != SourceApp {
		t.Errorf("errorSource = %v, want APP", w.body["errorSource"])
	}
}

func TestDispatchScriptCompletionError(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "request",
		"categoryArgs": {"methodName": "failingHandler", "methodParams": {}}
	}`)

	w := sink.last(t)
	if w.status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.status)
	}
	if w.body["message"] != "not allowed" || w.body["errorSource"] != SourceApp {
		t.Errorf("body = %v", w.body)
	}
}

func TestDispatchMalformedCompletionError(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "request",
		"categoryArgs": {"methodName": "malformedHandler", "methodParams": {}}
	}`)

	w := sink.last(t)
	if w.status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.status)
	}
	if w.body["message"] != msgMalformedCompletion {
		t.Errorf("message = %v", w.body["message"])
	}
}

func TestDispatchHandlerThrows(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "request",
		"categoryArgs": {"methodName": "throwingHandler", "methodParams": {}}
	}`)

	w := sink.last(t)
	if w.status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.status)
	}
	if w.body["errorSource"] != SourceApp {
		t.Errorf("errorSource = %v, want APP", w.body["errorSource"])
	}
}

func TestDispatchMethodNotExported(t *testing.T) {
	d := testDispatcher(t)

	sink := dispatchBody(t, d, `{
		"categoryName": "request",
		"categoryArgs": {"methodName": "ghostHandler", "methodParams": {}}
	}`)

	w := sink.last(t)
	if w.status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.status)
	}
	if w.body["errorSource"] != SourceApp {
		t.Errorf("errorSource = %v, want APP", w.body["errorSource"])
	}
}

func TestDispatchSilentHandlerTimesOutOnWallClock(t *testing.T) {
	d := testDispatcher(t)

	// Keep the wall-clock wait short.
	d.cfg.Sandbox.RequestTimeout = 50 * time.Millisecond

	sink := &recordingSink{}
	start := time.Now()
	d.Dispatch(context.Background(), []byte(`{
		"categoryName": "request",
		"categoryArgs": {"methodName": "silentHandler", "methodParams": {}}
	}`), sink, "")
	elapsed := time.Since(start)

	w := sink.last(t)
	if w.status != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.status)
	}
	if w.body["errorSource"] != SourcePlatform {
		t.Errorf("errorSource = %v, want PLATFORM", w.body["errorSource"])
	}
	if elapsed > 10*time.Second {
		t.Errorf("dispatch blocked %v", elapsed)
	}
}

func TestDispatchTimeoutOverrideFromEnvelope(t *testing.T) {
	cfg := config.Default()
	env := &Envelope{CategoryName: CategoryRequest, TimeoutMS: 1234}
	if got := categoryTimeout(env, cfg.Sandbox); got != 1234*time.Millisecond {
		t.Errorf("timeout = %v, want 1.234s", got)
	}

	env = &Envelope{CategoryName: CategoryAppEvent}
	if got := categoryTimeout(env, cfg.Sandbox); got != cfg.Sandbox.AppEventTimeout {
		t.Errorf("timeout = %v, want app event default", got)
	}

	env = &Envelope{CategoryName: CategoryProductEvent}
	if got := categoryTimeout(env, cfg.Sandbox); got != cfg.Sandbox.ProductEventTimeout {
		t.Errorf("timeout = %v, want product event default", got)
	}
}
