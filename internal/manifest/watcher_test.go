package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	write := func(callback string) {
		t.Helper()
		data := `{"product": {"helpdesk": {"events": [{"event": "onTicketCreate", "callback": "` + callback + `"}]}}}`
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("v1Handler")

	p := NewProvider(dir, zerolog.Nop())
	if err := p.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	w := NewWatcher(p)
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Close()

	write("v2Handler")

	deadline := time.After(3 * time.Second)
	for {
		if cb, _ := p.ResolveCallback("helpdesk", "onTicketCreate"); cb == "v2Handler" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("watcher never picked up the manifest change")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
