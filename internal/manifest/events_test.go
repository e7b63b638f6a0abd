package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testProvider(t *testing.T, m Manifest) *Provider {
	t.Helper()
	p := NewProvider(t.TempDir(), zerolog.Nop())
	p.SetForTest(m)
	return p
}

func TestResolveCallbackFirstMatchWins(t *testing.T) {
	p := testProvider(t, Manifest{
		PfVersion: "2.2.0",
		Products: map[string]Product{
			"helpdesk": {Events: []EventBinding{
				{Event: "onTicketCreate", Callback: "firstHandler"},
				{Event: "onTicketCreate", Callback: "secondHandler"},
				{Event: "onAppInstall", Callback: "installHandler"},
			}},
		},
	})

	cb, ok := p.ResolveCallback("helpdesk", "onTicketCreate")
	if !ok {
		t.Fatal("expected resolution")
	}
	if cb != "firstHandler" {
		t.Errorf("callback = %q, want firstHandler", cb)
	}
}

func TestResolveCallbackUnknownEvent(t *testing.T) {
	p := testProvider(t, Manifest{
		Products: map[string]Product{
			"helpdesk": {Events: []EventBinding{{Event: "onAppInstall", Callback: "h"}}},
		},
	})

	if _, ok := p.ResolveCallback("helpdesk", "onTicketCreate"); ok {
		t.Error("unexpected resolution for unregistered event")
	}
	if _, ok := p.ResolveCallback("crm", "onAppInstall"); ok {
		t.Error("unexpected resolution for unknown product")
	}
}

func TestHasEvent(t *testing.T) {
	p := testProvider(t, Manifest{
		Products: map[string]Product{
			"helpdesk": {Events: []EventBinding{{Event: "onExternalEvent", Callback: "hook"}}},
		},
	})

	if !p.HasEvent("helpdesk", "onExternalEvent") {
		t.Error("registered event not found")
	}
	if p.HasEvent("helpdesk", "onScheduledEvent") {
		t.Error("unregistered event reported present")
	}
}

func TestStrictProductEvents(t *testing.T) {
	cases := []struct {
		name      string
		pfVersion string
		omni      bool
		want      bool
	}{
		{"omni new platform", "2.3.0", true, true},
		{"omni newer platform", "3.0.0", true, true},
		{"omni old platform", "2.2.0", true, false},
		{"plain new platform", "2.3.0", false, false},
		{"missing version", "", true, false},
		{"garbage version", "not-a-version", true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testProvider(t, Manifest{
				PfVersion: tc.pfVersion,
				Products:  map[string]Product{"helpdesk": {OmniMode: tc.omni}},
			})
			if got := p.StrictProductEvents("helpdesk"); got != tc.want {
				t.Errorf("StrictProductEvents = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	data := `{
		"pf_version": "2.3.0",
		"features": ["db", "backend"],
		"product": {
			"helpdesk": {
				"events": [{"event": "onTicketCreate", "callback": "onTicketCreateHandler"}]
			}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(data), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	p := NewProvider(dir, zerolog.Nop())
	if err := p.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !p.HasFeature("db") {
		t.Error("feature db missing")
	}
	cb, ok := p.ResolveCallback("helpdesk", "onTicketCreate")
	if !ok || cb != "onTicketCreateHandler" {
		t.Errorf("resolve = %q/%v, want onTicketCreateHandler", cb, ok)
	}
}

func TestLoadMissingFile(t *testing.T) {
	p := NewProvider(t.TempDir(), zerolog.Nop())
	if err := p.Load(); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestProductsSorted(t *testing.T) {
	p := testProvider(t, Manifest{
		Products: map[string]Product{
			"sales":    {},
			"crm":      {},
			"helpdesk": {},
		},
	})

	got := p.Products()
	want := []string{"crm", "helpdesk", "sales"}
	if len(got) != len(want) {
		t.Fatalf("products = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("products = %v, want %v", got, want)
		}
	}
}
