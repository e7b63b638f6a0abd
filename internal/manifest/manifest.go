// Package manifest loads and watches the app manifest, including the
// registered events table consulted during dispatch.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// EventBinding maps a logical event name to the exported callback name.
type EventBinding struct {
	Event    string `json:"event"`
	Callback string `json:"callback"`
}

// Product holds the per-product manifest section.
type Product struct {
	// Events is the ordered registered-events table. Order matters: the
	// first binding whose event name matches wins during dispatch.
	Events []EventBinding `json:"events"`
	// OmniMode marks the product as participating in omni-product dispatch,
	// where a missing event registration is a hard error.
	OmniMode bool `json:"omni_mode,omitempty"`
}

// Manifest is the parsed app manifest.
type Manifest struct {
	PfVersion string             `json:"pf_version"`
	Features  []string           `json:"features,omitempty"`
	Products  map[string]Product `json:"product"`
}

// Provider owns the process-wide manifest state. It is loaded once at
// startup and refreshed by Reload, typically driven by the file watcher.
type Provider struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	manifest Manifest
}

// NewProvider creates a provider reading manifest.json under appDir.
func NewProvider(appDir string, logger zerolog.Logger) *Provider {
	return &Provider{
		path:   filepath.Join(appDir, "manifest.json"),
		logger: logger,
	}
}

// Load parses the manifest file. It must be called before the provider
// is consulted.
func (p *Provider) Load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("manifest: read %s: %w", p.path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("manifest: parse %s: %w", p.path, err)
	}
	if m.Products == nil {
		m.Products = make(map[string]Product)
	}

	p.mu.Lock()
	p.manifest = m
	p.mu.Unlock()

	p.logger.Debug().Str("path", p.path).Int("products", len(m.Products)).Msg("manifest loaded")
	return nil
}

// Reload re-parses the manifest file, keeping the previous state on error.
func (p *Provider) Reload() error {
	return p.Load()
}

// Path returns the manifest file path.
func (p *Provider) Path() string {
	return p.path
}

// Snapshot returns a copy of the current manifest.
func (p *Provider) Snapshot() Manifest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.manifest
}

// Features returns the declared feature set.
func (p *Provider) Features() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.manifest.Features...)
}

// HasFeature reports whether the manifest declares the named feature.
func (p *Provider) HasFeature(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.manifest.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Products returns the product identifiers in the manifest, sorted so
// callers that pick a default product do so deterministically.
func (p *Provider) Products() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.manifest.Products))
	for id := range p.manifest.Products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetForTest replaces the manifest wholesale. Test helper.
func (p *Provider) SetForTest(m Manifest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Products == nil {
		m.Products = make(map[string]Product)
	}
	p.manifest = m
}
