package manifest

import (
	"github.com/Masterminds/semver/v3"
)

// strictPfVersion is the platform version from which omni-mode products
// treat a missing product-event registration as a hard error instead of a
// silent no-op.
var strictPfVersion = semver.MustParse("2.3.0")

// EventsFor returns the ordered registered-events table for a product.
func (p *Provider) EventsFor(product string) []EventBinding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prod, ok := p.manifest.Products[product]
	if !ok {
		return nil
	}
	return append([]EventBinding(nil), prod.Events...)
}

// ResolveCallback translates a logical event name into the exported
// callback name for a product. The first binding whose event name exactly
// matches wins; the table is not deduplicated here.
func (p *Provider) ResolveCallback(product, event string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prod, ok := p.manifest.Products[product]
	if !ok {
		return "", false
	}
	for _, b := range prod.Events {
		if b.Event == event {
			return b.Callback, true
		}
	}
	return "", false
}

// HasEvent reports whether the product registers the named event.
func (p *Provider) HasEvent(product, event string) bool {
	_, ok := p.ResolveCallback(product, event)
	return ok
}

// StrictProductEvents reports whether a missing product-event registration
// is fatal for this product. This only applies to omni-mode products on
// platform versions at or above 2.3.0; everywhere else absence is a
// graceful no-op.
func (p *Provider) StrictProductEvents(product string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prod, ok := p.manifest.Products[product]
	if !ok || !prod.OmniMode {
		return false
	}

	v, err := semver.NewVersion(p.manifest.PfVersion)
	if err != nil {
		return false
	}
	return !v.LessThan(strictPfVersion)
}
