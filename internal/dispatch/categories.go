package dispatch

import (
	"time"

	"appdock/internal/config"
	"appdock/internal/manifest"
)

// resolution carries the outcome of translating an envelope's method name
// into a concrete exported callback.
type resolution int

const (
	// resolveOK means the method resolved and should be invoked.
	resolveOK resolution = iota
	// resolveNotConfigured means the event is not registered and absence
	// is expected: answer with the caller's default body, invoke nothing.
	resolveNotConfigured
	// resolveMissing means the event is not registered and absence is a
	// hard error for this product.
	resolveMissing
)

// resolveMethod applies the per-category lookup rules. Request passes the
// method name through; the event categories translate it via the
// registered-events table, first exact match winning.
func resolveMethod(env *Envelope, mfst *manifest.Provider, product string) (string, resolution) {
	event := env.CategoryArgs.MethodName

	switch env.CategoryName {
	case CategoryRequest:
		return event, resolveOK

	case CategoryAppEvent:
		callback, ok := mfst.ResolveCallback(product, event)
		if !ok {
			return "", resolveNotConfigured
		}
		return callback, resolveOK

	case CategoryProductEvent:
		callback, ok := mfst.ResolveCallback(product, event)
		if !ok {
			if mfst.StrictProductEvents(product) {
				return "", resolveMissing
			}
			return "", resolveNotConfigured
		}
		return callback, resolveOK
	}
	return "", resolveMissing
}

// categoryTimeout returns the execution deadline for the envelope: its
// own override when present, the category default otherwise.
func categoryTimeout(env *Envelope, cfg config.SandboxConfig) time.Duration {
	if env.TimeoutMS > 0 {
		return time.Duration(env.TimeoutMS) * time.Millisecond
	}
	switch env.CategoryName {
	case CategoryAppEvent:
		return cfg.AppEventTimeout
	case CategoryProductEvent:
		return cfg.ProductEventTimeout
	default:
		return cfg.RequestTimeout
	}
}

// wallClockDeadline returns the response deadline for the category. It
// sits above the sandbox deadline so asynchronous work that never calls
// back still produces a gateway timeout.
func wallClockDeadline(env *Envelope, cfg config.SandboxConfig) time.Duration {
	return categoryTimeout(env, cfg) + 3*time.Second
}
