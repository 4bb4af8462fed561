// Package observability provides hooks for metrics and tracing.
//
// Libraries emit events through the registered hooks; the defaults do
// nothing. The resident daemon registers Prometheus-backed implementations
// at startup, the CLI leaves the no-op defaults in place.
//
// # Usage
//
// Register hooks once, before any probes or installs run:
//
//	observability.SetProbeHooks(metrics)
//	observability.SetInstallHooks(metrics)
//
// Libraries call:
//
//	observability.Probe().OnProbe(ctx, "pip", "pypi-tsinghua", latency, "HEALTHY", nil)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Probe Hooks
// =============================================================================

// ProbeHooks receives health probe results.
type ProbeHooks interface {
	// OnProbe records one probe. status is the resulting health status.
	OnProbe(ctx context.Context, kind, source string, latency time.Duration, status string, err error)

	// OnMarkFailure records a failure reported outside the probe cycle.
	OnMarkFailure(ctx context.Context, kind, source string, status string)
}

// =============================================================================
// Install Hooks
// =============================================================================

// InstallHooks receives events from the installer.
type InstallHooks interface {
	// OnAttempt records one attempt of one package against one source.
	// outcome is "ok", "transient", "source", "terminal" or "conflict".
	OnAttempt(ctx context.Context, kind, pkg, source, outcome string, duration time.Duration)

	// OnInstallComplete records the end of an install request.
	OnInstallComplete(ctx context.Context, kind string, succeeded, failed, cacheHits int, duration time.Duration)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from the artifact cache.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, kind string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, kind string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, kind string, size int64)

	// OnCacheEvict records an eviction. reason is "age", "size", "corrupt" or "manual".
	OnCacheEvict(ctx context.Context, reason string, size int64)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from registry HTTP calls.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopProbeHooks is a no-op implementation of ProbeHooks.
type NoopProbeHooks struct{}

func (NoopProbeHooks) OnProbe(context.Context, string, string, time.Duration, string, error) {}
func (NoopProbeHooks) OnMarkFailure(context.Context, string, string, string)                {}

// NoopInstallHooks is a no-op implementation of InstallHooks.
type NoopInstallHooks struct{}

func (NoopInstallHooks) OnAttempt(context.Context, string, string, string, string, time.Duration) {}
func (NoopInstallHooks) OnInstallComplete(context.Context, string, int, int, int, time.Duration)  {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)          {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)         {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int64)   {}
func (NoopCacheHooks) OnCacheEvict(context.Context, string, int64) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	probeHooks   ProbeHooks   = NoopProbeHooks{}
	installHooks InstallHooks = NoopInstallHooks{}
	cacheHooks   CacheHooks   = NoopCacheHooks{}
	httpHooks    HTTPHooks    = NoopHTTPHooks{}
	hooksMu      sync.RWMutex
)

// SetProbeHooks registers custom probe hooks.
func SetProbeHooks(h ProbeHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		probeHooks = h
	}
}

// SetInstallHooks registers custom install hooks.
func SetInstallHooks(h InstallHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		installHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Probe returns the registered probe hooks.
func Probe() ProbeHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return probeHooks
}

// Install returns the registered install hooks.
func Install() InstallHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return installHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	probeHooks = NoopProbeHooks{}
	installHooks = NoopInstallHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
