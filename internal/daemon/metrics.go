package daemon

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/observability"
)

const namespace = "deps"

var statuses = []health.Status{health.StatusHealthy, health.StatusDegraded, health.StatusDown}

// Metrics exports probe, install, cache and HTTP events as Prometheus
// series. It implements every hook interface of package observability.
type Metrics struct {
	registry *prometheus.Registry

	probes       *prometheus.CounterVec
	probeLatency *prometheus.HistogramVec
	sourceStatus *prometheus.GaugeVec
	markFailures *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	attemptTime  *prometheus.HistogramVec
	installs     *prometheus.CounterVec
	cacheEvents  *prometheus.CounterVec
	cacheBytes   *prometheus.CounterVec
	upstreamReqs *prometheus.CounterVec
	upstreamTime *prometheus.HistogramVec
	upstreamErrs *prometheus.CounterVec
	apiRequests  *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
}

var (
	_ observability.ProbeHooks   = (*Metrics)(nil)
	_ observability.InstallHooks = (*Metrics)(nil)
	_ observability.CacheHooks   = (*Metrics)(nil)
	_ observability.HTTPHooks    = (*Metrics)(nil)
)

// NewMetrics creates the collectors on a private registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probes_total",
			Help: "Health probes by source and resulting status.",
		}, []string{"kind", "source", "status"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "probe_duration_seconds",
			Help:    "Latency of health probes.",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 10),
		}, []string{"kind", "source"}),
		sourceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "source_status",
			Help: "1 for the current status of each source, 0 otherwise.",
		}, []string{"kind", "source", "status"}),
		markFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_failures_reported_total",
			Help: "Failures reported by installs outside the probe cycle.",
		}, []string{"kind", "source"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "install_attempts_total",
			Help: "Install attempts by source and outcome.",
		}, []string{"kind", "source", "outcome"}),
		attemptTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "install_attempt_duration_seconds",
			Help:    "Duration of single install attempts.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "install_packages_total",
			Help: "Packages processed by install requests.",
		}, []string{"kind", "result"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_events_total",
			Help: "Artifact cache hits, misses, writes and evictions.",
		}, []string{"event", "label"}),
		cacheBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_bytes_total",
			Help: "Bytes written to and evicted from the artifact cache.",
		}, []string{"direction"}),
		upstreamReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_requests_total",
			Help: "Registry HTTP requests by host and status code.",
		}, []string{"method", "host", "code"}),
		upstreamTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "upstream_request_duration_seconds",
			Help:    "Latency of registry HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		upstreamErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_errors_total",
			Help: "Registry HTTP requests that failed without a response.",
		}, []string{"host"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "Daemon API requests by route and status code.",
		}, []string{"route", "code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds",
			Help:    "Latency of daemon API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.probes, m.probeLatency, m.sourceStatus, m.markFailures,
		m.attempts, m.attemptTime, m.installs,
		m.cacheEvents, m.cacheBytes,
		m.upstreamReqs, m.upstreamTime, m.upstreamErrs,
		m.apiRequests, m.apiLatency,
	)
	return m
}

// Install registers m as the process-wide observability hooks.
func (m *Metrics) Install() {
	observability.SetProbeHooks(m)
	observability.SetInstallHooks(m)
	observability.SetCacheHooks(m)
	observability.SetHTTPHooks(m)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SeedStatus publishes the status gauges for records restored from a store.
func (m *Metrics) SeedStatus(kind, src string, status health.Status) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.sourceStatus.WithLabelValues(kind, src, s.String()).Set(v)
	}
}

// =============================================================================
// Hook implementations
// =============================================================================

func (m *Metrics) OnProbe(_ context.Context, kind, src string, latency time.Duration, status string, _ error) {
	m.probes.WithLabelValues(kind, src, status).Inc()
	m.probeLatency.WithLabelValues(kind, src).Observe(latency.Seconds())
	m.SeedStatus(kind, src, health.Status(status))
}

func (m *Metrics) OnMarkFailure(_ context.Context, kind, src, status string) {
	m.markFailures.WithLabelValues(kind, src).Inc()
	m.SeedStatus(kind, src, health.Status(status))
}

func (m *Metrics) OnAttempt(_ context.Context, kind, _ string, src, outcome string, d time.Duration) {
	m.attempts.WithLabelValues(kind, src, outcome).Inc()
	m.attemptTime.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) OnInstallComplete(_ context.Context, kind string, succeeded, failed, cacheHits int, _ time.Duration) {
	m.installs.WithLabelValues(kind, "succeeded").Add(float64(succeeded))
	m.installs.WithLabelValues(kind, "failed").Add(float64(failed))
	m.installs.WithLabelValues(kind, "cached").Add(float64(cacheHits))
}

func (m *Metrics) OnCacheHit(_ context.Context, kind string) {
	m.cacheEvents.WithLabelValues("hit", kind).Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, kind string) {
	m.cacheEvents.WithLabelValues("miss", kind).Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, kind string, size int64) {
	m.cacheEvents.WithLabelValues("set", kind).Inc()
	m.cacheBytes.WithLabelValues("in").Add(float64(size))
}

func (m *Metrics) OnCacheEvict(_ context.Context, reason string, size int64) {
	m.cacheEvents.WithLabelValues("evict", reason).Inc()
	m.cacheBytes.WithLabelValues("out").Add(float64(size))
}

func (m *Metrics) OnRequest(context.Context, string, string, string) {}

func (m *Metrics) OnResponse(_ context.Context, method, host, _ string, code int, d time.Duration) {
	m.upstreamReqs.WithLabelValues(method, host, strconv.Itoa(code)).Inc()
	m.upstreamTime.WithLabelValues(host).Observe(d.Seconds())
}

func (m *Metrics) OnError(_ context.Context, _, host, _ string, _ error) {
	m.upstreamErrs.WithLabelValues(host).Inc()
}

func (m *Metrics) observeAPI(route string, code int, d time.Duration) {
	m.apiRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.apiLatency.WithLabelValues(route).Observe(d.Seconds())
}
