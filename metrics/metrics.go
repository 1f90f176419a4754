// Package metrics tracks gateway statistics.
//
// Every event is recorded twice: in Prometheus collectors (exposed on the
// admin listener's /metrics) and in a few lock-free atomic counters that the
// dashboard's SSE stream reads without going through the Prometheus registry.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "challengegate"

// Resolution outcomes.
const (
	OutcomeCookie    = "cookie"
	OutcomeNoCookie  = "no_cookie"
	OutcomeTransport = "transport_error"
)

// Quota lookup outcomes.
const (
	QuotaOK          = "ok"
	QuotaInvalid     = "invalid_request"
	QuotaNoCookie    = "no_cookie"
	QuotaStillGated  = "still_gated"
	QuotaNotJSON     = "not_json"
	QuotaTransport   = "transport_error"
	QuotaWrongMethod = "method_not_allowed"
)

// Metrics holds the gateway's collectors.  Each instance owns its own
// registry so several may coexist (one per test).
type Metrics struct {
	Registry *prometheus.Registry

	Resolutions     *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
	ScriptRuns      *prometheus.CounterVec
	ProxyRequests   *prometheus.CounterVec
	QuotaLookups    *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec

	// Fields are uint64 and accessed only atomically.
	totalResolutions  uint64
	cookieResolutions uint64
	failedResolutions uint64

	startTime time.Time
}

// NewMetrics creates a Metrics instance with a fresh registry that also
// carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Challenge resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Time to fetch a challenge page and execute its scripts",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ScriptRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_runs_total",
				Help:      "Sandbox script executions by result",
			},
			[]string{"result"},
		),
		ProxyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Proxied requests by upstream status code (502 when no cookie was obtained)",
			},
			[]string{"code"},
		),
		QuotaLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_lookups_total",
				Help:      "Quota lookups by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Inbound HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Inbound HTTP request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordResolution counts one challenge resolution.
func (m *Metrics) RecordResolution(outcome string, d time.Duration) {
	atomic.AddUint64(&m.totalResolutions, 1)
	if outcome == OutcomeCookie {
		atomic.AddUint64(&m.cookieResolutions, 1)
	} else {
		atomic.AddUint64(&m.failedResolutions, 1)
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(d.Seconds())
}

// RecordScriptRun counts one sandbox execution.
func (m *Metrics) RecordScriptRun(ok bool) {
	if ok {
		m.ScriptRuns.WithLabelValues("cookie").Inc()
		return
	}
	m.ScriptRuns.WithLabelValues("error").Inc()
}

// RecordProxy counts one proxied request.
func (m *Metrics) RecordProxy(code string) {
	m.ProxyRequests.WithLabelValues(code).Inc()
}

// RecordQuota counts one quota lookup.
func (m *Metrics) RecordQuota(outcome string) {
	m.QuotaLookups.WithLabelValues(outcome).Inc()
}

// RecordHTTP counts one inbound request.  Methods outside the standard set
// are counted as "OTHER" so clients cannot mint new label values.
func (m *Metrics) RecordHTTP(method, route, status string, d time.Duration) {
	method = methodLabel(method)
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return method
	}
	return "OTHER"
}

// ResolutionsPerSecond returns the average resolution rate since the Metrics
// instance was created.
func (m *Metrics) ResolutionsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.totalResolutions)) / elapsed
}

// Snapshot returns a point-in-time copy of the resolution counters.  The
// three loads are not taken under a lock, which is fine for monitoring.
func (m *Metrics) Snapshot() (total, cookie, failed uint64) {
	return atomic.LoadUint64(&m.totalResolutions),
		atomic.LoadUint64(&m.cookieResolutions),
		atomic.LoadUint64(&m.failedResolutions)
}
