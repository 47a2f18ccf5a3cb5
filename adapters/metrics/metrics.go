// Package metrics provides Prometheus metrics collection for mergedash.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/ports"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mergedash"

// Collector holds all Prometheus metrics for mergedash.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Page load metrics
	PageLoads         *prometheus.CounterVec
	PageLoadDuration  *prometheus.HistogramVec
	LoadingShownTotal *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge

	// Recovery metrics
	StaleAssetFailures *prometheus.CounterVec
	RecoveryPrompts    *prometheus.CounterVec
	AssetReloads       *prometheus.CounterVec
	UnhandledFailures  prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		PageLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_loads_total",
				Help:      "Page loads by terminal outcome",
			},
			[]string{"page", "outcome"},
		),
		PageLoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "page_load_duration_seconds",
				Help:      "Time from load start to terminal outcome",
				Buckets:   []float64{.01, .05, .1, .2, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"page", "outcome"},
		),
		LoadingShownTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_loading_shown_total",
				Help:      "Loads slow enough to show the loading view",
			},
			[]string{"page"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of navigation sessions currently tracked",
			},
		),

		StaleAssetFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_asset_failures_total",
				Help:      "Failures classified as stale deployed assets",
			},
			[]string{"signature"},
		),
		RecoveryPrompts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_prompts_total",
				Help:      "Recovery prompts shown, by path (banner or confirm)",
			},
			[]string{"path"},
		),
		AssetReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "asset_reloads_total",
				Help:      "Full asset reloads, by result",
			},
			[]string{"result"},
		),
		UnhandledFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unhandled_failures_total",
				Help:      "Failures that reached default handling",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// PageLoad records a load that left Pending.
func (c *Collector) PageLoad(id page.ID, outcome string, elapsed time.Duration) {
	c.PageLoads.WithLabelValues(string(id), outcome).Inc()
	c.PageLoadDuration.WithLabelValues(string(id), outcome).Observe(elapsed.Seconds())
}

// LoadingShown records a load whose delay elapsed before it settled.
func (c *Collector) LoadingShown(id page.ID) {
	c.LoadingShownTotal.WithLabelValues(string(id)).Inc()
}

// StaleAsset records a classified stale-asset failure.
func (c *Collector) StaleAsset(signature string) {
	c.StaleAssetFailures.WithLabelValues(signature).Inc()
}

// RecoveryPrompt records a recovery prompt.
func (c *Collector) RecoveryPrompt(path string) {
	c.RecoveryPrompts.WithLabelValues(path).Inc()
}

// UnhandledFailure records a failure nobody handled.
func (c *Collector) UnhandledFailure() {
	c.UnhandledFailures.Inc()
}

// AssetReload records the result of a full asset reload.
func (c *Collector) AssetReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.AssetReloads.WithLabelValues(result).Inc()
}

// ConfigReloaded records a config reload attempt.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// Middleware records request metrics labelled by the matched chi route
// pattern, which keeps label cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		c.RequestsInFlight.Inc()
		defer c.RequestsInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		c.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		c.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Nop discards every metric.
type Nop struct{}

func (Nop) PageLoad(page.ID, string, time.Duration) {}
func (Nop) LoadingShown(page.ID)                    {}
func (Nop) StaleAsset(string)                       {}
func (Nop) RecoveryPrompt(string)                   {}
func (Nop) UnhandledFailure()                       {}

// Ensure interface compliance.
var (
	_ ports.Metrics = (*Collector)(nil)
	_ ports.Metrics = Nop{}
)
