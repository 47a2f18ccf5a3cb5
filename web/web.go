// Package web provides the server-rendered dashboard.
// Pages are resolved lazily per navigation; slow pages render a loading
// slot that polls until the navigation settles.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/mergedash/adapters/metrics"
	"github.com/artpar/mergedash/adapters/rejection"
	"github.com/artpar/mergedash/app"
	"github.com/artpar/mergedash/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// Defaults for polling a slow navigation.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollWait     = 2 * time.Second
)

// AssetInfo describes the deployed page bundles.
type AssetInfo interface {
	Version() string
	DeploymentChanged() bool
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Sessions *app.Sessions
	Table    *app.PageTable
	Recovery *app.RecoveryManager
	Banner   *Banner
	Assets   AssetInfo
	IDs      ports.IDGenerator // session ids
	Logger   zerolog.Logger

	Failures       *rejection.Hub     // optional; recovers handler panics
	Metrics        *metrics.Collector // optional; HTTP metrics
	MetricsHandler http.Handler       // optional; served at MetricsPath
	MetricsPath    string

	PollInterval time.Duration // delay between polls of a loading slot
	PollWait     time.Duration // how long one poll waits for a transition
}

// Handler provides the dashboard endpoints.
type Handler struct {
	deps      Deps
	templates *template.Template
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandler creates a new dashboard handler.
func NewHandler(deps Deps) (*Handler, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	if deps.PollWait <= 0 {
		deps.PollWait = DefaultPollWait
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	if deps.Banner == nil {
		deps.Banner = NewBanner(deps.Logger)
	}

	return &Handler{
		deps:      deps,
		templates: tmpl,
		logger:    deps.Logger.With().Str("component", "web").Logger(),
		startTime: time.Now(),
	}, nil
}

// Banner returns the recovery banner rendered by the layout.
func (h *Handler) Banner() *Banner {
	return h.deps.Banner
}

// Router returns the dashboard router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(h.logger))
	if h.deps.Metrics != nil {
		r.Use(h.deps.Metrics.Middleware)
	}
	if h.deps.Failures != nil {
		r.Use(h.deps.Failures.Middleware)
	}

	r.Get("/healthz", h.Health)
	r.Get("/api/pages", h.ListPages)
	if h.deps.MetricsHandler != nil {
		r.Handle(h.deps.MetricsPath, h.deps.MetricsHandler)
	}

	// Navigation
	r.Get("/", h.Home)
	r.Get("/p/*", h.PageByPath)
	r.Get("/navigate", h.NavigateByID)
	r.Get("/nav/{navID}", h.Poll)
	r.Post("/nav/{navID}/retry", h.Retry)

	// Stale-asset recovery
	r.Get("/recovery/banner", h.BannerFragment)
	r.Post("/recovery/reload", h.RecoveryReload)
	r.Post("/recovery/dismiss", h.RecoveryDismiss)

	return r
}

// NewLoggingMiddleware logs every request at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks, metrics and slot polls
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/nav/") && r.Method == http.MethodGet {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
