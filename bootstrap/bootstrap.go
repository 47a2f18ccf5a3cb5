// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/mergedash/adapters/assets"
	"github.com/artpar/mergedash/adapters/clock"
	"github.com/artpar/mergedash/adapters/idgen"
	"github.com/artpar/mergedash/adapters/metrics"
	"github.com/artpar/mergedash/adapters/prompt"
	"github.com/artpar/mergedash/adapters/rejection"
	"github.com/artpar/mergedash/app"
	"github.com/artpar/mergedash/config"
	"github.com/artpar/mergedash/ports"
	"github.com/artpar/mergedash/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	HTTPServer *http.Server
	Metrics    *metrics.Collector // nil when metrics are disabled
	Registry   *prometheus.Registry

	Assets   *assets.Store
	Failures *rejection.Hub
	Recovery *app.RecoveryManager
	Pages    *app.PageTable
	Sessions *app.Sessions
	Handler  *web.Handler

	// Hot reload (nil when started from a fixed config)
	Config *config.Holder

	cfg    *config.Config
	cancel context.CancelFunc
}

// Options customizes application initialization.
type Options struct {
	// Output receives log lines. Defaults to stdout.
	Output io.Writer

	// Confirmer overrides the recovery fallback chosen by configuration.
	Confirmer ports.Confirmer
}

// New creates and initializes the application from a fixed configuration.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := setupLogger(cfg.Logging, opts.Output)
	return build(cfg, nil, logger, opts)
}

// NewWithHotReload creates the application and applies the log level
// whenever the config file changes. Other settings need a restart.
func NewWithHotReload(path string, opts Options) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg.Logging, opts.Output)

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}

	a, err := build(holder.Get(), holder, logger, opts)
	if err != nil {
		holder.Stop()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, holder *config.Holder, logger zerolog.Logger, opts Options) (*App, error) {
	logger.Info().Msg("initializing mergedash")

	a := &App{
		Logger: logger,
		Config: holder,
		cfg:    cfg,
	}

	// Metrics
	var m ports.Metrics = metrics.Nop{}
	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.Registry)
		m = a.Metrics
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	if err := a.initAssets(cfg.Assets); err != nil {
		return nil, fmt.Errorf("init assets: %w", err)
	}

	// Unhandled failures and stale-asset recovery
	a.Failures = rejection.NewHub(logger, m)

	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = fallbackConfirmer(cfg.Recovery.Fallback)
	}
	a.Recovery = app.NewRecoveryManager(app.RecoveryDeps{
		Confirmer: confirmer,
		Reloader:  a.Assets,
		Clock:     clock.Real{},
		Metrics:   m,
		Logger:    logger,
	})
	if err := a.Recovery.Install(a.Failures); err != nil {
		return nil, fmt.Errorf("install recovery: %w", err)
	}

	// Page table. A configured policy that conflicts with a page's own is
	// reported here instead of panicking in NewPageTable.
	tableCfg := tableConfig(cfg.Timing)
	if _, err := app.ResolvePolicies(app.Pages, tableCfg); err != nil {
		a.Assets.Stop()
		return nil, fmt.Errorf("page timing: %w", err)
	}
	a.Pages = app.NewPageTable(app.Pages, a.Assets, tableCfg, logger)

	var onCount func(int)
	if a.Metrics != nil {
		gauge := a.Metrics.ActiveSessions
		onCount = func(n int) { gauge.Set(float64(n)) }
	}
	a.Sessions = app.NewSessions(app.NavigatorDeps{
		Table:   a.Pages,
		Clock:   clock.Real{},
		IDs:     idgen.UUID{Prefix: "nav_"},
		Sink:    a.Failures,
		Metrics: m,
		Logger:  logger,
	}, cfg.Sessions.TTL, onCount)

	if err := a.initHTTPServer(cfg); err != nil {
		a.Assets.Stop()
		return nil, fmt.Errorf("init http server: %w", err)
	}
	a.Recovery.AttachBanner(a.Handler.Banner())

	if holder != nil {
		a.watchConfig(holder)
	}

	return a, nil
}

func (a *App) initAssets(cfg config.AssetsConfig) error {
	var opts []assets.Option
	if a.Metrics != nil {
		opts = append(opts, assets.WithReloadHook(a.Metrics.AssetReload))
	}

	var err error
	if cfg.Dir != "" {
		a.Assets, err = assets.OpenDir(cfg.Dir, a.Logger, opts...)
	} else {
		a.Assets, err = assets.OpenBundled(a.Logger, opts...)
	}
	if err != nil {
		return err
	}

	if cfg.Watch {
		if cfg.Dir == "" {
			a.Logger.Warn().Msg("assets.watch ignored for bundled pages")
			return nil
		}
		if err := a.Assets.Watch(); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initHTTPServer(cfg *config.Config) error {
	deps := web.Deps{
		Sessions: a.Sessions,
		Table:    a.Pages,
		Recovery: a.Recovery,
		Assets:   a.Assets,
		IDs:      idgen.UUID{Prefix: "sess_"},
		Logger:   a.Logger,
		Failures: a.Failures,
	}
	if a.Metrics != nil {
		deps.Metrics = a.Metrics
		deps.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
		deps.MetricsPath = cfg.Metrics.Path
	}

	h, err := web.NewHandler(deps)
	if err != nil {
		return err
	}
	a.Handler = h

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      h.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// watchConfig applies reloadable settings from the holder.
func (a *App) watchConfig(holder *config.Holder) {
	if a.Metrics != nil {
		holder.OnReload(a.Metrics.ConfigReloaded)
	}
	holder.OnChange(a.applyConfig)
}

// applyConfig applies the reloadable part of cfg.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if interval := a.cfg.Sessions.SweepInterval; interval > 0 {
		go a.Sessions.Run(ctx, interval)
	}

	if a.Config != nil {
		if err := a.Config.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.Config.WatchSignals()
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Str("assets", a.Assets.Version()).
			Int("pages", len(a.Pages.IDs())).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.cancel != nil {
		a.cancel()
	}

	// Shutdown HTTP server
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Cancel in-flight navigations
	if a.Sessions != nil {
		a.Sessions.Close()
	}

	if a.Config != nil {
		a.Config.Stop()
	}
	if a.Assets != nil {
		a.Assets.Stop()
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func tableConfig(t config.TimingConfig) app.PageTableConfig {
	return app.PageTableConfig{
		Defaults:  t.Policy(),
		Overrides: t.PolicyOverrides(),
	}
}

func fallbackConfirmer(mode string) ports.Confirmer {
	if mode == "terminal" {
		return prompt.Stdio()
	}
	return prompt.Decline{}
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
