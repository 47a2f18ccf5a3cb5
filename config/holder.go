package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder keeps the current configuration and swaps it when the file is
// reloaded. Only the log level takes effect without a restart.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
	onReload  func(err error)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return &Holder{
		path:   abs,
		logger: logger.With().Str("component", "config").Logger(),
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Path returns the absolute path of the config file.
func (h *Holder) Path() string {
	return h.path
}

// Reload reads the file again. An invalid file leaves the current
// configuration in place.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		h.reloaded(err)
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.cfg
	h.cfg = next
	listeners := append(([]func(*Config))(nil), h.listeners...)
	h.mu.Unlock()

	if prev.Logging.Level != next.Logging.Level {
		h.logger.Info().Str("from", prev.Logging.Level).Str("to", next.Logging.Level).Msg("log level changed")
	}
	if fixed := RestartRequired(prev, next); len(fixed) > 0 {
		h.logger.Warn().Strs("settings", fixed).Msg("settings changed, restart to apply")
	}

	for _, fn := range listeners {
		fn(next)
	}
	h.reloaded(nil)
	h.logger.Info().Str("path", h.path).Msg("config reloaded")
	return nil
}

// OnChange registers fn to run with every successfully reloaded config.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// OnReload registers a callback told about every reload attempt.
func (h *Holder) OnReload(fn func(err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = fn
}

func (h *Holder) reloaded(err error) {
	h.mu.RLock()
	fn := h.onReload
	h.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// WatchFile reloads whenever the config file is written or replaced.
// The parent directory is watched so atomic saves are seen.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = w

	go h.watchLoop(filepath.Base(h.path))
	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(name string) {
	for {
		select {
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug().Str("op", ev.Op.String()).Msg("config file changed")
			if err := h.Reload(); err != nil {
				h.logger.Error().Err(err).Msg("file watch reload failed")
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			return
		}
	}
}

// RestartRequired lists the settings that differ between prev and next
// but only take effect on restart. The page table, listener and asset
// store are built once at startup.
func RestartRequired(prev, next *Config) []string {
	var changed []string
	for _, s := range []struct {
		name       string
		prev, next any
	}{
		{"server", prev.Server, next.Server},
		{"assets", prev.Assets, next.Assets},
		{"timing", prev.Timing, next.Timing},
		{"sessions", prev.Sessions, next.Sessions},
		{"recovery", prev.Recovery, next.Recovery},
		{"metrics", prev.Metrics, next.Metrics},
		{"logging.format", prev.Logging.Format, next.Logging.Format},
	} {
		if !reflect.DeepEqual(s.prev, s.next) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
