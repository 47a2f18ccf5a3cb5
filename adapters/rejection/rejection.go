// Package rejection provides the process-wide dispatcher for failures that
// no caller is left to handle.
package rejection

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

// Hub dispatches unhandled failures to listeners synchronously, in
// registration order. A failure no listener prevented is logged at error
// level and counted.
type Hub struct {
	logger  zerolog.Logger
	metrics ports.Metrics

	mu        sync.RWMutex
	listeners []func(ev *ports.RejectionEvent)
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger zerolog.Logger, metrics ports.Metrics) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "rejection").Logger(),
		metrics: metrics,
	}
}

// OnUnhandled registers a listener.
func (h *Hub) OnUnhandled(fn func(ev *ports.RejectionEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reject dispatches err. It returns once every listener and, if needed,
// default handling have run.
func (h *Hub) Reject(err error) {
	if err == nil {
		return
	}

	h.mu.RLock()
	listeners := make([]func(ev *ports.RejectionEvent), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.RUnlock()

	ev := ports.NewRejectionEvent(err)
	for _, fn := range listeners {
		fn(ev)
	}

	if ev.DefaultPrevented() {
		return
	}
	h.logger.Error().Err(err).Msg("unhandled failure")
	if h.metrics != nil {
		h.metrics.UnhandledFailure()
	}
}

// Middleware recovers handler panics, rejects them through the hub and
// answers 500.
func (h *Hub) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			var err error
			switch v := rec.(type) {
			case error:
				err = fmt.Errorf("panic serving %s: %w", r.URL.Path, v)
			default:
				err = fmt.Errorf("panic serving %s: %v", r.URL.Path, v)
			}
			h.Reject(err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// Ensure interface compliance.
var (
	_ ports.RejectionSource = (*Hub)(nil)
	_ ports.FailureSink     = (*Hub)(nil)
)
