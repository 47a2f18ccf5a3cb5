package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/mergedash/domain/staleasset"
	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

// Recovery errors.
var (
	ErrRecoveryInstalled = errors.New("recovery manager already installed")
	ErrNoReloader        = errors.New("recovery manager has no reloader")
)

const fallbackMessage = "A new version of the dashboard has been deployed and part of the current one is no longer available. Reload now?"

// RecoveryState is the session-wide recovery state read by the banner.
type RecoveryState struct {
	BannerVisible        bool
	LastFailureSignature string
	LastFailureAt        time.Time
}

// RecoveryDeps contains the collaborators of a RecoveryManager.
type RecoveryDeps struct {
	Confirmer ports.Confirmer // blocking fallback before a banner is attached
	Reloader  ports.Reloader
	Clock     ports.Clock
	Metrics   ports.Metrics // optional
	Logger    zerolog.Logger
}

// RecoveryManager turns stale-asset failures into a recovery prompt.
// Banner Show and Hide run under mu so the banner always matches
// State().BannerVisible.
// There is one per process; it is created once, installed on the failure
// source once, and never torn down.
//
// It never reloads on its own: a reload happens only after the user
// confirms through the fallback prompt or the banner's reload action.
type RecoveryManager struct {
	deps   RecoveryDeps
	logger zerolog.Logger

	mu        sync.Mutex
	state     RecoveryState
	banner    ports.Banner
	installed bool
	asked     bool // fallback prompt already asked
}

// NewRecoveryManager creates a manager that is not yet installed.
func NewRecoveryManager(deps RecoveryDeps) *RecoveryManager {
	return &RecoveryManager{
		deps:   deps,
		logger: deps.Logger.With().Str("service", "recovery").Logger(),
	}
}

// Install registers the manager as a listener on source. Only the first
// call succeeds.
func (m *RecoveryManager) Install(source ports.RejectionSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.installed {
		return ErrRecoveryInstalled
	}
	m.installed = true
	source.OnUnhandled(m.HandleRejection)
	return nil
}

// AttachBanner wires the banner UI. Until then the blocking fallback is
// used. A failure recorded before the banner existed shows it right away.
func (m *RecoveryManager) AttachBanner(b ports.Banner) {
	m.mu.Lock()
	m.banner = b
	pending := m.state.LastFailureSignature != "" && !m.state.BannerVisible
	m.mu.Unlock()

	if pending {
		m.ShowPrompt()
	}
}

// HandleRejection is the unhandled-failure listener. Stale-asset failures
// are marked handled, logged and prompted for within the same call; any
// other failure is left to default handling.
func (m *RecoveryManager) HandleRejection(ev *ports.RejectionEvent) {
	if ev == nil || ev.Reason == nil {
		return
	}
	sig, ok := staleasset.Classify(ev.Reason.Error())
	if !ok {
		return
	}

	ev.PreventDefault()
	m.logger.Warn().Err(ev.Reason).Str("signature", sig).Msg("stale asset failure")
	if m.deps.Metrics != nil {
		m.deps.Metrics.StaleAsset(sig)
	}

	m.mu.Lock()
	m.state.LastFailureSignature = sig
	m.state.LastFailureAt = m.now()
	m.mu.Unlock()

	m.ShowPrompt()
}

// ShowPrompt shows the recovery prompt. With a banner attached it is
// idempotent until Dismiss. Without one the user is asked at most once
// through the blocking fallback, and a yes triggers exactly one reload.
func (m *RecoveryManager) ShowPrompt() {
	m.mu.Lock()
	if b := m.banner; b != nil {
		if m.state.BannerVisible {
			m.mu.Unlock()
			return
		}
		m.state.BannerVisible = true
		b.Show()
		m.mu.Unlock()

		m.logger.Info().Msg("recovery banner shown")
		m.prompted("banner")
		return
	}

	if m.asked || m.deps.Confirmer == nil {
		m.mu.Unlock()
		return
	}
	m.asked = true
	m.mu.Unlock()

	m.prompted("confirm")
	if !m.deps.Confirmer.Confirm(fallbackMessage) {
		m.logger.Info().Msg("recovery reload declined")
		return
	}
	if err := m.Reload(context.Background()); err != nil {
		m.logger.Error().Err(err).Msg("recovery reload failed")
	}
}

// Dismiss hides the banner. A later failure shows it again.
func (m *RecoveryManager) Dismiss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.banner != nil && m.state.BannerVisible {
		m.banner.Hide()
	}
	m.state.BannerVisible = false
}

// Reload performs the full reload the user asked for and clears the
// recovery state. The fallback stays answered: failures still in flight
// from the old deployment are recorded for the banner but never ask again.
func (m *RecoveryManager) Reload(ctx context.Context) error {
	if m.deps.Reloader == nil {
		return ErrNoReloader
	}
	if err := m.deps.Reloader.Reload(ctx); err != nil {
		return fmt.Errorf("reload assets: %w", err)
	}

	m.mu.Lock()
	if m.banner != nil && m.state.BannerVisible {
		m.banner.Hide()
	}
	m.state = RecoveryState{}
	m.mu.Unlock()

	m.logger.Info().Msg("assets reloaded")
	return nil
}

// State returns a snapshot of the recovery state.
func (m *RecoveryManager) State() RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *RecoveryManager) prompted(path string) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecoveryPrompt(path)
	}
}

func (m *RecoveryManager) now() time.Time {
	if m.deps.Clock == nil {
		return time.Now()
	}
	return m.deps.Clock.Now()
}
