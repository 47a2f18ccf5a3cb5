package web

import (
	"sync"
	"sync/atomic"

	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

type slotKind int

const (
	slotPending slotKind = iota
	slotLoading
	slotError
	slotMounted
)

// slotState is what the page slot of one navigation currently shows.
type slotState struct {
	kind   slotKind
	title  string
	cause  page.Cause
	module page.Module
}

// pollView is the PageView behind one navigation. Handlers read it when
// they render and wait on changed() for the next transition.
type pollView struct {
	mu      sync.Mutex
	state   slotState
	changed chan struct{}
}

func newPollView() *pollView {
	return &pollView{changed: make(chan struct{})}
}

func (v *pollView) ShowLoading(p page.LoadingProps) {
	v.set(slotState{kind: slotLoading, title: p.Title})
}

func (v *pollView) ShowError(p page.ErrorProps) {
	v.set(slotState{kind: slotError, title: p.Title, cause: p.Cause})
}

func (v *pollView) Mount(m page.Module) {
	v.set(slotState{kind: slotMounted, module: m})
}

func (v *pollView) set(s slotState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = s
	close(v.changed)
	v.changed = make(chan struct{})
}

// snapshot returns the current state and a channel closed on the next
// transition.
func (v *pollView) snapshot() (slotState, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state, v.changed
}

// Banner is the recovery banner shown at the top of every page.
type Banner struct {
	visible atomic.Bool
	logger  zerolog.Logger
}

// NewBanner creates a hidden banner.
func NewBanner(logger zerolog.Logger) *Banner {
	return &Banner{logger: logger.With().Str("component", "banner").Logger()}
}

// Show makes the banner visible on the next render or poll.
func (b *Banner) Show() {
	if !b.visible.Swap(true) {
		b.logger.Debug().Msg("banner visible")
	}
}

// Hide hides the banner.
func (b *Banner) Hide() {
	if b.visible.Swap(false) {
		b.logger.Debug().Msg("banner hidden")
	}
}

// Visible reports whether the banner is shown.
func (b *Banner) Visible() bool {
	return b.visible.Load()
}

// Ensure interface compliance.
var (
	_ ports.PageView = (*pollView)(nil)
	_ ports.Banner   = (*Banner)(nil)
)
