package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

// Navigator errors.
var (
	ErrNothingToRetry  = errors.New("no navigation to retry")
	ErrNavigatorClosed = errors.New("navigator closed")
)

// NavigatorDeps contains the collaborators of a Navigator.
type NavigatorDeps struct {
	Table   *PageTable
	Clock   ports.Clock
	IDs     ports.IDGenerator
	Sink    ports.FailureSink
	Metrics ports.Metrics
	Logger  zerolog.Logger
}

// Navigator owns the current page load of one session. Starting a new
// navigation supersedes the previous one.
type Navigator struct {
	deps NavigatorDeps

	mu      sync.Mutex
	current *PageLoad
	closed  bool
}

// NewNavigator creates a navigator with no current load.
func NewNavigator(deps NavigatorDeps) *Navigator {
	return &Navigator{deps: deps}
}

// Navigate looks id up and starts loading it into view. An unknown id
// fails synchronously with a *page.ConfigError and leaves the current load
// untouched.
func (n *Navigator) Navigate(ctx context.Context, id page.ID, view ports.PageView) (*PageLoad, error) {
	desc, err := n.deps.Table.Lookup(id)
	if err != nil {
		return nil, err
	}
	return n.start(ctx, desc, view)
}

// Retry reloads the most recent page with a fresh Idle -> Pending cycle
// and its original policy.
func (n *Navigator) Retry(ctx context.Context, view ports.PageView) (*PageLoad, error) {
	n.mu.Lock()
	last := n.current
	n.mu.Unlock()

	if last == nil {
		return nil, ErrNothingToRetry
	}
	return n.start(ctx, last.Descriptor(), view)
}

// Current returns the most recent load, or nil.
func (n *Navigator) Current() *PageLoad {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close cancels the current load. Later navigations are refused.
func (n *Navigator) Close() {
	n.mu.Lock()
	cur := n.current
	n.closed = true
	n.mu.Unlock()

	if cur != nil {
		cur.Cancel()
	}
}

func (n *Navigator) start(ctx context.Context, desc page.Descriptor, view ports.PageView) (*PageLoad, error) {
	load := NewPageLoad(desc, view, PageLoadDeps{
		Clock:   n.deps.Clock,
		Sink:    n.deps.Sink,
		Metrics: n.deps.Metrics,
		Logger:  n.deps.Logger,
		ID:      n.deps.IDs.New(),
	})

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrNavigatorClosed
	}
	prev := n.current
	n.current = load
	n.mu.Unlock()

	if prev != nil && prev.Cancel() {
		n.deps.Logger.Debug().
			Str("nav", prev.ID()).
			Str("superseded_by", load.ID()).
			Msg("navigation superseded")
	}

	if err := load.Start(ctx); err != nil {
		return nil, err
	}
	return load, nil
}

// Sessions tracks one Navigator per browser session and drops sessions
// that stay idle longer than the TTL.
type Sessions struct {
	deps NavigatorDeps
	ttl  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	onCount  func(n int)
}

type session struct {
	nav      *Navigator
	lastSeen time.Time
}

// NewSessions creates an empty registry. onCount, if set, is called with
// the session count whenever it changes.
func NewSessions(deps NavigatorDeps, ttl time.Duration, onCount func(n int)) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{
		deps:     deps,
		ttl:      ttl,
		sessions: make(map[string]*session),
		onCount:  onCount,
	}
}

// Get returns the navigator for id, creating it on first use.
func (s *Sessions) Get(id string) *Navigator {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{nav: NewNavigator(s.deps)}
		s.sessions[id] = sess
		s.countChanged()
	}
	sess.lastSeen = s.deps.Clock.Now()
	return sess.nav
}

// Lookup returns the navigator for id without creating one.
func (s *Sessions) Lookup(id string) (*Navigator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.deps.Clock.Now()
	return sess.nav, true
}

// Len returns the number of tracked sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes and forgets sessions idle for longer than the TTL.
// It returns the number of sessions removed.
func (s *Sessions) Sweep() int {
	now := s.deps.Clock.Now()

	s.mu.Lock()
	var stale []*Navigator
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			stale = append(stale, sess.nav)
			delete(s.sessions, id)
		}
	}
	if len(stale) > 0 {
		s.countChanged()
	}
	s.mu.Unlock()

	for _, nav := range stale {
		nav.Close()
	}
	if len(stale) > 0 {
		s.deps.Logger.Debug().Int("count", len(stale)).Msg("idle sessions swept")
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close closes every session.
func (s *Sessions) Close() {
	s.mu.Lock()
	navs := make([]*Navigator, 0, len(s.sessions))
	for id, sess := range s.sessions {
		navs = append(navs, sess.nav)
		delete(s.sessions, id)
	}
	s.countChanged()
	s.mu.Unlock()

	for _, nav := range navs {
		nav.Close()
	}
}

// countChanged reports the session count. Caller holds mu.
func (s *Sessions) countChanged() {
	if s.onCount != nil {
		s.onCount(len(s.sessions))
	}
}
