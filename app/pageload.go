package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/domain/staleasset"
	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

// ErrLoadStarted is returned when Start is called on a load that already
// left Idle.
var ErrLoadStarted = errors.New("page load already started")

// LoadState is the position of a PageLoad in its lifecycle.
type LoadState int

const (
	LoadIdle LoadState = iota
	LoadPending
	LoadSettled
	LoadCancelled
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadPending:
		return "pending"
	case LoadSettled:
		return "settled"
	case LoadCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PageLoadDeps contains the collaborators of a PageLoad.
type PageLoadDeps struct {
	Clock   ports.Clock
	Sink    ports.FailureSink // receives escaped failures; optional
	Metrics ports.Metrics     // optional
	Logger  zerolog.Logger
	ID      string // navigation id, for logs and polling
}

// PageLoad races one page loader against the delay and timeout timers of
// its policy and drives a PageView through exactly one terminal state.
//
// All transitions happen under mu, so timer and loader callbacks are
// serialised; whichever settles first wins and later callbacks are no-ops.
// A PageLoad is used for one navigation and then discarded.
type PageLoad struct {
	id      string
	desc    page.Descriptor
	view    ports.PageView
	clock   ports.Clock
	sink    ports.FailureSink
	metrics ports.Metrics
	logger  zerolog.Logger

	mu           sync.Mutex
	state        LoadState
	loadingShown bool
	outcome      page.Outcome
	startedAt    time.Time
	delayTimer   ports.Timer
	timeoutTimer ports.Timer
	cancel       context.CancelFunc

	done       chan struct{}
	loaderDone chan struct{}
}

// NewPageLoad creates an Idle load for desc that reports to view.
func NewPageLoad(desc page.Descriptor, view ports.PageView, deps PageLoadDeps) *PageLoad {
	return &PageLoad{
		id:      deps.ID,
		desc:    desc,
		view:    view,
		clock:   deps.Clock,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		logger: deps.Logger.With().
			Str("nav", deps.ID).
			Str("page", string(desc.ID)).
			Logger(),
		done:       make(chan struct{}),
		loaderDone: make(chan struct{}),
	}
}

// ID returns the navigation id.
func (l *PageLoad) ID() string { return l.id }

// Descriptor returns the descriptor being loaded.
func (l *PageLoad) Descriptor() page.Descriptor { return l.desc }

// View returns the view the load reports to.
func (l *PageLoad) View() ports.PageView { return l.view }

// Start enters Pending: both timers are armed and the loader is invoked on
// its own goroutine. The loader context outlives ctx; it is cancelled only
// by Cancel, never by the timeout.
func (l *PageLoad) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LoadIdle {
		return ErrLoadStarted
	}

	loaderCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.state = LoadPending
	l.startedAt = l.clock.Now()
	l.delayTimer = l.clock.AfterFunc(l.desc.Policy.Delay, l.onDelay)
	l.timeoutTimer = l.clock.AfterFunc(l.desc.Policy.Timeout, l.onTimeout)

	l.logger.Debug().
		Dur("delay", l.desc.Policy.Delay).
		Dur("timeout", l.desc.Policy.Timeout).
		Msg("page load started")

	go l.run(loaderCtx, cancel)
	return nil
}

// Cancel abandons a superseded load. Both timers are cleared and any later
// loader settlement is discarded without touching the view. It reports
// whether the load was still Idle or Pending.
func (l *PageLoad) Cancel() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case LoadIdle:
		l.state = LoadCancelled
		close(l.loaderDone)
	case LoadPending:
		l.state = LoadCancelled
		l.stopTimers()
		l.cancel()
		l.record("cancelled")
	default:
		return false
	}

	close(l.done)
	l.logger.Debug().Msg("page load cancelled")
	return true
}

// State returns the current state.
func (l *PageLoad) State() LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LoadingShown reports whether the loading view was ever shown.
func (l *PageLoad) LoadingShown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadingShown
}

// Outcome returns the terminal outcome once the load has settled.
func (l *PageLoad) Outcome() (page.Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcome, l.state == LoadSettled
}

// Done is closed when the load settles or is cancelled.
func (l *PageLoad) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the loader goroutine has returned, including loaders
// abandoned by a timeout or cancellation.
func (l *PageLoad) Wait() {
	<-l.loaderDone
}

func (l *PageLoad) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(l.loaderDone)

	mod, err := l.invoke(ctx)
	cancel()
	if err == nil && mod == nil {
		err = fmt.Errorf("page %s: loader returned no module", l.desc.ID)
	}

	if escaped := l.settle(mod, err); escaped != nil && l.sink != nil {
		l.sink.Reject(escaped)
	}
}

func (l *PageLoad) invoke(ctx context.Context) (mod page.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %s: loader panicked: %v", l.desc.ID, r)
		}
	}()
	return l.desc.Loader(ctx)
}

// settle applies the loader result. It returns a failure that must escape
// to the sink: late failures nobody is waiting for, and stale-asset
// failures, which are also shown locally.
func (l *PageLoad) settle(mod page.Module, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case LoadPending:
	case LoadSettled:
		if err != nil {
			l.logger.Warn().Err(err).Msg("loader failed after timeout")
			return fmt.Errorf("page %s: %w", l.desc.ID, err)
		}
		l.logger.Debug().Msg("loader resolved after timeout, result ignored")
		return nil
	default:
		return nil
	}

	l.stopTimers()
	l.state = LoadSettled

	if err != nil {
		l.outcome = page.Outcome{Kind: page.Failed, Err: err}
		l.logger.Warn().Err(err).Bool("loading_shown", l.loadingShown).Msg("page load failed")
		l.view.ShowError(page.ErrorProps{Title: l.desc.Title, Cause: page.LoaderFailed(err)})
	} else {
		l.outcome = page.Outcome{Kind: page.Resolved, Module: mod}
		l.logger.Debug().Bool("loading_shown", l.loadingShown).Msg("page load resolved")
		l.view.Mount(mod)
	}
	l.record(l.outcome.Kind.String())
	close(l.done)

	if err != nil && staleasset.Is(err) {
		return fmt.Errorf("page %s: %w", l.desc.ID, err)
	}
	return nil
}

func (l *PageLoad) onDelay() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LoadPending || l.loadingShown {
		return
	}
	l.loadingShown = true
	if l.metrics != nil {
		l.metrics.LoadingShown(l.desc.ID)
	}
	l.view.ShowLoading(page.LoadingProps{Title: l.desc.Title})
}

func (l *PageLoad) onTimeout() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LoadPending {
		return
	}
	l.stopTimers()
	l.state = LoadSettled
	l.outcome = page.Outcome{Kind: page.TimedOutOutcome, Err: page.ErrTimedOut}
	l.logger.Warn().Dur("timeout", l.desc.Policy.Timeout).Msg("page load timed out")
	l.view.ShowError(page.ErrorProps{Title: l.desc.Title, Cause: page.TimedOut()})
	l.record(l.outcome.Kind.String())
	close(l.done)
}

// stopTimers clears both timers. Caller holds mu.
func (l *PageLoad) stopTimers() {
	if l.delayTimer != nil {
		l.delayTimer.Stop()
	}
	if l.timeoutTimer != nil {
		l.timeoutTimer.Stop()
	}
}

// record reports a terminal transition. Caller holds mu.
func (l *PageLoad) record(outcome string) {
	if l.metrics != nil {
		l.metrics.PageLoad(l.desc.ID, outcome, l.clock.Now().Sub(l.startedAt))
	}
}
