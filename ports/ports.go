// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/mergedash/domain/page"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time and timers for testability.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. f runs on its own goroutine
	// for the real clock and synchronously inside Advance for the fake.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Page Ports
// -----------------------------------------------------------------------------

// PageView receives the observable transitions of one page load.
// Implementations must not call back into the load that drives them.
type PageView interface {
	ShowLoading(props page.LoadingProps)
	ShowError(props page.ErrorProps)
	Mount(m page.Module)
}

// PageSource binds page ids to loaders. The asset store implements it.
type PageSource interface {
	Loader(id page.ID) page.Loader
}

// -----------------------------------------------------------------------------
// Failure Ports
// -----------------------------------------------------------------------------

// FailureSink receives failures that no caller is left to handle.
type FailureSink interface {
	Reject(err error)
}

// RejectionEvent is dispatched for every unhandled failure.
type RejectionEvent struct {
	Reason    error
	prevented bool
}

// NewRejectionEvent wraps an unhandled failure.
func NewRejectionEvent(reason error) *RejectionEvent {
	return &RejectionEvent{Reason: reason}
}

// PreventDefault marks the event as handled; default reporting is skipped.
func (e *RejectionEvent) PreventDefault() {
	e.prevented = true
}

// DefaultPrevented reports whether a listener handled the event.
func (e *RejectionEvent) DefaultPrevented() bool {
	return e.prevented
}

// RejectionSource delivers unhandled failures to listeners. Listeners run
// synchronously, in registration order, before default handling.
type RejectionSource interface {
	OnUnhandled(fn func(ev *RejectionEvent))
}

// -----------------------------------------------------------------------------
// Recovery Ports
// -----------------------------------------------------------------------------

// Banner is the non-blocking recovery prompt.
type Banner interface {
	Show()
	Hide()
}

// Confirmer asks a blocking yes/no question.
type Confirmer interface {
	Confirm(message string) bool
}

// Reloader performs a full reload of deployed assets.
type Reloader interface {
	Reload(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics records page load and recovery events.
type Metrics interface {
	// PageLoad records a load that left Pending; outcome is "resolved",
	// "failed", "timed_out" or "cancelled".
	PageLoad(id page.ID, outcome string, elapsed time.Duration)
	LoadingShown(id page.ID)
	StaleAsset(signature string)
	RecoveryPrompt(path string)
	UnhandledFailure()
}
