package page

import (
	"errors"
	"fmt"
)

// ErrTimedOut is the error carried by a load that missed its deadline.
var ErrTimedOut = errors.New("page load timed out")

// CauseKind separates slow loads from hard failures.
type CauseKind int

const (
	CauseTimedOut CauseKind = iota + 1
	CauseLoaderFailed
)

// String returns the label used in logs and metrics.
func (k CauseKind) String() string {
	switch k {
	case CauseTimedOut:
		return "timed_out"
	case CauseLoaderFailed:
		return "loader_failed"
	default:
		return "unknown"
	}
}

// Cause explains why the error renderable is shown.
type Cause struct {
	Kind CauseKind
	Err  error
}

// TimedOut returns the cause for a load that missed its deadline.
func TimedOut() Cause {
	return Cause{Kind: CauseTimedOut, Err: ErrTimedOut}
}

// LoaderFailed returns the cause for a loader that returned err.
func LoaderFailed(err error) Cause {
	return Cause{Kind: CauseLoaderFailed, Err: err}
}

// Message is a user-facing description of the cause.
func (c Cause) Message() string {
	switch c.Kind {
	case CauseTimedOut:
		return "The page took too long to load."
	case CauseLoaderFailed:
		if c.Err != nil {
			return "The page failed to load: " + c.Err.Error()
		}
		return "The page failed to load."
	default:
		return "Something went wrong."
	}
}

// OutcomeKind is the terminal result of a load.
type OutcomeKind int

const (
	Resolved OutcomeKind = iota + 1
	TimedOutOutcome
	Failed
)

// String returns the label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case TimedOutOutcome:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is created per load and never shared between loads.
type Outcome struct {
	Kind   OutcomeKind
	Module Module
	Err    error
}

// Cause returns the error cause for a non-resolved outcome.
func (o Outcome) Cause() (Cause, bool) {
	switch o.Kind {
	case TimedOutOutcome:
		return TimedOut(), true
	case Failed:
		return LoaderFailed(o.Err), true
	default:
		return Cause{}, false
	}
}

// ConfigError reports a lookup of an ID that is not in the route table.
type ConfigError struct {
	ID ID
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("Unknown component path: %s", e.ID)
}
