// Package page provides value types for lazily resolved dashboard pages.
// A page is identified by a static ID, resolved through a Loader, and
// governed by a timing Policy that decides when loading and error feedback
// become visible.
package page

import (
	"context"
	"io"
	"time"
)

// ID is the static key naming a loadable page module.
type ID string

// Default timing values.
const (
	DefaultDelay   = 200 * time.Millisecond
	DefaultTimeout = 30000 * time.Millisecond
)

// Policy governs loading and error feedback for one page load.
// Delay is the grace period before any loading feedback; Timeout is the
// absolute deadline, measured from the start of the load.
type Policy struct {
	Delay   time.Duration `yaml:"delay" json:"delay"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultPolicy returns the policy used when a page has no override.
func DefaultPolicy() Policy {
	return Policy{Delay: DefaultDelay, Timeout: DefaultTimeout}
}

// Valid reports whether 0 <= Delay <= Timeout.
func (p Policy) Valid() bool {
	return p.Delay >= 0 && p.Timeout >= p.Delay
}

// WithDefaults returns p with zero fields taken from d.
func (p Policy) WithDefaults(d Policy) Policy {
	if p.Delay == 0 {
		p.Delay = d.Delay
	}
	if p.Timeout == 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Data is passed to a module when it renders.
type Data struct {
	Title  string
	Path   string
	Params map[string]string
}

// Module is a resolved, renderable page.
type Module interface {
	ID() ID
	Render(w io.Writer, data Data) error
}

// Loader resolves a page module. It may be invoked repeatedly and is not
// required to honour ctx.
type Loader func(ctx context.Context) (Module, error)

// Renderable is an opaque handle naming a loading or error view.
type Renderable string

// Built-in renderables.
const (
	LoadingView Renderable = "loading"
	ErrorView   Renderable = "error"
)

// Descriptor is one entry of the route table.
type Descriptor struct {
	ID      ID
	Path    string
	Title   string
	Loader  Loader
	Loading Renderable
	Error   Renderable
	Policy  Policy
}

// LoadingProps are handed to the loading renderable.
type LoadingProps struct {
	Title string
}

// ErrorProps are handed to the error renderable.
type ErrorProps struct {
	Title string
	Cause Cause
}
