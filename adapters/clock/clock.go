// Package clock provides Clock implementations.
package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/artpar/mergedash/ports"
)

// Real returns the actual current time.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f on a runtime timer.
func (Real) AfterFunc(d time.Duration, f func()) ports.Timer {
	return time.AfterFunc(d, f)
}

// Fake provides a controllable clock for testing.
// Timers fire synchronously inside Advance, in deadline order, with Now
// reporting each timer's deadline while it runs.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
	seq     uint64
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Set sets the fake current time without firing timers.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// AfterFunc registers f to run once the fake time reaches Now()+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) ports.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, when: f.current.Add(d), fn: fn, seq: f.seq}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves time forward by d, firing every timer that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.current.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.popDue(target)
		if next == nil {
			f.current = target
			f.mu.Unlock()
			return
		}
		if next.when.After(f.current) {
			f.current = next.when
		}
		f.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of timers that have neither fired nor stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// popDue removes and returns the earliest timer due at or before target.
// Caller holds f.mu.
func (f *Fake) popDue(target time.Time) *fakeTimer {
	if len(f.timers) == 0 {
		return nil
	}
	sort.SliceStable(f.timers, func(i, j int) bool {
		if !f.timers[i].when.Equal(f.timers[j].when) {
			return f.timers[i].when.Before(f.timers[j].when)
		}
		return f.timers[i].seq < f.timers[j].seq
	})
	next := f.timers[0]
	if next.when.After(target) {
		return nil
	}
	f.timers = f.timers[1:]
	return next
}

func (f *Fake) remove(t *fakeTimer) bool {
	for i, pending := range f.timers {
		if pending == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock *Fake
	when  time.Time
	fn    func()
	seq   uint64
}

// Stop cancels the timer if it has not fired yet.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.remove(t)
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
