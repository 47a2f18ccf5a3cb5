package app_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/ports"
)

var epoch = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

// stubModule renders its title.
type stubModule struct {
	id page.ID
}

func (m stubModule) ID() page.ID { return m.id }

func (m stubModule) Render(w io.Writer, d page.Data) error {
	_, err := io.WriteString(w, "<p>"+d.Title+"</p>")
	return err
}

// gate is a loader the test settles by hand.
type gate struct {
	ch      chan gateResult
	calls   int
	mu      sync.Mutex
	ctxDone chan struct{}
}

type gateResult struct {
	mod page.Module
	err error
}

func newGate() *gate {
	return &gate{ch: make(chan gateResult, 1), ctxDone: make(chan struct{})}
}

func (g *gate) loader(ctx context.Context) (page.Module, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		select {
		case <-g.ctxDone:
		default:
			close(g.ctxDone)
		}
	}()

	r := <-g.ch
	return r.mod, r.err
}

func (g *gate) resolve(m page.Module) { g.ch <- gateResult{mod: m} }
func (g *gate) fail(err error)         { g.ch <- gateResult{err: err} }

func (g *gate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// viewEvent is one observable transition, timestamped relative to epoch.
type viewEvent struct {
	kind  string // "loading", "error", "mount"
	at    time.Duration
	title string
	cause page.Cause
	mod   page.Module
}

type recordingView struct {
	clock ports.Clock

	mu     sync.Mutex
	events []viewEvent
}

func newRecordingView(c ports.Clock) *recordingView {
	return &recordingView{clock: c}
}

func (v *recordingView) add(e viewEvent) {
	e.at = v.clock.Now().Sub(epoch)
	v.mu.Lock()
	v.events = append(v.events, e)
	v.mu.Unlock()
}

func (v *recordingView) ShowLoading(p page.LoadingProps) {
	v.add(viewEvent{kind: "loading", title: p.Title})
}

func (v *recordingView) ShowError(p page.ErrorProps) {
	v.add(viewEvent{kind: "error", title: p.Title, cause: p.Cause})
}

func (v *recordingView) Mount(m page.Module) {
	v.add(viewEvent{kind: "mount", mod: m})
}

func (v *recordingView) snapshot() []viewEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]viewEvent, len(v.events))
	copy(out, v.events)
	return out
}

// sinkRecorder collects rejected failures.
type sinkRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (s *sinkRecorder) Reject(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *sinkRecorder) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for load to settle")
	}
}
