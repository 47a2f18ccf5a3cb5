package rejection_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/mergedash/adapters/rejection"
	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

type countingMetrics struct {
	unhandled int
}

func (m *countingMetrics) PageLoad(page.ID, string, time.Duration) {}
func (m *countingMetrics) LoadingShown(page.ID)                      {}
func (m *countingMetrics) StaleAsset(string)                         {}
func (m *countingMetrics) RecoveryPrompt(string)                     {}
func (m *countingMetrics) UnhandledFailure()                         { m.unhandled++ }

func TestHub_DispatchInOrder(t *testing.T) {
	h := rejection.NewHub(zerolog.Nop(), nil)

	var order []string
	h.OnUnhandled(func(ev *ports.RejectionEvent) { order = append(order, "first") })
	h.OnUnhandled(func(ev *ports.RejectionEvent) { order = append(order, "second") })

	h.Reject(errors.New("boom"))

	if strings.Join(order, ",") != "first,second" {
		t.Errorf("order = %v", order)
	}
}

func TestHub_DefaultHandling(t *testing.T) {
	var buf bytes.Buffer
	m := &countingMetrics{}
	h := rejection.NewHub(zerolog.New(&buf), m)

	h.Reject(errors.New("connection reset"))

	if m.unhandled != 1 {
		t.Errorf("unhandled = %d, want 1", m.unhandled)
	}
	if !strings.Contains(buf.String(), "unhandled failure") || !strings.Contains(buf.String(), "connection reset") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestHub_PreventDefault(t *testing.T) {
	var buf bytes.Buffer
	m := &countingMetrics{}
	h := rejection.NewHub(zerolog.New(&buf), m)

	var seen error
	h.OnUnhandled(func(ev *ports.RejectionEvent) {
		seen = ev.Reason
		ev.PreventDefault()
	})

	boom := errors.New("boom")
	h.Reject(boom)

	if seen != boom {
		t.Errorf("listener saw %v, want %v", seen, boom)
	}
	if m.unhandled != 0 {
		t.Errorf("unhandled = %d, want 0", m.unhandled)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %s", buf.String())
	}
}

func TestHub_RejectNil(t *testing.T) {
	m := &countingMetrics{}
	h := rejection.NewHub(zerolog.Nop(), m)
	called := false
	h.OnUnhandled(func(ev *ports.RejectionEvent) { called = true })

	h.Reject(nil)

	if called || m.unhandled != 0 {
		t.Error("nil error should not be dispatched")
	}
}

func TestHub_Middleware(t *testing.T) {
	h := rejection.NewHub(zerolog.Nop(), nil)

	var seen error
	h.OnUnhandled(func(ev *ports.RejectionEvent) {
		seen = ev.Reason
		ev.PreventDefault()
	})

	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("template exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p/dashboard", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if seen == nil || !strings.Contains(seen.Error(), "panic serving /p/dashboard: template exploded") {
		t.Errorf("rejected %v", seen)
	}
}

func TestHub_Middleware_WrapsErrorPanics(t *testing.T) {
	h := rejection.NewHub(zerolog.Nop(), nil)
	sentinel := errors.New("sentinel")

	var seen error
	h.OnUnhandled(func(ev *ports.RejectionEvent) { seen = ev.Reason })

	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(sentinel)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !errors.Is(seen, sentinel) {
		t.Errorf("rejected %v, want wrapped sentinel", seen)
	}
}

func TestHub_Middleware_PassThrough(t *testing.T) {
	h := rejection.NewHub(zerolog.Nop(), nil)
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}
