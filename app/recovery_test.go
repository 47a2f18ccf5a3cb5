package app_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/artpar/mergedash/adapters/clock"
	"github.com/artpar/mergedash/adapters/idgen"
	"github.com/artpar/mergedash/adapters/rejection"
	"github.com/artpar/mergedash/app"
	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/domain/staleasset"
	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

type countingBanner struct {
	mu    sync.Mutex
	shows int
	hides int
}

func (b *countingBanner) Show() { b.mu.Lock(); b.shows++; b.mu.Unlock() }
func (b *countingBanner) Hide() { b.mu.Lock(); b.hides++; b.mu.Unlock() }

func (b *countingBanner) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shows, b.hides
}

type scriptedConfirmer struct {
	answer   bool
	mu       sync.Mutex
	messages []string
}

func (c *scriptedConfirmer) Confirm(msg string) bool {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return c.answer
}

func (c *scriptedConfirmer) asked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

type countingReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingReloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *countingReloader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type metricsRecorder struct {
	mu      sync.Mutex
	stale   []string
	prompts []string
}

func (m *metricsRecorder) PageLoad(page.ID, string, time.Duration) {}
func (m *metricsRecorder) LoadingShown(page.ID)                    {}
func (m *metricsRecorder) UnhandledFailure()                       {}

func (m *metricsRecorder) StaleAsset(sig string) {
	m.mu.Lock()
	m.stale = append(m.stale, sig)
	m.mu.Unlock()
}

func (m *metricsRecorder) RecoveryPrompt(path string) {
	m.mu.Lock()
	m.prompts = append(m.prompts, path)
	m.mu.Unlock()
}

func newRecovery(confirm ports.Confirmer, reload ports.Reloader) (*app.RecoveryManager, *rejection.Hub) {
	hub := rejection.NewHub(zerolog.Nop(), nil)
	m := app.NewRecoveryManager(app.RecoveryDeps{
		Confirmer: confirm,
		Reloader:  reload,
		Clock:     clock.NewFake(epoch),
		Logger:    zerolog.Nop(),
	})
	if err := m.Install(hub); err != nil {
		panic(err)
	}
	return m, hub
}

func TestRecovery_BannerDedup(t *testing.T) {
	reloader := &countingReloader{}
	m, _ := newRecovery(&scriptedConfirmer{answer: true}, reloader)
	banner := &countingBanner{}
	m.AttachBanner(banner)

	ev1 := ports.NewRejectionEvent(errors.New("TypeError: Failed to fetch dynamically imported module: /assets/pages/merge_requests.b90d13.html"))
	ev2 := ports.NewRejectionEvent(errors.New("TypeError: Failed to fetch dynamically imported module: /assets/pages/reviews.0d4c11.html"))
	m.HandleRejection(ev1)
	m.HandleRejection(ev2)

	if !ev1.DefaultPrevented() || !ev2.DefaultPrevented() {
		t.Error("stale-asset events not prevented")
	}
	if shows, _ := banner.counts(); shows != 1 {
		t.Errorf("banner shown %d times, want 1", shows)
	}
	st := m.State()
	if !st.BannerVisible || st.LastFailureSignature != staleasset.SignatureDynamicImport {
		t.Errorf("State() = %+v", st)
	}
	if !st.LastFailureAt.Equal(epoch) {
		t.Errorf("LastFailureAt = %v, want %v", st.LastFailureAt, epoch)
	}

	other := ports.NewRejectionEvent(errors.New("TypeError: x is undefined"))
	m.HandleRejection(other)
	if other.DefaultPrevented() {
		t.Error("unrelated failure was prevented")
	}
	if reloader.count() != 0 {
		t.Error("banner path reloaded without a user action")
	}
}

func TestRecovery_Classification(t *testing.T) {
	tests := []struct {
		msg     string
		handled bool
	}{
		{"ChunkLoadError: Loading chunk 42 failed", true},
		{"Failed to fetch dynamically imported module: /x.js", true},
		{"failed to fetch dynamically imported module: /x.js", false},
		{"chunkloaderror", false},
		{"Error: Network request failed", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			m, _ := newRecovery(nil, &countingReloader{})
			m.AttachBanner(&countingBanner{})
			ev := ports.NewRejectionEvent(errors.New(tt.msg))
			m.HandleRejection(ev)
			if ev.DefaultPrevented() != tt.handled {
				t.Errorf("prevented = %v, want %v", ev.DefaultPrevented(), tt.handled)
			}
			if m.State().BannerVisible != tt.handled {
				t.Errorf("BannerVisible = %v, want %v", m.State().BannerVisible, tt.handled)
			}
		})
	}
}

func TestRecovery_FallbackConfirmReloadsOnce(t *testing.T) {
	confirm := &scriptedConfirmer{answer: true}
	reloader := &countingReloader{}
	m, hub := newRecovery(confirm, reloader)

	hub.Reject(staleasset.ChunkMissing("pages/reviews"))

	if confirm.asked() != 1 {
		t.Errorf("confirm asked %d times, want 1", confirm.asked())
	}
	if reloader.count() != 1 {
		t.Errorf("reloads = %d, want 1", reloader.count())
	}
	if st := m.State(); st.LastFailureSignature != "" || st.BannerVisible {
		t.Errorf("State() after reload = %+v, want cleared", st)
	}
}

func TestRecovery_FallbackConfirmBackToBack(t *testing.T) {
	confirm := &scriptedConfirmer{answer: true}
	reloader := &countingReloader{}
	m, hub := newRecovery(confirm, reloader)

	// Both failures come from the same stale deployment.
	hub.Reject(staleasset.FetchFailed("pages/merge_requests.b90d13.html", nil))
	hub.Reject(staleasset.FetchFailed("pages/reviews.0d4c11.html", nil))

	if confirm.asked() != 1 || reloader.count() != 1 {
		t.Errorf("confirm asked=%d reloads=%d, want 1/1", confirm.asked(), reloader.count())
	}
	if got := m.State().LastFailureSignature; got != staleasset.SignatureDynamicImport {
		t.Errorf("LastFailureSignature = %q, want the second failure recorded", got)
	}

	// The recorded failure surfaces once the banner attaches.
	banner := &countingBanner{}
	m.AttachBanner(banner)
	if shows, _ := banner.counts(); shows != 1 {
		t.Errorf("banner shown %d times on attach, want 1", shows)
	}
	if reloader.count() != 1 {
		t.Errorf("reloads = %d after attach, want 1", reloader.count())
	}
}

func TestRecovery_FallbackDeclined(t *testing.T) {
	confirm := &scriptedConfirmer{answer: false}
	reloader := &countingReloader{}
	m, hub := newRecovery(confirm, reloader)

	hub.Reject(staleasset.ChunkMissing("pages/reviews"))
	hub.Reject(staleasset.FetchFailed("pages/reviews.0d4c11.html", nil))

	if confirm.asked() != 1 {
		t.Errorf("confirm asked %d times, want 1", confirm.asked())
	}
	if reloader.count() != 0 {
		t.Errorf("declined prompt reloaded %d times", reloader.count())
	}

	// The banner appears for the failure still on record.
	banner := &countingBanner{}
	m.AttachBanner(banner)
	if shows, _ := banner.counts(); shows != 1 {
		t.Errorf("banner shown %d times on attach, want 1", shows)
	}
	if !m.State().BannerVisible {
		t.Error("BannerVisible = false after attach")
	}
}

func TestRecovery_FallbackWithoutConfirmerNeverReloads(t *testing.T) {
	reloader := &countingReloader{}
	_, hub := newRecovery(nil, reloader)

	hub.Reject(staleasset.ChunkMissing("pages/reviews"))
	if reloader.count() != 0 {
		t.Errorf("reloaded %d times without confirmation", reloader.count())
	}
}

func TestRecovery_DismissThenNewFailure(t *testing.T) {
	m, hub := newRecovery(nil, &countingReloader{})
	banner := &countingBanner{}
	m.AttachBanner(banner)

	hub.Reject(staleasset.ChunkMissing("pages/a"))
	m.Dismiss()
	if m.State().BannerVisible {
		t.Error("banner still visible after Dismiss")
	}
	hub.Reject(staleasset.ChunkMissing("pages/b"))

	shows, hides := banner.counts()
	if shows != 2 || hides != 1 {
		t.Errorf("shows/hides = %d/%d, want 2/1", shows, hides)
	}

	// Dismissing a hidden banner is a no-op.
	m.Dismiss()
	m.Dismiss()
	if _, hides := banner.counts(); hides != 2 {
		t.Errorf("hides = %d, want 2", hides)
	}
}

type flagBanner struct {
	mu      sync.Mutex
	visible bool
}

func (b *flagBanner) Show() { b.mu.Lock(); b.visible = true; b.mu.Unlock() }
func (b *flagBanner) Hide() { b.mu.Lock(); b.visible = false; b.mu.Unlock() }

func (b *flagBanner) shown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

func TestRecovery_ConcurrentShowDismiss(t *testing.T) {
	for i := 0; i < 200; i++ {
		m, hub := newRecovery(nil, &countingReloader{})
		banner := &flagBanner{}
		m.AttachBanner(banner)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Reject(staleasset.ChunkMissing("pages/a"))
		}()
		go func() {
			defer wg.Done()
			m.Dismiss()
		}()
		wg.Wait()

		if got, want := banner.shown(), m.State().BannerVisible; got != want {
			t.Fatalf("iteration %d: banner shown = %v, BannerVisible = %v", i, got, want)
		}
	}
}

func TestRecovery_ReloadAction(t *testing.T) {
	reloader := &countingReloader{}
	m, hub := newRecovery(nil, reloader)
	banner := &countingBanner{}
	m.AttachBanner(banner)

	hub.Reject(staleasset.ChunkMissing("pages/a"))
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if reloader.count() != 1 {
		t.Errorf("reloads = %d, want 1", reloader.count())
	}
	if _, hides := banner.counts(); hides != 1 {
		t.Errorf("hides = %d, want 1", hides)
	}
	if m.State().BannerVisible {
		t.Error("banner visible after reload")
	}

	reloader.err = errors.New("manifest unreadable")
	hub.Reject(staleasset.ChunkMissing("pages/a"))
	if err := m.Reload(context.Background()); err == nil || !strings.Contains(err.Error(), "manifest unreadable") {
		t.Errorf("Reload error = %v", err)
	}
	if !m.State().BannerVisible {
		t.Error("failed reload cleared the banner")
	}
}

func TestRecovery_ReloadWithoutReloader(t *testing.T) {
	m := app.NewRecoveryManager(app.RecoveryDeps{Logger: zerolog.Nop()})
	if err := m.Reload(context.Background()); !errors.Is(err, app.ErrNoReloader) {
		t.Errorf("Reload error = %v, want ErrNoReloader", err)
	}
}

func TestRecovery_InstallOnce(t *testing.T) {
	m, hub := newRecovery(nil, &countingReloader{})
	if err := m.Install(hub); !errors.Is(err, app.ErrRecoveryInstalled) {
		t.Errorf("second Install error = %v, want ErrRecoveryInstalled", err)
	}

	banner := &countingBanner{}
	m.AttachBanner(banner)
	hub.Reject(staleasset.ChunkMissing("pages/a"))
	if m.State().LastFailureSignature != staleasset.SignatureChunkLoad {
		t.Error("listener not registered")
	}
}

func TestRecovery_HubDefaultHandling(t *testing.T) {
	var buf bytes.Buffer
	hub := rejection.NewHub(zerolog.New(&buf), nil)
	metrics := &metricsRecorder{}
	m := app.NewRecoveryManager(app.RecoveryDeps{Metrics: metrics, Logger: zerolog.Nop()})
	if err := m.Install(hub); err != nil {
		t.Fatal(err)
	}
	m.AttachBanner(&countingBanner{})

	hub.Reject(staleasset.FetchFailed("pages/a.1.html", nil))
	if strings.Contains(buf.String(), "unhandled failure") {
		t.Errorf("prevented failure reached default handling: %s", buf.String())
	}

	hub.Reject(errors.New("database is locked"))
	if !strings.Contains(buf.String(), "unhandled failure") {
		t.Error("unrelated failure skipped default handling")
	}

	if len(metrics.stale) != 1 || metrics.stale[0] != staleasset.SignatureDynamicImport {
		t.Errorf("stale metrics = %v", metrics.stale)
	}
	if len(metrics.prompts) != 1 || metrics.prompts[0] != "banner" {
		t.Errorf("prompt metrics = %v", metrics.prompts)
	}
}

func TestRecovery_LoadFailureReachesBanner(t *testing.T) {
	hub := rejection.NewHub(zerolog.Nop(), nil)
	m := app.NewRecoveryManager(app.RecoveryDeps{Logger: zerolog.Nop()})
	if err := m.Install(hub); err != nil {
		t.Fatal(err)
	}
	banner := &countingBanner{}
	m.AttachBanner(banner)

	clk := clock.NewFake(epoch)
	g := newGate()
	src := newGatedSource()
	src.gates[app.PageReviews] = g
	table := app.NewPageTable(app.Pages, src, app.PageTableConfig{}, zerolog.Nop())
	nav := app.NewNavigator(app.NavigatorDeps{
		Table:  table,
		Clock:  clk,
		IDs:    idgen.NewSequential("nav_"),
		Sink:   hub,
		Logger: zerolog.Nop(),
	})

	view := newRecordingView(clk)
	load, err := nav.Navigate(context.Background(), app.PageReviews, view)
	if err != nil {
		t.Fatalf("Navigate error: %v", err)
	}
	g.fail(staleasset.ChunkMissing(string(app.PageReviews)))
	waitDone(t, load.Done())
	load.Wait()

	if events := view.snapshot(); len(events) != 1 || events[0].kind != "error" {
		t.Errorf("view events = %+v, want local error", events)
	}
	if shows, _ := banner.counts(); shows != 1 {
		t.Errorf("banner shows = %d, want 1", shows)
	}
}
