package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/artpar/mergedash/app"
	"github.com/artpar/mergedash/domain/page"
	"github.com/go-chi/chi/v5"
)

const (
	sessionCookie = "mergedash_session"
	bannerMessage = "A new version of MergeDash has been deployed. Reload to keep using the dashboard."
)

// PageData holds the data of a full page render.
type PageData struct {
	Title   string
	Version string
	Banner  BannerData
	Nav     []NavItem
	Body    template.HTML
}

// BannerData is what the recovery banner renders.
type BannerData struct {
	Visible bool
	Message string
}

// NavItem is one link of the navigation bar.
type NavItem struct {
	Path   string
	Title  string
	Active bool
}

type slotData struct {
	NavID        string
	Title        string
	Message      string
	PollInterval string
	Content      template.HTML
}

// PageInfo is one row of GET /api/pages.
type PageInfo struct {
	ID        page.ID `json:"id"`
	Path      string  `json:"path"`
	Title     string  `json:"title"`
	DelayMS   int64   `json:"delay_ms"`
	TimeoutMS int64   `json:"timeout_ms"`
}

// Home redirects to the first page of the table.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	target := "/p/dashboard"
	if descs := h.deps.Table.Descriptors(); len(descs) > 0 && descs[0].Path != "" {
		target = "/p" + descs[0].Path
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// PageByPath navigates to the page registered for the path after /p.
func (h *Handler) PageByPath(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	id, ok := h.deps.Table.LookupPath(path)
	if !ok {
		h.renderNotFound(w, r, fmt.Sprintf("No page is registered at %s.", path))
		return
	}
	h.navigate(w, r, id)
}

// NavigateByID navigates to the page id given in the page query parameter.
func (h *Handler) NavigateByID(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, page.ID(r.URL.Query().Get("page")))
}

func (h *Handler) navigate(w http.ResponseWriter, r *http.Request, id page.ID) {
	nav := h.session(w, r)
	view := newPollView()

	load, err := nav.Navigate(r.Context(), id, view)
	if err != nil {
		var cfgErr *page.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			h.renderNotFound(w, r, cfgErr.Error())
		case errors.Is(err, app.ErrNavigatorClosed):
			http.Error(w, "Session expired", http.StatusServiceUnavailable)
		default:
			h.logger.Error().Err(err).Str("page", string(id)).Msg("navigation failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	h.respond(w, r, load, view)
}

// Poll renders the current slot of a navigation. A slot that is still
// loading is held for up to PollWait so the client polls less often.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	load, view := h.currentLoad(r, chi.URLParam(r, "navID"))
	if load == nil {
		h.renderFragment(w, "superseded", slotData{})
		return
	}

	state, changed := view.snapshot()
	if state.kind == slotPending || state.kind == slotLoading {
		select {
		case <-changed:
		case <-load.Done():
		case <-time.After(h.deps.PollWait):
		case <-r.Context().Done():
			return
		}
	}

	h.writeSlot(w, r, load, view, true)
}

// Retry restarts the navigation's page with a fresh load.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	nav, ok := h.lookupSession(r)
	if !ok {
		h.renderFragment(w, "superseded", slotData{})
		return
	}
	if cur := nav.Current(); cur == nil || cur.ID() != chi.URLParam(r, "navID") {
		h.renderFragment(w, "superseded", slotData{})
		return
	}

	view := newPollView()
	load, err := nav.Retry(r.Context(), view)
	if err != nil {
		h.logger.Warn().Err(err).Msg("retry failed")
		http.Error(w, "Nothing to retry", http.StatusConflict)
		return
	}
	h.respond(w, r, load, view)
}

// BannerFragment renders the recovery banner alone.
func (h *Handler) BannerFragment(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, "banner", h.bannerData())
}

// RecoveryReload performs the reload the user asked for from the banner.
func (h *Handler) RecoveryReload(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Recovery.Reload(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("recovery reload failed")
		http.Error(w, "Reload failed", http.StatusInternalServerError)
		return
	}

	if isHTMX(r) {
		w.Header().Set("HX-Refresh", "true")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, backTo(r), http.StatusSeeOther)
}

// RecoveryDismiss hides the banner until the next stale-asset failure.
func (h *Handler) RecoveryDismiss(w http.ResponseWriter, r *http.Request) {
	h.deps.Recovery.Dismiss()

	if isHTMX(r) {
		h.renderFragment(w, "banner", h.bannerData())
		return
	}
	http.Redirect(w, r, backTo(r), http.StatusSeeOther)
}

// Health reports liveness and the deployed asset version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(h.startTime).Round(time.Second).String(),
		"sessions": h.deps.Sessions.Len(),
	}
	if h.deps.Assets != nil {
		body["assets_version"] = h.deps.Assets.Version()
		body["deployment_changed"] = h.deps.Assets.DeploymentChanged()
	}
	writeJSON(w, http.StatusOK, body)
}

// ListPages returns the route table.
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	descs := h.deps.Table.Descriptors()
	out := make([]PageInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, PageInfo{
			ID:        d.ID,
			Path:      d.Path,
			Title:     d.Title,
			DelayMS:   d.Policy.Delay.Milliseconds(),
			TimeoutMS: d.Policy.Timeout.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": out})
}

// respond waits for the first visible transition of load, or for the load
// to settle, and renders it. A fast load is therefore rendered directly
// without a loading slot.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, load *app.PageLoad, view *pollView) {
	state, changed := view.snapshot()
	if state.kind == slotPending {
		select {
		case <-changed:
		case <-load.Done():
		case <-r.Context().Done():
			return
		}
	}
	h.writeSlot(w, r, load, view, isHTMX(r))
}

func (h *Handler) writeSlot(w http.ResponseWriter, r *http.Request, load *app.PageLoad, view *pollView, fragment bool) {
	slot, err := h.renderSlot(r, load, view)
	if err != nil {
		h.logger.Error().Err(err).Str("nav", load.ID()).Msg("slot render error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if fragment {
		w.Write([]byte(slot))
		return
	}

	desc := load.Descriptor()
	h.renderPage(w, desc.Title, desc.Path, slot)
}

func (h *Handler) renderSlot(r *http.Request, load *app.PageLoad, view *pollView) (template.HTML, error) {
	state, _ := view.snapshot()
	desc := load.Descriptor()
	data := slotData{
		NavID:        load.ID(),
		Title:        desc.Title,
		PollInterval: h.deps.PollInterval.String(),
	}

	name := "superseded"
	switch state.kind {
	case slotLoading:
		name = "loading"
	case slotError:
		name = "error"
		data.Message = state.cause.Message()
	case slotMounted:
		var buf bytes.Buffer
		err := state.module.Render(&buf, page.Data{
			Title:  desc.Title,
			Path:   desc.Path,
			Params: queryParams(r),
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("page", string(desc.ID)).Msg("page render failed")
			name = "error"
			data.Message = page.LoaderFailed(err).Message()
			break
		}
		name = "mounted"
		data.Content = template.HTML(buf.String())
	case slotPending:
		if load.State() != app.LoadCancelled {
			// Still pending after the wait; show the loading slot.
			name = "loading"
		}
	}

	return h.execute(name, data)
}

func (h *Handler) renderPage(w http.ResponseWriter, title, path string, body template.HTML) {
	data := PageData{
		Title:  title,
		Banner: h.bannerData(),
		Body:   body,
	}
	if h.deps.Assets != nil {
		data.Version = h.deps.Assets.Version()
	}
	for _, d := range h.deps.Table.Descriptors() {
		data.Nav = append(data.Nav, NavItem{Path: d.Path, Title: d.Title, Active: d.Path == path})
	}

	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error().Err(err).Msg("template render error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (h *Handler) renderNotFound(w http.ResponseWriter, r *http.Request, message string) {
	slot, err := h.execute("notfound", slotData{Message: message})
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(slot))
		return
	}

	var buf bytes.Buffer
	data := PageData{Title: "Not found", Banner: h.bannerData(), Body: slot}
	for _, d := range h.deps.Table.Descriptors() {
		data.Nav = append(data.Nav, NavItem{Path: d.Path, Title: d.Title})
	}
	if err := h.templates.ExecuteTemplate(&buf, "layout", data); err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write(buf.Bytes())
}

func (h *Handler) renderFragment(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("partial render error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) execute(name string, data interface{}) (template.HTML, error) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

func (h *Handler) bannerData() BannerData {
	return BannerData{Visible: h.deps.Banner.Visible(), Message: bannerMessage}
}

// session returns the navigator of the caller, starting a session when the
// request carries none.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *app.Navigator {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return h.deps.Sessions.Get(c.Value)
	}

	id := h.deps.IDs.New()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return h.deps.Sessions.Get(id)
}

func (h *Handler) lookupSession(r *http.Request) (*app.Navigator, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil, false
	}
	return h.deps.Sessions.Lookup(c.Value)
}

// currentLoad returns the session's load when it is still navID.
func (h *Handler) currentLoad(r *http.Request, navID string) (*app.PageLoad, *pollView) {
	nav, ok := h.lookupSession(r)
	if !ok {
		return nil, nil
	}
	load := nav.Current()
	if load == nil || load.ID() != navID {
		return nil, nil
	}
	view, ok := load.View().(*pollView)
	if !ok {
		return nil, nil
	}
	return load, view
}

func queryParams(r *http.Request) map[string]string {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// backTo returns the local path the request came from.
func backTo(r *http.Request) string {
	u, err := url.Parse(r.Referer())
	if err != nil || u.Path == "" || u.Path[0] != '/' {
		return "/"
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
