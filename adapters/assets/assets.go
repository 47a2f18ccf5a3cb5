// Package assets serves page modules from a deployed asset directory.
//
// A deployment is a directory holding manifest.yaml and content-hashed page
// templates:
//
//	version: "2024-06-15.3"
//	pages:
//	  pages/dashboard: pages/dashboard.5e1f0c.html
//
// The manifest is read once and kept until Reload. A redeploy that removes
// the files the kept manifest points to turns later loads into stale-asset
// failures.
package assets

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/domain/staleasset"
	"github.com/artpar/mergedash/ports"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest's name inside a deployment.
const ManifestFile = "manifest.yaml"

//go:embed dist
var bundled embed.FS

// Manifest maps page ids to hashed template files.
type Manifest struct {
	Version string            `yaml:"version"`
	Pages   map[string]string `yaml:"pages"`
}

// Store loads page modules from a deployment.
type Store struct {
	fsys     fs.FS
	dir      string // on-disk root, empty for embedded deployments
	logger   zerolog.Logger
	onReload func(err error)

	mu       sync.RWMutex
	manifest Manifest
	modules  map[page.ID]page.Module
	deployed bool // manifest changed on disk since it was read

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithReloadHook calls fn after every Reload with its result.
func WithReloadHook(fn func(err error)) Option {
	return func(s *Store) { s.onReload = fn }
}

// Open reads the manifest of the deployment in fsys.
func Open(fsys fs.FS, logger zerolog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		fsys:    fsys,
		logger:  logger.With().Str("component", "assets").Logger(),
		modules: make(map[page.ID]page.Module),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := readManifest(fsys)
	if err != nil {
		return nil, err
	}
	s.manifest = m

	s.logger.Info().
		Str("version", m.Version).
		Int("pages", len(m.Pages)).
		Msg("asset manifest loaded")
	return s, nil
}

// OpenDir opens the deployment rooted at dir.
func OpenDir(dir string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	s, err := Open(os.DirFS(abs), logger, opts...)
	if err != nil {
		return nil, err
	}
	s.dir = abs
	return s, nil
}

// OpenBundled opens the deployment compiled into the binary.
func OpenBundled(logger zerolog.Logger, opts ...Option) (*Store, error) {
	sub, err := fs.Sub(bundled, "dist")
	if err != nil {
		return nil, err
	}
	return Open(sub, logger, opts...)
}

func readManifest(fsys fs.FS) (Manifest, error) {
	data, err := fs.ReadFile(fsys, ManifestFile)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version == "" {
		return Manifest{}, errors.New("parse manifest: version is required")
	}
	return m, nil
}

// Loader returns the loader for id.
func (s *Store) Loader(id page.ID) page.Loader {
	return func(ctx context.Context) (page.Module, error) {
		return s.load(ctx, id)
	}
}

func (s *Store) load(ctx context.Context, id page.ID) (page.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	mod, cached := s.modules[id]
	file, listed := s.manifest.Pages[string(id)]
	version := s.manifest.Version
	s.mu.RUnlock()

	if cached {
		return mod, nil
	}
	if !listed {
		return nil, staleasset.ChunkMissing(string(id))
	}

	data, err := fs.ReadFile(s.fsys, file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, staleasset.FetchFailed(file, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read page %s: %w", file, err)
	}

	tmpl, err := template.New(string(id)).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", file, err)
	}
	mod = &templateModule{id: id, tmpl: tmpl}

	s.mu.Lock()
	if s.manifest.Version == version {
		s.modules[id] = mod
	}
	s.mu.Unlock()

	return mod, nil
}

// Reload re-reads the manifest and drops every cached module. On failure
// the previous manifest stays in use.
func (s *Store) Reload(ctx context.Context) error {
	err := s.reload(ctx)
	if s.onReload != nil {
		s.onReload(err)
	}
	return err
}

func (s *Store) reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := readManifest(s.fsys)
	if err != nil {
		s.logger.Error().Err(err).Msg("asset reload failed, keeping old manifest")
		return err
	}

	s.mu.Lock()
	old := s.manifest.Version
	s.manifest = m
	s.modules = make(map[page.ID]page.Module)
	s.deployed = false
	s.mu.Unlock()

	s.logger.Info().Str("old", old).Str("new", m.Version).Msg("assets reloaded")
	return nil
}

// Version returns the version of the manifest in use.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest.Version
}

// DeploymentChanged reports whether the manifest on disk changed since it
// was last read.
func (s *Store) DeploymentChanged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deployed
}

// Watch starts watching the deployment directory for a new manifest. It
// only records the change; loading new assets waits for Reload.
func (s *Store) Watch() error {
	if s.dir == "" {
		return errors.New("watch: deployment is not on disk")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop()

	s.logger.Info().Str("dir", s.dir).Msg("watching deployment for changes")
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ManifestFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			s.mu.Lock()
			first := !s.deployed
			s.deployed = true
			s.mu.Unlock()

			if first {
				s.logger.Info().
					Str("event", event.Op.String()).
					Str("running", s.Version()).
					Msg("new deployment detected")
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("deployment watcher error")

		case <-s.stopCh:
			return
		}
	}
}

type templateModule struct {
	id   page.ID
	tmpl *template.Template
}

func (m *templateModule) ID() page.ID { return m.id }

func (m *templateModule) Render(w io.Writer, data page.Data) error {
	return m.tmpl.Execute(w, data)
}

// Ensure interface compliance.
var (
	_ ports.PageSource = (*Store)(nil)
	_ ports.Reloader   = (*Store)(nil)
)
