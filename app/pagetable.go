package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/ports"
	"github.com/rs/zerolog"
)

// PageEntry is one row of the static route table.
type PageEntry struct {
	ID    page.ID
	Path  string
	Title string

	// Loader overrides the loader bound from the PageSource.
	Loader page.Loader

	// Policy overrides the table defaults; zero fields inherit them.
	Policy page.Policy
}

// PageTableConfig configures a PageTable.
type PageTableConfig struct {
	Defaults  page.Policy
	Overrides map[page.ID]page.Policy // from configuration, applied on top of entry policies
}

// PageTable maps page ids to descriptors. It is immutable after
// construction and safe for concurrent lookups.
type PageTable struct {
	byID   map[page.ID]page.Descriptor
	byPath map[string]page.ID
	order  []page.ID
	logger zerolog.Logger
}

// NewPageTable builds the table. Entries without a Loader are bound to
// source. A missing title, missing loader, duplicate id or invalid policy
// is a configuration defect and panics.
func NewPageTable(entries []PageEntry, source ports.PageSource, cfg PageTableConfig, logger zerolog.Logger) *PageTable {
	if cfg.Defaults == (page.Policy{}) {
		cfg.Defaults = page.DefaultPolicy()
	}

	t := &PageTable{
		byID:   make(map[page.ID]page.Descriptor, len(entries)),
		byPath: make(map[string]page.ID, len(entries)),
		order:  make([]page.ID, 0, len(entries)),
		logger: logger.With().Str("service", "pagetable").Logger(),
	}

	for _, e := range entries {
		if _, dup := t.byID[e.ID]; dup {
			panic(fmt.Sprintf("pagetable: duplicate page id %q", e.ID))
		}
		if strings.TrimSpace(e.Title) == "" {
			panic(fmt.Sprintf("pagetable: page %q has no title", e.ID))
		}

		loader := e.Loader
		if loader == nil && source != nil {
			loader = source.Loader(e.ID)
		}
		if loader == nil {
			panic(fmt.Sprintf("pagetable: page %q has no loader", e.ID))
		}

		policy := resolvePolicy(e.Policy, e.ID, cfg)
		if !policy.Valid() {
			panic(fmt.Sprintf("pagetable: page %q has invalid policy delay=%s timeout=%s", e.ID, policy.Delay, policy.Timeout))
		}

		t.byID[e.ID] = page.Descriptor{
			ID:      e.ID,
			Path:    e.Path,
			Title:   e.Title,
			Loader:  loader,
			Loading: page.LoadingView,
			Error:   page.ErrorView,
			Policy:  policy,
		}
		if e.Path != "" {
			t.byPath[e.Path] = e.ID
		}
		t.order = append(t.order, e.ID)
	}

	for id := range cfg.Overrides {
		if _, ok := t.byID[id]; !ok {
			t.logger.Warn().Str("page", string(id)).Msg("timing override for unknown page ignored")
		}
	}

	return t
}

// ErrInvalidPolicy is returned by ResolvePolicies when a page would get a
// delay longer than its timeout.
var ErrInvalidPolicy = errors.New("invalid page policy")

// ResolvePolicies returns the policy every entry would get under cfg. It
// lets callers reject a configuration before NewPageTable panics on it.
func ResolvePolicies(entries []PageEntry, cfg PageTableConfig) (map[page.ID]page.Policy, error) {
	if cfg.Defaults == (page.Policy{}) {
		cfg.Defaults = page.DefaultPolicy()
	}

	policies := make(map[page.ID]page.Policy, len(entries))
	for _, e := range entries {
		p := resolvePolicy(e.Policy, e.ID, cfg)
		if !p.Valid() {
			return nil, fmt.Errorf("%w: page %s delay=%s timeout=%s", ErrInvalidPolicy, e.ID, p.Delay, p.Timeout)
		}
		policies[e.ID] = p
	}
	return policies, nil
}

func resolvePolicy(entry page.Policy, id page.ID, cfg PageTableConfig) page.Policy {
	policy := entry.WithDefaults(cfg.Defaults)
	if o, ok := cfg.Overrides[id]; ok {
		policy = o.WithDefaults(policy)
	}
	return policy
}

// Lookup returns the descriptor for id. An unknown id is reported to the
// log and returned as a *page.ConfigError.
func (t *PageTable) Lookup(id page.ID) (page.Descriptor, error) {
	d, ok := t.byID[id]
	if !ok {
		err := &page.ConfigError{ID: id}
		t.logger.Error().Str("page", string(id)).Err(err).Msg("page lookup failed")
		return page.Descriptor{}, err
	}
	return d, nil
}

// MustLookup is Lookup for ids known at compile time.
func (t *PageTable) MustLookup(id page.ID) page.Descriptor {
	d, err := t.Lookup(id)
	if err != nil {
		panic(err)
	}
	return d
}

// LookupPath resolves a URL path to its page id.
func (t *PageTable) LookupPath(path string) (page.ID, bool) {
	id, ok := t.byPath[path]
	return id, ok
}

// IDs returns every page id in table order.
func (t *PageTable) IDs() []page.ID {
	out := make([]page.ID, len(t.order))
	copy(out, t.order)
	return out
}

// Descriptors returns every descriptor in table order.
func (t *PageTable) Descriptors() []page.Descriptor {
	out := make([]page.Descriptor, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}
