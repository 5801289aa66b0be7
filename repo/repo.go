// Package repo installs, updates and removes themes published in a remote
// theme repository database.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"chumtheme/model"
	"chumtheme/storage"
)

// SupportedVersion is the repository database format this client understands.
const SupportedVersion = 4

// Client is the value of the client field for themes usable here.
const Client = "pesterchum"

// DefaultParent is the theme a repository entry with an empty inherits field
// builds on.
const DefaultParent = "pesterchum"

const maxInheritDepth = 20

// DefaultMaxDownload caps the size of a database or theme archive download.
const DefaultMaxDownload = 64 << 20

var (
	ErrNoRepository    = errors.New("no theme repository URL configured")
	ErrUnknownTheme    = errors.New("theme not in repository database")
	ErrDatabaseVersion = errors.New("unsupported repository database version")
	ErrDatabaseFormat  = errors.New("malformed repository database")
	ErrChecksum        = errors.New("download checksum mismatch")
	ErrNotInstalled    = errors.New("theme not installed from the repository")
	ErrUpToDate        = errors.New("theme already installed and up to date")
	ErrMissingParent   = errors.New("inherited theme is neither installed nor in the repository")
	ErrInheritCycle    = errors.New("repository themes inherit from each other in a loop")
	ErrUnsafeArchive   = errors.New("theme archive entry escapes the theme directory")
	ErrTooLarge        = errors.New("download exceeds the size limit")
)

// Options configures a Manager.
type Options struct {
	// URL of the repository database. Refresh fails with ErrNoRepository when empty.
	URL string
	// Store persists the manifest and caches the catalogue.
	Store *storage.Store
	// HTTPClient defaults to a client with a 60 second timeout.
	HTTPClient *http.Client
	// MaxDownload caps each download in bytes. Defaults to DefaultMaxDownload.
	MaxDownload int64
	// Available lists themes present locally, installed or not. Install uses
	// it to decide whether an inherited theme must be fetched.
	Available func() []string
}

// Manager tracks the repository catalogue and the themes installed from it.
type Manager struct {
	opts Options

	// op serialises refresh, install and uninstall.
	op sync.Mutex

	mu       sync.RWMutex
	url      string
	meta     model.RepoMeta
	order    []string
	entries  map[string]model.RepoEntry
	manifest model.Manifest
	onChange []func()
}

// NewManager loads the manifest, drops entries whose theme directory has
// vanished and restores the last fetched catalogue from the store.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("repo: store is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.MaxDownload <= 0 {
		opts.MaxDownload = DefaultMaxDownload
	}
	if opts.Available == nil {
		opts.Available = func() []string { return nil }
	}

	m := &Manager{
		opts:    opts,
		url:     strings.TrimSpace(opts.URL),
		entries: make(map[string]model.RepoEntry),
	}

	manifest, err := opts.Store.LoadManifest()
	if err != nil {
		log.Printf("[repo] %v, starting with an empty manifest", err)
	}
	m.manifest = manifest
	if dropped := m.ValidateManifest(); len(dropped) > 0 {
		if err := m.saveManifest(); err != nil {
			return nil, fmt.Errorf("save manifest: %w", err)
		}
	}

	cached, err := opts.Store.ListCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	meta, ok, err := opts.Store.CatalogMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	if ok {
		m.meta.FormatVersion = meta.FormatVersion
	}
	m.setEntries(cached)
	return m, nil
}

// SetURL changes the repository database URL.
func (m *Manager) SetURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = strings.TrimSpace(url)
}

// URL returns the repository database URL.
func (m *Manager) URL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.url
}

// OnChange registers fn to run after every install or uninstall.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) changed() {
	m.mu.RLock()
	callbacks := slices.Clone(m.onChange)
	m.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (m *Manager) setEntries(list []model.RepoEntry) {
	entries := make(map[string]model.RepoEntry, len(list))
	order := make([]string, 0, len(list))
	for _, e := range list {
		if _, dup := entries[e.Name]; !dup {
			order = append(order, e.Name)
		}
		entries[e.Name] = e
	}
	m.mu.Lock()
	m.entries = entries
	m.order = order
	m.mu.Unlock()
}

type database struct {
	Meta struct {
		FormatVersion  *int   `json:"format_version"`
		SubmissionPage string `json:"submission_page"`
	} `json:"meta"`
	Entries json.RawMessage `json:"entries"`
}

// Refresh fetches the repository database, keeps the entries meant for this
// client and caches them.
func (m *Manager) Refresh(ctx context.Context) (*model.RefreshResult, error) {
	m.op.Lock()
	defer m.op.Unlock()

	url := m.URL()
	if url == "" {
		return nil, ErrNoRepository
	}
	log.Printf("[repo] refreshing database from %s", url)

	body, err := m.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch database: %w", err)
	}

	entries, meta, err := parseDatabase(body)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := m.opts.Store.SaveCatalog(ctx, storage.CatalogMeta{
		URL:           url,
		FormatVersion: meta.FormatVersion,
		RefreshedAt:   now,
	}, entries); err != nil {
		return nil, fmt.Errorf("cache catalogue: %w", err)
	}

	m.setEntries(entries)
	m.mu.Lock()
	m.meta = meta
	m.mu.Unlock()

	res := &model.RefreshResult{
		Timestamp:     now,
		URL:           url,
		FormatVersion: meta.FormatVersion,
		Entries:       len(entries),
	}
	for _, e := range entries {
		if m.HasUpdate(e.Name) {
			res.Updates = append(res.Updates, e.Name)
		}
	}
	log.Printf("[repo] database refreshed: %d themes, %d updates", res.Entries, len(res.Updates))
	return res, nil
}

func parseDatabase(body []byte) ([]model.RepoEntry, model.RepoMeta, error) {
	var db database
	if err := json.Unmarshal(body, &db); err != nil {
		return nil, model.RepoMeta{}, fmt.Errorf("%w: %v", ErrDatabaseFormat, err)
	}

	v := db.Meta.FormatVersion
	switch {
	case v == nil:
		return nil, model.RepoMeta{}, fmt.Errorf("%w: no format version specified", ErrDatabaseVersion)
	case *v > SupportedVersion:
		return nil, model.RepoMeta{}, fmt.Errorf("%w: got v%d, newer than supported v%d", ErrDatabaseVersion, *v, SupportedVersion)
	case *v < SupportedVersion:
		return nil, model.RepoMeta{}, fmt.Errorf("%w: got v%d, older than supported v%d", ErrDatabaseVersion, *v, SupportedVersion)
	}

	raw := strings.TrimSpace(string(db.Entries))
	if !strings.HasPrefix(raw, "[") {
		return nil, model.RepoMeta{}, fmt.Errorf(`%w: missing "entries" list`, ErrDatabaseFormat)
	}
	var all []model.RepoEntry
	if err := json.Unmarshal(db.Entries, &all); err != nil {
		return nil, model.RepoMeta{}, fmt.Errorf("%w: %v", ErrDatabaseFormat, err)
	}

	var entries []model.RepoEntry
	for i, e := range all {
		if e.Client != Client {
			continue
		}
		if e.Name == "" {
			return nil, model.RepoMeta{}, fmt.Errorf("%w: entry %d has no name", ErrDatabaseFormat, i)
		}
		e.ID = i
		entries = append(entries, e)
	}
	return entries, model.RepoMeta{FormatVersion: *v, SubmissionPage: db.Meta.SubmissionPage}, nil
}

func (m *Manager) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	limit := m.opts.MaxDownload
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: GET %s: more than %d bytes", ErrTooLarge, url, limit)
	}
	return body, nil
}

// Meta returns the meta block of the last fetched database.
func (m *Manager) Meta() model.RepoMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

// Entries returns the catalogue in repository order.
func (m *Manager) Entries() []model.RepoEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RepoEntry, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.entries[name])
	}
	return out
}

// Entry returns the catalogue entry for name.
func (m *Manager) Entry(name string) (model.RepoEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return model.RepoEntry{}, fmt.Errorf("%w: %s", ErrUnknownTheme, name)
	}
	return e, nil
}

// Installed returns the manifest entries sorted by name.
func (m *Manager) Installed() []model.RepoEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RepoEntry, 0, len(m.manifest.Entries))
	for _, e := range m.manifest.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsInstalled reports whether name was installed through the repository.
// Themes copied into the themes directory by hand do not count.
func (m *Manager) IsInstalled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.manifest.Entries[name]
	return ok
}

// HasUpdate reports whether the catalogue holds a newer version of an
// installed theme.
func (m *Manager) HasUpdate(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	installed, ok := m.manifest.Entries[name]
	if !ok {
		return false
	}
	latest, ok := m.entries[name]
	if !ok {
		return false
	}
	return installed.Version < latest.Version
}

// Inheriting returns the catalogue themes that inherit from name, directly or
// through other themes, parents before children. With onlyInstalled, a theme
// is included only when it and every theme between it and name are installed.
func (m *Manager) Inheriting(name string, onlyInstalled bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	taken := make(map[string]bool, len(m.order))

	var recurse func(parent string, depth int)
	recurse = func(parent string, depth int) {
		if depth > maxInheritDepth {
			log.Printf("[repo] inheritance deeper than %d below %s, stopping", maxInheritDepth, name)
			return
		}
		for _, child := range m.order {
			if taken[child] {
				continue
			}
			inherits := m.entries[child].Inherits
			if inherits == "" {
				inherits = DefaultParent
			}
			if inherits != parent {
				continue
			}
			if _, installed := m.manifest.Entries[child]; onlyInstalled && !installed {
				continue
			}
			taken[child] = true
			out = append(out, child)
			recurse(child, depth+1)
		}
	}
	recurse(name, 0)
	return out
}

// ValidateManifest fills missing manifest metadata and drops entries whose
// theme directory no longer exists. It returns the dropped names.
func (m *Manager) ValidateManifest() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manifest.Entries == nil {
		m.manifest.Entries = make(map[string]model.RepoEntry)
	}
	if m.manifest.Meta.UpdatedAt == 0 {
		m.manifest.Meta.UpdatedAt = unixSeconds(time.Now())
	}
	if m.manifest.Meta.FormatVersion == 0 {
		m.manifest.Meta.FormatVersion = SupportedVersion
	}
	if m.manifest.Meta.FormatVersion != SupportedVersion {
		log.Printf("[repo] manifest format v%d does not match supported v%d", m.manifest.Meta.FormatVersion, SupportedVersion)
	}

	var dropped []string
	for name := range m.manifest.Entries {
		info, err := os.Stat(filepath.Join(m.opts.Store.ThemesDir(), name))
		if err == nil && info.IsDir() {
			continue
		}
		log.Printf("[repo] installed theme %s has been deleted, removing it from the manifest", name)
		dropped = append(dropped, name)
	}
	for _, name := range dropped {
		delete(m.manifest.Entries, name)
	}
	sort.Strings(dropped)
	return dropped
}

func (m *Manager) saveManifest() error {
	m.mu.Lock()
	m.manifest.Meta.UpdatedAt = unixSeconds(time.Now())
	if m.meta.FormatVersion != 0 {
		m.manifest.Meta.FormatVersion = m.meta.FormatVersion
	} else {
		m.manifest.Meta.FormatVersion = SupportedVersion
	}
	snapshot := model.Manifest{Meta: m.manifest.Meta, Entries: make(map[string]model.RepoEntry, len(m.manifest.Entries))}
	for k, v := range m.manifest.Entries {
		snapshot.Entries[k] = v
	}
	m.mu.Unlock()
	return m.opts.Store.SaveManifest(snapshot)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
