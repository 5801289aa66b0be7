package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"chumtheme/model"
)

const (
	manifestFile = "manifest.json"
	catalogFile  = "catalog.db"
)

// Store persists the installed-theme manifest and the repository catalogue
// under a data directory.
type Store struct {
	baseDir   string
	themesDir string
	mu        sync.Mutex
	db        *sql.DB
}

// New creates a new Store instance with the given base directory.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// EnsureDirs creates the data and themes directories.
func (s *Store) EnsureDirs() error {
	return os.MkdirAll(s.ThemesDir(), 0o755)
}

// WithThemesDir installs repository themes into dir instead of <base>/themes.
func (s *Store) WithThemesDir(dir string) *Store {
	s.themesDir = dir
	return s
}

// ThemesDir is where repository themes are installed.
func (s *Store) ThemesDir() string {
	if s.themesDir != "" {
		return s.themesDir
	}
	return filepath.Join(s.baseDir, "themes")
}

// ManifestPath returns the manifest file location.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.baseDir, manifestFile)
}

// LoadManifest reads the manifest. A missing file yields an empty manifest.
func (s *Store) LoadManifest() (model.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := model.Manifest{Entries: make(map[string]model.RepoEntry)}
	f, err := os.Open(s.ManifestPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return m, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return model.Manifest{Entries: make(map[string]model.RepoEntry)}, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]model.RepoEntry)
	}
	return m, nil
}

// SaveManifest writes the manifest atomically.
func (s *Store) SaveManifest(m model.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}
	if m.Entries == nil {
		m.Entries = make(map[string]model.RepoEntry)
	}

	path := s.ManifestPath()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS entries (
	name            TEXT PRIMARY KEY,
	position        INTEGER NOT NULL,
	version         INTEGER NOT NULL,
	inherits        TEXT NOT NULL DEFAULT '',
	client          TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

func (s *Store) catalog(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(s.baseDir, catalogFile))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	s.db = db
	return db, nil
}

// CatalogMeta describes the last stored repository refresh.
type CatalogMeta struct {
	URL           string
	FormatVersion int
	RefreshedAt   time.Time
}

// SaveCatalog replaces the cached repository entries in one transaction.
func (s *Store) SaveCatalog(ctx context.Context, meta CatalogMeta, entries []model.RepoEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.catalog(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return err
	}
	for i, e := range entries {
		body, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO entries(name, position, version, inherits, client, body) VALUES(?,?,?,?,?,?)`,
			e.Name, i, e.Version, e.Inherits, e.Client, string(body),
		); err != nil {
			return fmt.Errorf("store entry %s: %w", e.Name, err)
		}
	}

	values := map[string]string{
		"url":            meta.URL,
		"format_version": strconv.Itoa(meta.FormatVersion),
		"refreshed_at":   meta.RefreshedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key, value) VALUES(?,?)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListCatalog returns the cached entries in repository order.
func (s *Store) ListCatalog(ctx context.Context) ([]model.RepoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT body FROM entries ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RepoEntry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e model.RepoEntry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decode catalog entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CatalogMeta returns the metadata of the last SaveCatalog. ok is false when
// the catalogue has never been filled.
func (s *Store) CatalogMeta(ctx context.Context) (CatalogMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.catalog(ctx)
	if err != nil {
		return CatalogMeta{}, false, err
	}
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return CatalogMeta{}, false, err
	}
	defer rows.Close()

	var meta CatalogMeta
	found := false
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return CatalogMeta{}, false, err
		}
		found = true
		switch k {
		case "url":
			meta.URL = v
		case "format_version":
			meta.FormatVersion, _ = strconv.Atoi(v)
		case "refreshed_at":
			meta.RefreshedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	return meta, found, rows.Err()
}

// Close releases the catalogue database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
