package repo

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"chumtheme/model"
	"chumtheme/storage"
)

type fixture struct {
	mu    sync.Mutex
	db    []byte
	zips  map[string][]byte
	srv   *httptest.Server
	store *storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{zips: make(map[string][]byte)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.URL.Path == "/db.json":
			if f.db == nil {
				http.Error(w, "no database", http.StatusInternalServerError)
				return
			}
			_, _ = w.Write(f.db)
		case strings.HasPrefix(r.URL.Path, "/zips/"):
			body, ok := f.zips[strings.TrimPrefix(r.URL.Path, "/zips/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	f.store = storage.New(t.TempDir())
	t.Cleanup(func() { f.store.Close() })
	return f
}

func (f *fixture) setDB(t *testing.T, entries ...model.RepoEntry) {
	t.Helper()
	f.setRawDB(t, map[string]any{
		"meta":    map[string]any{"format_version": SupportedVersion},
		"entries": entries,
	})
}

func (f *fixture) setRawDB(t *testing.T, db any) {
	t.Helper()
	body, err := json.Marshal(db)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.db = body
	f.mu.Unlock()
}

// entry publishes a zip holding files and returns its catalogue entry.
func (f *fixture) entry(t *testing.T, name, inherits string, version int, files map[string]string) model.RepoEntry {
	t.Helper()
	archive := makeZip(t, files)
	sum := sha256.Sum256(archive)
	key := name + "-" + string(rune('0'+version)) + ".zip"
	f.mu.Lock()
	f.zips[key] = archive
	f.mu.Unlock()
	return model.RepoEntry{
		Name:           name,
		Author:         "tester",
		Inherits:       inherits,
		Version:        version,
		Client:         Client,
		Download:       f.srv.URL + "/zips/" + key,
		SHA256Download: hex.EncodeToString(sum[:]),
	}
}

func (f *fixture) manager(t *testing.T, available ...string) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), Options{
		URL:       f.srv.URL + "/db.json",
		Store:     f.store,
		Available: func() []string { return available },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var style = map[string]string{"style.js": `{"main": {"windowtitle": "X"}}`}

func TestRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	other := f.entry(t, "trolltheme", "", 1, style)
	other.Client = "trollian"
	f.setDB(t, other, f.entry(t, "alpha", "", 1, style), f.entry(t, "beta", "alpha", 2, style))

	m := f.manager(t)
	res, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Entries != 2 || res.FormatVersion != SupportedVersion || len(res.Updates) != 0 {
		t.Fatalf("result = %+v", res)
	}
	entries := m.Entries()
	if len(entries) != 2 || entries[0].Name != "alpha" || entries[0].ID != 1 || entries[1].ID != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if _, err := m.Entry("trolltheme"); !errors.Is(err, ErrUnknownTheme) {
		t.Fatalf("Entry(trolltheme) error = %v", err)
	}

	cached := f.manager(t)
	if got := cached.Entries(); len(got) != 2 || got[1].Inherits != "alpha" {
		t.Fatalf("catalogue not restored from the store: %+v", got)
	}
	if cached.Meta().FormatVersion != SupportedVersion {
		t.Fatalf("Meta = %+v", cached.Meta())
	}
}

func TestRefreshErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		db   any
		want error
	}{
		{"no version", map[string]any{"meta": map[string]any{}, "entries": []any{}}, ErrDatabaseVersion},
		{"too old", map[string]any{"meta": map[string]any{"format_version": 3}, "entries": []any{}}, ErrDatabaseVersion},
		{"too new", map[string]any{"meta": map[string]any{"format_version": 5}, "entries": []any{}}, ErrDatabaseVersion},
		{"no entries", map[string]any{"meta": map[string]any{"format_version": 4}}, ErrDatabaseFormat},
		{"entries not a list", map[string]any{"meta": map[string]any{"format_version": 4}, "entries": map[string]any{}}, ErrDatabaseFormat},
		{"nameless entry", map[string]any{"meta": map[string]any{"format_version": 4}, "entries": []any{map[string]any{"client": "pesterchum"}}}, ErrDatabaseFormat},
		{"not json", "garbage", ErrDatabaseFormat},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.setRawDB(t, tt.db)
			m := f.manager(t)
			if _, err := m.Refresh(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Refresh error = %v, want %v", err, tt.want)
			}
			if len(m.Entries()) != 0 {
				t.Fatal("a rejected database must not replace the catalogue")
			}
		})
	}
}

func TestDownloadSizeLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t, f.entry(t, "big", "", 1, style))
	m, err := NewManager(context.Background(), Options{
		URL:         f.srv.URL + "/db.json",
		Store:       f.store,
		MaxDownload: 16,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Refresh(context.Background()); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Refresh error = %v, want ErrTooLarge", err)
	}
}

func TestRefreshWithoutURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := f.manager(t)
	m.SetURL("  ")
	if _, err := m.Refresh(context.Background()); !errors.Is(err, ErrNoRepository) {
		t.Fatalf("Refresh error = %v, want ErrNoRepository", err)
	}
	m.SetURL(f.srv.URL + "/db.json")
	if _, err := m.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh succeeded against a failing server")
	}
}

func TestInstallWithParent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t,
		f.entry(t, "parent", "", 1, map[string]string{"style.js": `{}`, "img/bg.png": "png"}),
		f.entry(t, "child", "parent", 1, style),
	)
	m := f.manager(t)
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	changes := 0
	m.OnChange(func() { changes++ })
	if err := m.Install(context.Background(), "child", false); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if changes != 1 {
		t.Fatalf("OnChange ran %d times", changes)
	}
	for _, name := range []string{"parent", "child"} {
		if !m.IsInstalled(name) {
			t.Fatalf("%s not installed", name)
		}
	}
	if _, err := os.Stat(filepath.Join(f.store.ThemesDir(), "parent", "img", "bg.png")); err != nil {
		t.Fatalf("nested archive file: %v", err)
	}
	dirs, err := os.ReadDir(f.store.ThemesDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 {
		t.Fatalf("themes dir holds %d entries, temporary directories left behind?", len(dirs))
	}

	manifest, err := f.store.LoadManifest()
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(manifest.Entries) != 2 || manifest.Meta.FormatVersion != SupportedVersion || manifest.Meta.UpdatedAt == 0 {
		t.Fatalf("manifest = %+v", manifest)
	}

	if err := m.Install(context.Background(), "child", false); !errors.Is(err, ErrUpToDate) {
		t.Fatalf("reinstall error = %v, want ErrUpToDate", err)
	}
	if err := m.Install(context.Background(), "child", true); err != nil {
		t.Fatalf("forced reinstall: %v", err)
	}
	if err := m.Install(context.Background(), "nosuch", false); !errors.Is(err, ErrUnknownTheme) {
		t.Fatalf("Install(nosuch) error = %v", err)
	}
}

func TestInstallParentAvailableLocally(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t, f.entry(t, "parent", "", 1, style), f.entry(t, "child", "parent", 1, style))
	m := f.manager(t, "pesterchum", "parent")
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := m.Install(context.Background(), "child", false); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if m.IsInstalled("parent") {
		t.Fatal("a locally available parent should not be downloaded")
	}
}

func TestInstallMissingParent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t, f.entry(t, "orphan", "ghost", 1, style))
	m := f.manager(t)
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := m.Install(context.Background(), "orphan", false); !errors.Is(err, ErrMissingParent) {
		t.Fatalf("Install error = %v, want ErrMissingParent", err)
	}
	if m.IsInstalled("orphan") {
		t.Fatal("orphan installed without force")
	}
	if err := m.Install(context.Background(), "orphan", true); err != nil {
		t.Fatalf("forced Install: %v", err)
	}
	if !m.IsInstalled("orphan") {
		t.Fatal("forced install did not install")
	}
}

func TestInstallReportsParentWhenChildFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	kid := f.entry(t, "kid", "base", 1, style)
	kid.SHA256Download = strings.Repeat("0", 64)
	f.setDB(t, f.entry(t, "base", "", 1, style), kid)
	m := f.manager(t)
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var changes int
	m.OnChange(func() { changes++ })
	if err := m.Install(context.Background(), "kid", false); !errors.Is(err, ErrChecksum) {
		t.Fatalf("Install error = %v, want ErrChecksum", err)
	}
	if !m.IsInstalled("base") || m.IsInstalled("kid") {
		t.Fatalf("installed = %v", m.Installed())
	}
	if changes != 1 {
		t.Fatalf("OnChange called %d times, want 1", changes)
	}

	if err := m.Install(context.Background(), "kid", false); !errors.Is(err, ErrChecksum) {
		t.Fatalf("second Install error = %v, want ErrChecksum", err)
	}
	if changes != 1 {
		t.Fatalf("OnChange called %d times after a failed install that wrote nothing", changes)
	}
}

func TestInstallCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t, f.entry(t, "a", "b", 1, style), f.entry(t, "b", "a", 1, style))
	m := f.manager(t)
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := m.Install(context.Background(), "a", false); !errors.Is(err, ErrInheritCycle) {
		t.Fatalf("Install error = %v, want ErrInheritCycle", err)
	}
}

func TestInstallChecksumMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	e := f.entry(t, "bad", "", 1, style)
	e.SHA256Download = strings.Repeat("0", 64)
	f.setDB(t, e)
	m := f.manager(t)
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := m.Install(context.Background(), "bad", false); !errors.Is(err, ErrChecksum) {
		t.Fatalf("Install error = %v, want ErrChecksum", err)
	}
	if _, err := os.Stat(filepath.Join(f.store.ThemesDir(), "bad")); !os.IsNotExist(err) {
		t.Fatalf("theme dir created despite checksum failure: %v", err)
	}
}

func TestInstallRejectsEscapingArchive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t, f.entry(t, "evil", "", 1, map[string]string{"style.js": `{}`, "../../escape.txt": "x"}))
	m := f.manager(t)
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := m.Install(context.Background(), "evil", false); !errors.Is(err, ErrUnsafeArchive) {
		t.Fatalf("Install error = %v, want ErrUnsafeArchive", err)
	}
	if m.IsInstalled("evil") {
		t.Fatal("unsafe archive installed")
	}
}

func TestUpdates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t, f.entry(t, "theme", "", 1, style))
	m := f.manager(t)
	ctx := context.Background()
	if _, err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := m.Install(ctx, "theme", false); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if m.HasUpdate("theme") {
		t.Fatal("HasUpdate right after install")
	}

	f.setDB(t, f.entry(t, "theme", "", 2, map[string]string{"style.js": `{"v": 2}`}))
	res, err := m.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !reflect.DeepEqual(res.Updates, []string{"theme"}) || !m.HasUpdate("theme") {
		t.Fatalf("updates = %v", res.Updates)
	}
	if err := m.Install(ctx, "theme", false); err != nil {
		t.Fatalf("update Install: %v", err)
	}
	body, err := os.ReadFile(filepath.Join(f.store.ThemesDir(), "theme", "style.js"))
	if err != nil || string(body) != `{"v": 2}` {
		t.Fatalf("style.js = %q, %v", body, err)
	}
	if m.HasUpdate("theme") {
		t.Fatal("HasUpdate after updating")
	}
}

func TestInheriting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t,
		f.entry(t, "base", "", 1, style),
		f.entry(t, "mid", "base", 1, style),
		f.entry(t, "leaf", "mid", 1, style),
		f.entry(t, "side", "base", 1, style),
		f.entry(t, "explicit", "pesterchum", 1, style),
	)
	m := f.manager(t)
	ctx := context.Background()
	if _, err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := m.Inheriting("base", false); !reflect.DeepEqual(got, []string{"mid", "leaf", "side"}) {
		t.Fatalf("Inheriting(base) = %v", got)
	}
	if got := m.Inheriting("pesterchum", false); !reflect.DeepEqual(got, []string{"base", "mid", "leaf", "side", "explicit"}) {
		t.Fatalf("Inheriting(pesterchum) = %v", got)
	}

	if err := m.Install(ctx, "leaf", false); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if got := m.Inheriting("base", true); !reflect.DeepEqual(got, []string{"mid", "leaf"}) {
		t.Fatalf("Inheriting(base, installed) = %v", got)
	}
}

func TestUninstall(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDB(t,
		f.entry(t, "base", "", 1, style),
		f.entry(t, "mid", "base", 1, style),
		f.entry(t, "leaf", "mid", 1, style),
	)
	m := f.manager(t)
	ctx := context.Background()
	if _, err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := m.Install(ctx, "leaf", false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	removed, err := m.Uninstall("leaf", false)
	if err != nil || !reflect.DeepEqual(removed, []string{"leaf"}) {
		t.Fatalf("Uninstall(leaf) = %v, %v", removed, err)
	}
	if err := m.Install(ctx, "leaf", false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	removed, err = m.Uninstall("base", true)
	if err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if !reflect.DeepEqual(removed, []string{"leaf", "mid", "base"}) {
		t.Fatalf("removed = %v", removed)
	}
	if len(m.Installed()) != 0 {
		t.Fatalf("Installed = %v", m.Installed())
	}
	if _, err := os.Stat(filepath.Join(f.store.ThemesDir(), "mid")); !os.IsNotExist(err) {
		t.Fatalf("mid dir still present: %v", err)
	}
	if _, err := m.Uninstall("base", true); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("second Uninstall error = %v, want ErrNotInstalled", err)
	}
}

func TestValidateManifestDropsVanishedThemes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := os.MkdirAll(filepath.Join(f.store.ThemesDir(), "kept"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := f.store.SaveManifest(model.Manifest{
		Entries: map[string]model.RepoEntry{
			"kept":  {Name: "kept", Version: 1},
			"ghost": {Name: "ghost", Version: 1},
		},
	}); err != nil {
		t.Fatal(err)
	}

	m := f.manager(t)
	if !m.IsInstalled("kept") || m.IsInstalled("ghost") {
		t.Fatalf("installed = %v", m.Installed())
	}
	manifest, err := f.store.LoadManifest()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := manifest.Entries["ghost"]; ok {
		t.Fatal("vanished theme not removed from the saved manifest")
	}
	if manifest.Meta.FormatVersion != SupportedVersion || manifest.Meta.UpdatedAt == 0 {
		t.Fatalf("meta = %+v", manifest.Meta)
	}
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ok   bool
	}{
		{"style.js", true},
		{"img/bg.png", true},
		{"a/../b.png", true},
		{"../x", false},
		{"a/../../x", false},
		{"/etc/passwd", false},
	}
	for _, tt := range tests {
		_, err := archivePath("/themes/t", tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("archivePath(%q) error = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}
