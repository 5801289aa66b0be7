package theme

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"chumtheme/themes"
)

func styleFS(docs map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, doc := range docs {
		fsys[name+"/"+StyleFile] = &fstest.MapFile{Data: []byte(doc)}
	}
	return fsys
}

func TestManagerBuiltinThemes(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Options{Builtin: themes.FS})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.List(); !reflect.DeepEqual(got, []string{"pesterchum", "win95chum"}) {
		t.Fatalf("List = %v", got)
	}
	w, err := m.Theme("win95chum")
	if err != nil {
		t.Fatalf("Theme: %v", err)
	}
	if w.Path() != filepath.Join("themes", "win95chum") {
		t.Fatalf("Path = %q", w.Path())
	}
	icon, _ := w.String("main/chums/moods/chummy/icon")
	if icon != filepath.Join("themes", "win95chum")+"/chummy.png" {
		t.Fatalf("chummy icon = %q", icon)
	}
	label, err := w.String("main/mychumhandle/label/text")
	if err != nil || label != "MYCHUMHANDLE" {
		t.Fatalf("fallback label = %q, %v", label, err)
	}
	if m.Default().Name() != DefaultTheme {
		t.Fatalf("Default = %s", m.Default().Name())
	}
	if len(m.Failures()) != 0 {
		t.Fatalf("Failures = %v", m.Failures())
	}
}

func TestManagerDiskShadowsBuiltin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "win95chum"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "win95chum", StyleFile), []byte(`{"main": {"windowtitle": "DISK", "icon": "$path/x.png"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nostyle"), 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(Options{Builtin: themes.FS, Dir: dir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	w, err := m.Theme("win95chum")
	if err != nil {
		t.Fatalf("Theme: %v", err)
	}
	if got, _ := w.String("main/windowtitle"); got != "DISK" {
		t.Fatalf("windowtitle = %q", got)
	}
	if got, _ := w.String("main/icon"); got != filepath.Join(dir, "win95chum")+"/x.png" {
		t.Fatalf("icon = %q", got)
	}
	if got := m.List(); !reflect.DeepEqual(got, []string{"pesterchum", "win95chum"}) {
		t.Fatalf("List = %v", got)
	}
}

func TestManagerInheritance(t *testing.T) {
	t.Parallel()

	fsys := styleFS(map[string]string{
		"pesterchum": `{"main": {"a": "default", "b": "default", "size": [1, 1]}}`,
		"parent":     `{"main": {"b": "parent", "c": "parent"}}`,
		"child":      `{"inherits": "parent", "main": {"c": "child"}}`,
	})
	m, err := NewManager(Options{Builtin: fsys, AssetRoot: "/assets"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	child, err := m.Theme("child")
	if err != nil {
		t.Fatalf("Theme: %v", err)
	}
	if child.Inherits() != "parent" || child.Parent() == nil || child.Parent().Name() != "parent" {
		t.Fatalf("parent not linked")
	}

	tests := []struct {
		key  string
		want string
	}{
		{"main/a", "default"},
		{"main/b", "parent"},
		{"main/c", "child"},
	}
	for _, tt := range tests {
		got, err := child.String(tt.key)
		if err != nil || got != tt.want {
			t.Errorf("String(%q) = %q, %v, want %q", tt.key, got, err, tt.want)
		}
	}
	if !child.Has("main/b") {
		t.Error("Has should consult the inherited theme")
	}
	if child.Has("main/a") {
		t.Error("Has should not consult the default theme")
	}
}

func TestManagerInheritanceFailures(t *testing.T) {
	t.Parallel()

	fsys := styleFS(map[string]string{
		"pesterchum": `{"main": {}}`,
		"a":          `{"inherits": "b"}`,
		"b":          `{"inherits": "a"}`,
		"orphan":     `{"inherits": "ghost"}`,
		"broken":     `{"main": `,
		"badparent":  `{"inherits": 3}`,
		"fine":       `{"inherits": ""}`,
	})
	m, err := NewManager(Options{Builtin: fsys})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.List(); !reflect.DeepEqual(got, []string{"pesterchum", "fine"}) {
		t.Fatalf("List = %v", got)
	}

	failures := m.Failures()
	tests := []struct {
		name string
		want error
	}{
		{"a", ErrInheritCycle},
		{"b", ErrInheritCycle},
		{"orphan", ErrUnknownTheme},
		{"broken", ErrParse},
		{"badparent", ErrType},
	}
	for _, tt := range tests {
		if !errors.Is(failures[tt.name], tt.want) {
			t.Errorf("failure for %s = %v, want %v", tt.name, failures[tt.name], tt.want)
		}
		if _, err := m.Theme(tt.name); !errors.Is(err, ErrUnknownTheme) {
			t.Errorf("Theme(%s) error = %v, want ErrUnknownTheme", tt.name, err)
		}
	}
}

func TestManagerRequiresDefault(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Options{Builtin: styleFS(map[string]string{"other": `{}`})})
	if !errors.Is(err, ErrUnknownTheme) {
		t.Fatalf("NewManager error = %v, want ErrUnknownTheme", err)
	}

	_, err = NewManager(Options{Builtin: styleFS(map[string]string{"pesterchum": `not json`})})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("NewManager error = %v, want ErrParse", err)
	}
}

func TestManagerThemeOr(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Options{Builtin: themes.FS})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.ThemeOr("nosuchtheme").Name(); got != DefaultTheme {
		t.Fatalf("ThemeOr = %s", got)
	}
	if got := m.ThemeOr("win95chum").Name(); got != "win95chum" {
		t.Fatalf("ThemeOr = %s", got)
	}
}

func TestManagerReloadCallbacks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := NewManager(Options{Builtin: themes.FS, Dir: dir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	var got []string
	m.OnReload(func(names []string) { got = names })

	if err := os.MkdirAll(filepath.Join(dir, "fresh"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fresh", StyleFile), []byte(`{"inherits": "win95chum"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"pesterchum", "win95chum", "fresh"}) {
		t.Fatalf("callback names = %v", got)
	}
	fresh, err := m.Theme("fresh")
	if err != nil {
		t.Fatalf("Theme: %v", err)
	}
	if title, _ := fresh.String("main/windowtitle"); title != "PESTERCHUM 95" {
		t.Fatalf("inherited windowtitle = %q", title)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "mytheme")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, StyleFile)
	if err := os.WriteFile(path, []byte(`{"main": {"icon": "$path/icon.png"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	th, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if th.Name() != "mytheme" {
		t.Fatalf("Name = %q", th.Name())
	}
	if got, _ := th.String("main/icon"); got != dir+"/icon.png" {
		t.Fatalf("icon = %q", got)
	}

	if err := os.WriteFile(path, []byte(`{`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); !errors.Is(err, ErrParse) {
		t.Fatalf("LoadFile error = %v, want ErrParse", err)
	}
}

func TestSortThemes(t *testing.T) {
	t.Parallel()

	got := sortThemes([]string{"zeta", "win95chum", "alpha", "pesterchum", "trollian"})
	want := "pesterchum,trollian,win95chum,alpha,zeta"
	if strings.Join(got, ",") != want {
		t.Fatalf("sortThemes = %v, want %s", got, want)
	}
}
