package theme

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
)

const (
	// DefaultTheme is the theme every other theme falls back to.
	DefaultTheme = "pesterchum"
	// StyleFile is the document file inside a theme directory.
	StyleFile = "style.js"
)

// Options configures where a Manager finds themes.
type Options struct {
	// Builtin holds themes shipped with the binary, one directory per theme.
	Builtin fs.FS
	// Dir is an optional on-disk themes directory. Its themes shadow built-ins.
	Dir string
	// AssetRoot is the directory substituted for $path in built-in themes,
	// joined with the theme name. Defaults to "themes".
	AssetRoot string
}

type source struct {
	fsys fs.FS
	base string
	disk bool
}

// Manager holds every loaded theme and resolves inheritance between them.
type Manager struct {
	opts Options

	mu       sync.RWMutex
	themes   map[string]*Theme
	list     []string
	failures map[string]error
	onReload []func(names []string)
}

// NewManager loads all themes. It fails only when the default theme cannot be
// loaded; any other broken theme is logged and skipped.
func NewManager(opts Options) (*Manager, error) {
	if opts.AssetRoot == "" {
		opts.AssetRoot = "themes"
	}
	m := &Manager{opts: opts}
	if err := m.Reload(); err != nil {
		return nil, fmt.Errorf("load themes: %w", err)
	}
	return m, nil
}

// Dir returns the on-disk themes directory, or "".
func (m *Manager) Dir() string {
	return m.opts.Dir
}

// OnReload registers fn to run after every successful reload.
func (m *Manager) OnReload(fn func(names []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// Reload reparses every theme and swaps the loaded set in one step.
func (m *Manager) Reload() error {
	sources, err := m.discover()
	if err != nil {
		return err
	}

	raws := make(map[string]*Map, len(sources))
	failures := make(map[string]error)
	for name, src := range sources {
		raw, err := readStyle(src.fsys, name)
		if err != nil {
			log.Printf("[theme] skipping %s: %v", name, err)
			failures[name] = err
			continue
		}
		raws[name] = raw
	}

	if _, ok := raws[DefaultTheme]; !ok {
		if err, failed := failures[DefaultTheme]; failed {
			return fmt.Errorf("default theme %s: %w", DefaultTheme, err)
		}
		return fmt.Errorf("%w: default theme %s not found", ErrUnknownTheme, DefaultTheme)
	}

	b := &builder{
		raws:    raws,
		sources: sources,
		built:   make(map[string]*Theme, len(raws)),
	}
	def := New(DefaultTheme, sources[DefaultTheme].base, raws[DefaultTheme], nil, nil)
	b.built[DefaultTheme] = def
	b.def = def

	for name := range raws {
		if _, err := b.build(name, nil); err != nil {
			log.Printf("[theme] skipping %s: %v", name, err)
			failures[name] = err
		}
	}

	names := make([]string, 0, len(b.built))
	for name := range b.built {
		names = append(names, name)
	}
	names = sortThemes(names)

	m.mu.Lock()
	m.themes = b.built
	m.list = names
	m.failures = failures
	callbacks := slices.Clone(m.onReload)
	m.mu.Unlock()

	log.Printf("[theme] loaded %d themes (%s)", len(names), strings.Join(names, ", "))
	for _, fn := range callbacks {
		fn(append([]string(nil), names...))
	}
	return nil
}

func (m *Manager) discover() (map[string]source, error) {
	sources := make(map[string]source)

	if m.opts.Builtin != nil {
		entries, err := fs.ReadDir(m.opts.Builtin, ".")
		if err != nil {
			return nil, fmt.Errorf("read builtin themes: %w", err)
		}
		for _, entry := range entries {
			if !isThemeDir(m.opts.Builtin, entry) {
				continue
			}
			sources[entry.Name()] = source{
				fsys: m.opts.Builtin,
				base: filepath.Join(m.opts.AssetRoot, entry.Name()),
			}
		}
	}

	if m.opts.Dir != "" {
		entries, err := os.ReadDir(m.opts.Dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read themes directory: %w", err)
		}
		diskFS := os.DirFS(m.opts.Dir)
		for _, entry := range entries {
			if !isThemeDir(diskFS, entry) {
				continue
			}
			sources[entry.Name()] = source{
				fsys: diskFS,
				base: filepath.Join(m.opts.Dir, entry.Name()),
				disk: true,
			}
		}
	}

	return sources, nil
}

func isThemeDir(fsys fs.FS, entry fs.DirEntry) bool {
	if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
		return false
	}
	_, err := fs.Stat(fsys, entry.Name()+"/"+StyleFile)
	return err == nil
}

func readStyle(fsys fs.FS, name string) (*Map, error) {
	f, err := fsys.Open(name + "/" + StyleFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

type builder struct {
	raws    map[string]*Map
	sources map[string]source
	built   map[string]*Theme
	def     *Theme
}

func (b *builder) build(name string, chain []string) (*Theme, error) {
	if t, ok := b.built[name]; ok {
		return t, nil
	}
	for _, seen := range chain {
		if seen == name {
			return nil, fmt.Errorf("%w: %s", ErrInheritCycle, strings.Join(append(chain, name), " -> "))
		}
	}
	raw, ok := b.raws[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTheme, name)
	}

	var parent *Theme
	if v, ok := raw.Get("inherits"); ok && v != nil {
		parentName, isString := v.(string)
		if !isString {
			return nil, typeError(name+": inherits", "a string", v)
		}
		if parentName != "" {
			p, err := b.build(parentName, append(chain, name))
			if err != nil {
				return nil, fmt.Errorf("inherits %s: %w", parentName, err)
			}
			parent = p
		}
	}

	t := New(name, b.sources[name].base, raw, parent, b.def)
	b.built[name] = t
	return t, nil
}

func sortThemes(names []string) []string {
	preferredOrder := []string{DefaultTheme, "pesterchum2.5", "trollian", "win95chum"}
	rank := make(map[string]int, len(preferredOrder))
	for i, name := range preferredOrder {
		rank[name] = i
	}

	sort.Slice(names, func(i, j int) bool {
		ri, iPreferred := rank[names[i]]
		rj, jPreferred := rank[names[j]]
		switch {
		case iPreferred && jPreferred:
			return ri < rj
		case iPreferred != jPreferred:
			return iPreferred
		default:
			return names[i] < names[j]
		}
	})
	return names
}

// Theme returns a loaded theme by name.
func (m *Manager) Theme(name string) (*Theme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.themes[name]
	if !ok {
		if err, failed := m.failures[name]; failed {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnknownTheme, name, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownTheme, name)
	}
	return t, nil
}

// ThemeOr returns the named theme, or the default theme when it is not loaded.
func (m *Manager) ThemeOr(name string) *Theme {
	t, err := m.Theme(name)
	if err != nil {
		log.Printf("[theme] %v, using %s", err, DefaultTheme)
		return m.Default()
	}
	return t
}

// Default returns the default theme.
func (m *Manager) Default() *Theme {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.themes[DefaultTheme]
}

// List returns the names of all loaded themes: the default theme first, then
// the preferred order, then alphabetically.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.list...)
}

// Failures returns themes that could not be loaded with the reason.
func (m *Manager) Failures() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]error, len(m.failures))
	for k, v := range m.failures {
		out[k] = v
	}
	return out
}

// LoadFile loads a single style document outside any manager. The file's
// directory is substituted for $path and the theme has no fallback.
func LoadFile(path string) (*Theme, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	return New(filepath.Base(dir), dir, raw, nil, nil), nil
}
