package theme

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"chumtheme/model"
)

// Theme is a loaded, read-only theme document.
//
// Lookups that miss the theme's own document fall through to the theme named
// by its "inherits" key, then to the default theme.
type Theme struct {
	name      string
	path      string
	raw       *Map
	doc       *Map
	inherited *Theme
	fallback  *Theme
}

// New builds a theme from a raw (unsubstituted) document. base is the asset
// directory substituted for $path. inherited and fallback may be nil.
func New(name, base string, raw *Map, inherited, fallback *Theme) *Theme {
	if raw == nil {
		raw = NewMap()
	}
	doc := raw.Clone()
	substituteMap(doc, base)
	return &Theme{
		name:      name,
		path:      base,
		raw:       raw.Clone(),
		doc:       doc,
		inherited: inherited,
		fallback:  fallback,
	}
}

// Name returns the theme name.
func (t *Theme) Name() string { return t.name }

// Path returns the asset directory substituted for $path.
func (t *Theme) Path() string { return t.path }

// Inherits returns the name of the parent theme, or "".
func (t *Theme) Inherits() string {
	if v, ok := t.raw.Get("inherits"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Parent returns the inherited theme, or nil.
func (t *Theme) Parent() *Theme { return t.inherited }

// Document returns a copy of the substituted document.
func (t *Theme) Document() *Map { return t.doc.Clone() }

// Raw returns a copy of the document as written, with $path unresolved.
func (t *Theme) Raw() *Map { return t.raw.Clone() }

// MarshalJSON encodes the theme's own substituted document.
func (t *Theme) MarshalJSON() ([]byte, error) {
	return t.doc.MarshalJSON()
}

// Lookup resolves a slash-separated key such as "main/chums/moods/chummy".
// Sequence elements are addressed by index ("main/moods/0/text").
func (t *Theme) Lookup(key string) (any, error) {
	if v, ok := walk(t.doc, key); ok {
		return cloneValue(v), nil
	}
	if t.inherited != nil {
		return t.inherited.Lookup(key)
	}
	if t.fallback != nil {
		return t.fallback.Lookup(key)
	}
	return nil, fmt.Errorf("%w: %s (theme %s)", ErrMissingKey, key, t.name)
}

// Get resolves key against this theme and its parents, returning def when the
// key is absent or null. The default theme is not consulted.
func (t *Theme) Get(key string, def any) any {
	if v, ok := walk(t.doc, key); ok {
		if v == nil {
			return def
		}
		return cloneValue(v)
	}
	if t.inherited != nil {
		return t.inherited.Get(key, def)
	}
	return def
}

// Has reports whether key is set to a non-null value in this theme or its parents.
func (t *Theme) Has(key string) bool {
	if v, ok := walk(t.doc, key); ok {
		return v != nil
	}
	if t.inherited != nil {
		return t.inherited.Has(key)
	}
	return false
}

func walk(m *Map, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	var cur any = m
	for _, seg := range strings.Split(key, "/") {
		switch node := cur.(type) {
		case *Map:
			v, ok := node.Get(seg)
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func typeError(key, want string, v any) error {
	return fmt.Errorf("%w: %s is %s, want %s", ErrType, key, describe(v), want)
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case int64:
		return "an integer"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case []any:
		return "a list"
	case *Map:
		return "a mapping"
	}
	return fmt.Sprintf("%T", v)
}

// String returns the string at key.
func (t *Theme) String(key string) (string, error) {
	v, err := t.Lookup(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", typeError(key, "a string", v)
	}
	return s, nil
}

// StringOr returns the string at key, or def when it is absent or not a string.
func (t *Theme) StringOr(key, def string) string {
	if s, ok := t.Get(key, def).(string); ok {
		return s
	}
	return def
}

// Int returns the integer at key.
func (t *Theme) Int(key string) (int, error) {
	v, err := t.Lookup(key)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int64)
	if !ok {
		return 0, typeError(key, "an integer", v)
	}
	return int(i), nil
}

// IntOr returns the integer at key, or def.
func (t *Theme) IntOr(key string, def int) int {
	if i, ok := t.Get(key, nil).(int64); ok {
		return int(i)
	}
	return def
}

// Bool returns the boolean at key.
func (t *Theme) Bool(key string) (bool, error) {
	v, err := t.Lookup(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeError(key, "a boolean", v)
	}
	return b, nil
}

// Pair returns the [x, y] or [w, h] pair at key.
func (t *Theme) Pair(key string) (model.Pair, error) {
	v, err := t.Lookup(key)
	if err != nil {
		return model.Pair{}, err
	}
	return toPair(key, v)
}

// PairOr returns the pair at key, or def.
func (t *Theme) PairOr(key string, def model.Pair) model.Pair {
	p, err := toPair(key, t.Get(key, nil))
	if err != nil {
		return def
	}
	return p
}

func toPair(key string, v any) (model.Pair, error) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return model.Pair{}, typeError(key, "a two-element integer list", v)
	}
	var p model.Pair
	for i, e := range list {
		n, ok := e.(int64)
		if !ok {
			return model.Pair{}, typeError(key, "a two-element integer list", v)
		}
		p[i] = int(n)
	}
	return p, nil
}

// Map returns a copy of the mapping at key.
func (t *Theme) Map(key string) (*Map, error) {
	v, err := t.Lookup(key)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, typeError(key, "a mapping", v)
	}
	return m, nil
}

// Menu returns the entries of a menu mapping such as "main/menus/client" in
// document order. Nested mappings become submenus; the _name key titles a menu
// and is not returned as an entry.
func (t *Theme) Menu(key string) ([]model.MenuItem, error) {
	m, err := t.Map(key)
	if err != nil {
		return nil, err
	}
	return menuItems(key, m)
}

// MenuTitle returns the _name of a menu, or "".
func (t *Theme) MenuTitle(key string) string {
	return t.StringOr(key+"/_name", "")
}

func menuItems(key string, m *Map) ([]model.MenuItem, error) {
	items := make([]model.MenuItem, 0, m.Len())
	for _, k := range m.keys {
		if k == "_name" {
			continue
		}
		switch v := m.values[k].(type) {
		case string:
			items = append(items, model.MenuItem{Key: k, Label: v})
		case *Map:
			sub, err := menuItems(key+"/"+k, v)
			if err != nil {
				return nil, err
			}
			label, _ := v.values["_name"].(string)
			items = append(items, model.MenuItem{Key: k, Label: label, Items: sub})
		default:
			return nil, typeError(key+"/"+k, "a label or submenu", v)
		}
	}
	return items, nil
}

// Moods returns the mood selector buttons from main/moods.
func (t *Theme) Moods() ([]model.MoodButton, error) {
	const key = "main/moods"
	v, err := t.Lookup(key)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, typeError(key, "a list", v)
	}

	out := make([]model.MoodButton, 0, len(list))
	for i, e := range list {
		ekey := fmt.Sprintf("%s/%d", key, i)
		m, ok := e.(*Map)
		if !ok {
			return nil, typeError(ekey, "a mapping", e)
		}
		btn := model.MoodButton{
			Style:    mapString(m, "style"),
			Selected: mapString(m, "selected"),
			Text:     mapString(m, "text"),
			Icon:     mapString(m, "icon"),
		}
		if btn.Loc, err = toPair(ekey+"/loc", m.values["loc"]); err != nil {
			return nil, err
		}
		if btn.Size, err = toPair(ekey+"/size", m.values["size"]); err != nil {
			return nil, err
		}
		id, ok := m.values["mood"].(int64)
		if !ok {
			return nil, typeError(ekey+"/mood", "an integer", m.values["mood"])
		}
		btn.Mood = int(id)
		out = append(out, btn)
	}
	return out, nil
}

func mapString(m *Map, key string) string {
	s, _ := m.values[key].(string)
	return s
}

// ChumMood returns the icon and color for a mood name under main/chums/moods.
func (t *Theme) ChumMood(name string) (model.ChumMood, error) {
	key := "main/chums/moods/" + name
	m, err := t.Map(key)
	if err != nil {
		return model.ChumMood{}, err
	}
	return model.ChumMood{Icon: mapString(m, "icon"), Color: mapString(m, "color")}, nil
}

// ChumMoods returns every mood defined under main/chums/moods in document order.
func (t *Theme) ChumMoods() ([]string, map[string]model.ChumMood, error) {
	m, err := t.Map("main/chums/moods")
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]model.ChumMood, m.Len())
	for _, k := range m.keys {
		entry, ok := m.values[k].(*Map)
		if !ok {
			return nil, nil, typeError("main/chums/moods/"+k, "a mapping", m.values[k])
		}
		out[k] = model.ChumMood{Icon: mapString(entry, "icon"), Color: mapString(entry, "color")}
	}
	return m.Keys(), out, nil
}

// MoodIcon returns the chum list icon for a mood. A mood missing from the
// main/chums/moods mapping in effect uses chummy's icon, never another theme's
// entry for the same mood.
func (t *Theme) MoodIcon(name string) (string, error) {
	moods, err := t.Map("main/chums/moods")
	if err != nil {
		return "", err
	}
	if entry, ok := moods.values[name].(*Map); ok {
		if icon := mapString(entry, "icon"); icon != "" {
			return icon, nil
		}
	}
	if chummy, ok := moods.values["chummy"].(*Map); ok {
		if icon := mapString(chummy, "icon"); icon != "" {
			return icon, nil
		}
	}
	return t.String("main/chums/moods/chummy/icon")
}

// Margins returns the margins mapping of a section such as "convo" or "memos".
func (t *Theme) Margins(section string) (model.Margins, error) {
	key := section + "/margins"
	m, err := t.Map(key)
	if err != nil {
		return model.Margins{}, err
	}
	var out model.Margins
	fields := []struct {
		name string
		dst  *int
	}{
		{"top", &out.Top},
		{"bottom", &out.Bottom},
		{"left", &out.Left},
		{"right", &out.Right},
	}
	for _, f := range fields {
		v, ok := m.values[f.name]
		if !ok {
			continue
		}
		n, ok := v.(int64)
		if !ok {
			return model.Margins{}, typeError(key+"/"+f.name, "an integer", v)
		}
		*f.dst = int(n)
	}
	return out, nil
}

// Asset returns the file path stored at key in cleaned, OS-specific form.
func (t *Theme) Asset(key string) (string, error) {
	s, err := t.String(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", nil
	}
	return filepath.Clean(filepath.FromSlash(s)), nil
}

// EncodeJSON writes the substituted document as indented JSON.
func (t *Theme) EncodeJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, t.doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
