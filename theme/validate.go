package theme

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"

	"chumtheme/mood"
)

// Severity grades a validation issue.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// MarshalText lets reports serialise severities by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Issue is a single finding about a theme document.
type Issue struct {
	Severity Severity `json:"severity"`
	Key      string   `json:"key"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Key, i.Message)
}

// Report collects the issues found in one theme.
type Report struct {
	Theme  string  `json:"theme"`
	Issues []Issue `json:"issues"`
}

// OK reports whether the theme has no error-level issues.
func (r Report) OK() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Warnings returns the warning-level issues.
func (r Report) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

// Errors returns the error-level issues.
func (r Report) Errors() []Issue {
	return r.filter(SeverityError)
}

func (r Report) filter(s Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

// Err joins every error-level issue, each wrapping ErrInvalid. It returns nil
// when the report only holds warnings.
func (r Report) Err() error {
	var errs []error
	for _, i := range r.Errors() {
		errs = append(errs, fmt.Errorf("%w: %s: %s: %s", ErrInvalid, r.Theme, i.Key, i.Message))
	}
	return errors.Join(errs...)
}

// ValidateOptions controls Validate.
type ValidateOptions struct {
	// Name labels the report.
	Name string
	// Base is the asset directory substituted for $path.
	Base string
	// CheckAssets stats every asset reference on disk; missing files are warnings.
	CheckAssets bool
}

var pairKeys = map[string]bool{
	"loc":         true,
	"size":        true,
	"currentMood": true,
}

var colorKeys = map[string]bool{
	"color":          true,
	"newmsgcolor":    true,
	"systemMsgColor": true,
	"userlistcolor":  true,
}

// extraColors are names accepted besides the SVG 1.1 keywords.
var extraColors = map[string]bool{
	"transparent": true,
}

// Validate checks a raw (unsubstituted) theme document.
func Validate(raw *Map, opts ValidateOptions) Report {
	if opts.Base == "" {
		opts.Base = "."
	}
	v := &validator{opts: opts, report: Report{Theme: opts.Name, Issues: []Issue{}}}
	v.walk("", raw)
	v.checkMoods(raw)
	v.checkDefaultMood(raw)
	v.checkChumMoods(raw)
	v.checkInherits(raw)
	return v.report
}

// Validate checks the theme's own document.
func (t *Theme) Validate(checkAssets bool) Report {
	return Validate(t.raw, ValidateOptions{Name: t.name, Base: t.path, CheckAssets: checkAssets})
}

type validator struct {
	opts   ValidateOptions
	report Report
}

func (v *validator) add(s Severity, key, format string, args ...any) {
	v.report.Issues = append(v.report.Issues, Issue{Severity: s, Key: key, Message: fmt.Sprintf(format, args...)})
}

func join(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "/" + seg
}

func (v *validator) walk(key string, node any) {
	switch t := node.(type) {
	case *Map:
		for _, k := range t.keys {
			child := t.values[k]
			ck := join(key, k)
			if pairKeys[k] {
				v.checkPair(ck, child)
			}
			if colorKeys[k] && !inMenus(ck) {
				v.checkColor(ck, child)
			}
			v.walk(ck, child)
		}
	case []any:
		for i, e := range t {
			v.walk(join(key, strconv.Itoa(i)), e)
		}
	case string:
		v.checkAssets(key, t)
	}
}

// inMenus reports whether key lies under a menus mapping, where keys are
// menu item ids ("color" is the profile menu's Color entry).
func inMenus(key string) bool {
	return strings.Contains("/"+key+"/", "/menus/")
}

func (v *validator) checkPair(key string, node any) {
	list, ok := node.([]any)
	if !ok || len(list) != 2 {
		v.add(SeverityError, key, "%s, want a two-element integer list", describe(node))
		return
	}
	for i, e := range list {
		n, ok := e.(int64)
		if !ok {
			v.add(SeverityError, key, "element %d is %s, want an integer", i, describe(e))
			return
		}
		if n < 0 {
			v.add(SeverityError, key, "element %d is negative (%d)", i, n)
			return
		}
	}
}

func (v *validator) checkColor(key string, node any) {
	s, ok := node.(string)
	if !ok {
		return
	}
	if !ValidColor(s) {
		v.add(SeverityWarning, key, "%q is not a recognised color", s)
	}
}

// ValidColor reports whether s is a #rgb/#rrggbb hex color or an SVG color name.
func ValidColor(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		_, err := colorful.Hex(s)
		return err == nil
	}
	name := strings.ToLower(s)
	if _, ok := colornames.Map[name]; ok {
		return true
	}
	return extraColors[name]
}

func (v *validator) checkAssets(key, s string) {
	for _, ref := range assetRefs(s) {
		resolved := filepath.Clean(filepath.FromSlash(Substitute(ref, v.opts.Base)))
		base := filepath.Clean(v.opts.Base)
		rel, err := filepath.Rel(base, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			v.add(SeverityWarning, key, "asset %s resolves outside the theme directory", ref)
			continue
		}
		if v.opts.CheckAssets {
			if _, err := os.Stat(resolved); err != nil {
				v.add(SeverityWarning, key, "asset %s not found", resolved)
			}
		}
	}
}

// assetRefs extracts $path references from a value: the whole value for a
// plain path, or each url(...) argument inside a style string.
func assetRefs(s string) []string {
	if !strings.Contains(s, "$path") && !strings.Contains(s, "${path}") {
		return nil
	}
	var refs []string
	rest := s
	for {
		i := strings.Index(rest, "$")
		if i < 0 {
			break
		}
		tail := rest[i:]
		if !strings.HasPrefix(tail, "$path") && !strings.HasPrefix(tail, "${path}") {
			rest = rest[i+1:]
			continue
		}
		end := strings.IndexAny(tail, ") ;'\",\t\n")
		if end < 0 {
			end = len(tail)
		}
		refs = append(refs, tail[:end])
		rest = tail[end:]
	}
	return refs
}

func (v *validator) checkMoods(raw *Map) {
	const key = "main/moods"
	node, ok := walk(raw, key)
	if !ok || node == nil {
		return
	}
	list, ok := node.([]any)
	if !ok {
		v.add(SeverityError, key, "%s, want a list", describe(node))
		return
	}

	seen := make(map[int64]int, len(list))
	for i, e := range list {
		ekey := join(key, strconv.Itoa(i))
		entry, ok := e.(*Map)
		if !ok {
			v.add(SeverityError, ekey, "%s, want a mapping", describe(e))
			continue
		}
		idv, ok := entry.Get("mood")
		if !ok {
			v.add(SeverityError, ekey+"/mood", "missing")
			continue
		}
		id, ok := idv.(int64)
		if !ok {
			v.add(SeverityError, ekey+"/mood", "%s, want an integer", describe(idv))
			continue
		}
		if id < 0 {
			v.add(SeverityError, ekey+"/mood", "negative mood id %d", id)
			continue
		}
		if prev, dup := seen[id]; dup {
			v.add(SeverityError, ekey+"/mood", "mood id %d already used by %s/%d", id, key, prev)
			continue
		}
		seen[id] = i
		if !mood.Valid(int(id)) {
			v.add(SeverityWarning, ekey+"/mood", "mood id %d is not in the mood catalogue", id)
		}
	}
}

func (v *validator) checkDefaultMood(raw *Map) {
	const key = "main/defaultmood"
	node, ok := walk(raw, key)
	if !ok || node == nil {
		return
	}
	switch t := node.(type) {
	case int64:
		if !mood.Valid(int(t)) {
			v.add(SeverityWarning, key, "mood id %d is not in the mood catalogue", t)
		}
	case string:
		if _, err := mood.Parse(t); err != nil {
			v.add(SeverityWarning, key, "%v", err)
		}
	default:
		v.add(SeverityError, key, "%s, want a mood id", describe(node))
	}
}

func (v *validator) checkChumMoods(raw *Map) {
	const key = "main/chums/moods"
	node, ok := walk(raw, key)
	if !ok || node == nil {
		return
	}
	m, ok := node.(*Map)
	if !ok {
		v.add(SeverityError, key, "%s, want a mapping", describe(node))
		return
	}
	if _, ok := m.Get("chummy"); !ok {
		v.add(SeverityWarning, key, "no chummy entry; icons for unknown moods have nothing to fall back to")
	}
}

func (v *validator) checkInherits(raw *Map) {
	node, ok := raw.Get("inherits")
	if !ok || node == nil {
		return
	}
	if _, ok := node.(string); !ok {
		v.add(SeverityError, "inherits", "%s, want a theme name", describe(node))
	}
}
