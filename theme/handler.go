package theme

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"chumtheme/model"
)

// Handler serves loaded themes over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new theme handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager: manager,
	}
}

// Register mounts the theme routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/themes", h.HandleList)
	mux.HandleFunc("/api/themes/", h.HandleTheme)
}

type themeSummary struct {
	Name     string `json:"name"`
	Inherits string `json:"inherits,omitempty"`
	Path     string `json:"path"`
	Default  bool   `json:"default"`
}

// HandleList returns every loaded theme.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	names := h.manager.List()
	resp := make([]themeSummary, 0, len(names))
	for _, name := range names {
		t, err := h.manager.Theme(name)
		if err != nil {
			continue
		}
		resp = append(resp, themeSummary{
			Name:     name,
			Inherits: t.Inherits(),
			Path:     t.Path(),
			Default:  name == DefaultTheme,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTheme serves /api/themes/{name}[/value|/menu|/moods|/validate|/export.yaml].
func (h *Handler) HandleTheme(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/themes/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	t, err := h.manager.Theme(name)
	if err != nil {
		http.Error(w, "theme not found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		h.serveDocument(w, r, t)
	case "value":
		h.serveValue(w, r, t)
	case "menu":
		h.serveMenu(w, r, t)
	case "moods":
		h.serveMoods(w, t)
	case "validate":
		check, _ := strconv.ParseBool(r.URL.Query().Get("assets"))
		writeJSON(w, http.StatusOK, t.Validate(check))
	case "export.yaml":
		h.serveYAML(w, r, t)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveDocument(w http.ResponseWriter, r *http.Request, t *Theme) {
	body, err := t.EncodeJSON()
	if err != nil {
		http.Error(w, "failed to encode theme", http.StatusInternalServerError)
		return
	}
	serveCached(w, r, "application/json", body)
}

func (h *Handler) serveYAML(w http.ResponseWriter, r *http.Request, t *Theme) {
	var buf bytes.Buffer
	doc := t.Document()
	if raw, _ := strconv.ParseBool(r.URL.Query().Get("raw")); raw {
		doc = t.Raw()
	}
	if err := EncodeYAML(&buf, doc); err != nil {
		http.Error(w, "failed to encode theme", http.StatusInternalServerError)
		return
	}
	serveCached(w, r, "application/yaml; charset=utf-8", buf.Bytes())
}

// serveCached writes body with an xxhash ETag and answers conditional requests.
func serveCached(w http.ResponseWriter, r *http.Request, contentType string, body []byte) {
	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

// etagMatch reports whether an If-None-Match header matches etag. The header
// may list several tags; weak tags compare by their opaque value.
func etagMatch(header, etag string) bool {
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || strings.TrimPrefix(tag, "W/") == etag {
			return true
		}
	}
	return false
}

func (h *Handler) serveValue(w http.ResponseWriter, r *http.Request, t *Theme) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key parameter required", http.StatusBadRequest)
		return
	}
	v, err := t.Lookup(key)
	if err != nil {
		if errors.Is(err, ErrMissingKey) {
			http.Error(w, "missing key", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
}

func (h *Handler) serveMenu(w http.ResponseWriter, r *http.Request, t *Theme) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key parameter required", http.StatusBadRequest)
		return
	}
	items, err := t.Menu(key)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingKey):
			http.Error(w, "missing key", http.StatusNotFound)
		case errors.Is(err, ErrType):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":   key,
		"title": t.MenuTitle(key),
		"items": items,
	})
}

type moodsResponse struct {
	Buttons []model.MoodButton        `json:"buttons"`
	Order   []string                  `json:"order"`
	Chums   map[string]model.ChumMood `json:"chums"`
}

func (h *Handler) serveMoods(w http.ResponseWriter, t *Theme) {
	var resp moodsResponse
	buttons, err := t.Moods()
	if err != nil && !errors.Is(err, ErrMissingKey) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	resp.Buttons = buttons
	order, chums, err := t.ChumMoods()
	if err != nil && !errors.Is(err, ErrMissingKey) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	resp.Order = order
	resp.Chums = chums
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
