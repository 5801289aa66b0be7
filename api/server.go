package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chumtheme/model"
	"chumtheme/repo"
	"chumtheme/scheduler"
	"chumtheme/theme"
)

type Server struct {
	themes     *theme.Manager
	repo       *repo.Manager
	sched      *scheduler.Scheduler
	saveConfig func()
	ws         *WSConnectionManager
	upgrader   websocket.Upgrader
}

// NewServer wires the HTTP API. repoMgr and sched may be nil, in which case
// their routes answer 503. saveConfig persists schedule changes.
func NewServer(themes *theme.Manager, repoMgr *repo.Manager, sched *scheduler.Scheduler, saveConfig func()) *Server {
	if saveConfig == nil {
		saveConfig = func() {}
	}
	return &Server{
		themes:     themes,
		repo:       repoMgr,
		sched:      sched,
		saveConfig: saveConfig,
		ws:         NewWSConnectionManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	theme.NewHandler(s.themes).Register(mux)
	mux.HandleFunc("/api/repo", s.handleRepo)
	mux.HandleFunc("/api/repo/refresh", s.handleRepoRefresh)
	mux.HandleFunc("/api/repo/", s.handleRepoTheme)
	mux.HandleFunc("/api/schedules", s.handleSchedules)
	mux.HandleFunc("/api/schedules/", s.handleScheduleByID)
	mux.HandleFunc("/api/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"themes":  len(s.themes.List()),
		"clients": s.ws.Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- broadcasts ----------

// BroadcastThemesReloaded tells clients the loaded theme set changed.
func (s *Server) BroadcastThemesReloaded(names []string) {
	ev := newEvent(EventThemeReloaded)
	ev.Themes = names
	s.ws.Broadcast(ev)
}

// BroadcastRepoRefreshed tells clients the repository catalogue changed.
func (s *Server) BroadcastRepoRefreshed(res *model.RefreshResult) {
	ev := newEvent(EventRepoRefreshed)
	ev.Refresh = res
	s.ws.Broadcast(ev)
}

// BroadcastRepoChanged tells clients which themes were installed or removed.
func (s *Server) BroadcastRepoChanged(names []string) {
	ev := newEvent(EventRepoChanged)
	ev.Themes = names
	s.ws.Broadcast(ev)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade: %v", err)
		return
	}
	s.ws.Add(conn)
	defer s.ws.Remove(conn)

	hello := newEvent(EventHello)
	hello.Themes = s.themes.List()
	if err := s.ws.WriteJSON(conn, hello); err != nil {
		return
	}

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ---------- repository ----------

type repoEntryView struct {
	model.RepoEntry
	Installed bool `json:"installed"`
	HasUpdate bool `json:"has_update"`
}

type repoResponse struct {
	URL           string          `json:"url"`
	FormatVersion int             `json:"format_version"`
	Entries       []repoEntryView `json:"entries"`
}

func (s *Server) requireRepo(w http.ResponseWriter) bool {
	if s.repo == nil {
		http.Error(w, "theme repository not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleRepo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireRepo(w) {
		return
	}

	entries := s.repo.Entries()
	resp := repoResponse{
		URL:           s.repo.URL(),
		FormatVersion: s.repo.Meta().FormatVersion,
		Entries:       make([]repoEntryView, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, repoEntryView{
			RepoEntry: e,
			Installed: s.repo.IsInstalled(e.Name),
			HasUpdate: s.repo.HasUpdate(e.Name),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRepoRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireRepo(w) {
		return
	}

	res, err := s.repo.Refresh(r.Context())
	if err != nil {
		log.Printf("[api] repo refresh: %v", err)
		http.Error(w, err.Error(), repoStatus(err))
		return
	}
	s.BroadcastRepoRefreshed(res)
	writeJSON(w, http.StatusOK, res)
}

// handleRepoTheme serves POST /api/repo/{name}/install and DELETE /api/repo/{name}.
func (s *Server) handleRepoTheme(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/repo/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "install" && r.Method == http.MethodPost:
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
		if err := s.repo.Install(r.Context(), name, force); err != nil {
			log.Printf("[api] install %s: %v", name, err)
			http.Error(w, err.Error(), repoStatus(err))
			return
		}
		entry, _ := s.repo.Entry(name)
		s.BroadcastRepoChanged([]string{name})
		writeJSON(w, http.StatusOK, entry)

	case action == "" && r.Method == http.MethodDelete:
		cascade := true
		if v := r.URL.Query().Get("cascade"); v != "" {
			cascade, _ = strconv.ParseBool(v)
		}
		removed, err := s.repo.Uninstall(name, cascade)
		if err != nil {
			http.Error(w, err.Error(), repoStatus(err))
			return
		}
		s.BroadcastRepoChanged(removed)
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})

	case action == "install" || action == "":
		w.Header().Set("Allow", http.MethodPost+", "+http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)

	default:
		http.NotFound(w, r)
	}
}

func repoStatus(err error) int {
	switch {
	case errors.Is(err, repo.ErrUnknownTheme), errors.Is(err, repo.ErrNotInstalled):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrUpToDate), errors.Is(err, repo.ErrMissingParent), errors.Is(err, repo.ErrInheritCycle):
		return http.StatusConflict
	case errors.Is(err, repo.ErrNoRepository):
		return http.StatusServiceUnavailable
	case errors.Is(err, repo.ErrChecksum), errors.Is(err, repo.ErrUnsafeArchive), errors.Is(err, repo.ErrTooLarge),
		errors.Is(err, repo.ErrDatabaseVersion), errors.Is(err, repo.ErrDatabaseFormat):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ---------- schedules API ----------

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		schedules := s.sched.Schedules()
		writeJSON(w, http.StatusOK, schedules)

	case http.MethodPost:
		var sc model.Schedule
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if sc.Type == "" {
			sc.Type = model.ScheduleInterval
		}
		if !scheduler.Valid(sc) {
			http.Error(w, "invalid schedule", http.StatusBadRequest)
			return
		}
		sc.ID = uuid.NewString()
		if sc.Name == "" {
			sc.Name = sc.ID
		}

		cur := s.sched.Schedules()
		cur = append(cur, sc)
		s.sched.SetSchedules(cur)
		s.saveConfig()

		writeJSON(w, http.StatusCreated, sc)

	default:
		w.Header().Set("Allow", http.MethodGet+", "+http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	cur := s.sched.Schedules()

	switch r.Method {
	case http.MethodGet:
		for _, sc := range cur {
			if sc.ID == id {
				writeJSON(w, http.StatusOK, sc)
				return
			}
		}
		http.NotFound(w, r)

	case http.MethodPut:
		var upd model.Schedule
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		upd.ID = id
		if upd.Type == "" {
			upd.Type = model.ScheduleInterval
		}
		if !scheduler.Valid(upd) {
			http.Error(w, "invalid schedule", http.StatusBadRequest)
			return
		}

		found := false
		for i := range cur {
			if cur[i].ID == id {
				cur[i] = upd
				found = true
				break
			}
		}
		if !found {
			http.NotFound(w, r)
			return
		}

		s.sched.SetSchedules(cur)
		s.saveConfig()
		writeJSON(w, http.StatusOK, upd)

	case http.MethodDelete:
		out := cur[:0]
		found := false
		for _, sc := range cur {
			if sc.ID == id {
				found = true
				continue
			}
			out = append(out, sc)
		}
		if !found {
			http.NotFound(w, r)
			return
		}

		s.sched.SetSchedules(out)
		s.saveConfig()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", http.MethodGet+", "+http.MethodPut+", "+http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON error: %v", err)
	}
}
