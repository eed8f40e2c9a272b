// Package fakedash serves a miniature Syncano dashboard for browser
// scenarios. It is backed by a syncanotest.Server, so instances and scripts
// created through the management API show up in the dashboard.
//
// The markup reproduces the parts of the real dashboard the page objects
// address: the login form, the instances list with its context menus, the
// script endpoint wizard and the sockets list. Menu and list animations are
// simulated with short timers so the wait commands have something to wait for.
package fakedash

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/kuitang/dashboard-e2e/internal/obs"
	"github.com/kuitang/dashboard-e2e/internal/syncano/syncanotest"
)

//go:embed dashboard.html
var dashboardHTML []byte

const sessionCookie = "dashboard_session"

// Endpoint is a script endpoint created through the dashboard.
type Endpoint struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

// Server is a fake dashboard.
type Server struct {
	api *syncanotest.Server

	mu        sync.Mutex
	sessions  map[string]string // account key -> email
	endpoints map[string][]Endpoint

	httpSrv *httptest.Server
}

// Start serves a dashboard over api until test cleanup.
func Start(t testing.TB, api *syncanotest.Server) *Server {
	t.Helper()
	s := &Server{
		api:       api,
		sessions:  map[string]string{},
		endpoints: map[string][]Endpoint{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/instances", s.requireSession(s.handleInstances))
	mux.HandleFunc("GET /api/instances/{name}/scripts", s.requireSession(s.handleScripts))
	mux.HandleFunc("GET /api/instances/{name}/script-endpoints", s.requireSession(s.handleListEndpoints))
	mux.HandleFunc("POST /api/instances/{name}/script-endpoints", s.requireSession(s.handleCreateEndpoint))

	s.httpSrv = httptest.NewServer(obs.AccessLogMiddleware("fakedash", mux))
	t.Cleanup(s.httpSrv.Close)
	return s
}

// URL is the dashboard root. Pages live under URL()+"/#/...".
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// ScriptEndpoints returns the endpoints created in the named instance.
func (s *Server) ScriptEndpoints(instance string) []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Endpoint(nil), s.endpoints[instance]...)
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(dashboardHTML)
}

// handleLogin forwards the credentials to the management API and keeps the
// returned account key as the browser session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	req := httptest.NewRequestWithContext(r.Context(), http.MethodPost, "/v1.1/account/auth/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.api.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.Code)
		_, _ = w.Write(rec.Body.Bytes())
		return
	}

	var account struct {
		Email      string `json:"email"`
		AccountKey string `json:"account_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &account); err != nil || account.AccountKey == "" {
		writeDetail(w, http.StatusBadGateway, "Malformed login response.")
		return
	}

	s.mu.Lock()
	s.sessions[account.AccountKey] = account.Email
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    account.AccountKey,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"email": account.Email})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	names := s.api.Instances()
	slices.Sort(names)
	out := make([]map[string]string, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]string{
			"name":        name,
			"description": "Scratch instance " + name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.api.HasInstance(name) {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	scripts := s.api.Scripts(name)
	if scripts == nil {
		scripts = []syncanotest.Script{}
	}
	writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.api.HasInstance(name) {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	endpoints := s.ScriptEndpoints(name)
	if endpoints == nil {
		endpoints = []Endpoint{}
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.api.HasInstance(name) {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	var ep Endpoint
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	ep.Name = strings.TrimSpace(ep.Name)
	if ep.Name == "" {
		writeDetail(w, http.StatusBadRequest, "name: This field is required.")
		return
	}
	if !slices.ContainsFunc(s.api.Scripts(name), func(sc syncanotest.Script) bool { return sc.Label == ep.Script }) {
		writeDetail(w, http.StatusBadRequest, "script: Invalid script.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.endpoints[name], func(e Endpoint) bool { return strings.EqualFold(e.Name, ep.Name) }) {
		writeDetail(w, http.StatusBadRequest, "name: Script Endpoint with this name already exists.")
		return
	}
	s.endpoints[name] = append(s.endpoints[name], ep)
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		s.mu.Lock()
		_, ok := s.sessions[cookie.Value]
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusForbidden, "Invalid session.")
			return
		}
		next(w, r)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, 1<<16))
	return buf.Bytes(), err
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
