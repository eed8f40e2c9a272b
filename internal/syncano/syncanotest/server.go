// Package syncanotest provides an in-memory fake of the management API routes
// the syncano client uses, served over httptest.
package syncanotest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kuitang/dashboard-e2e/internal/obs"
	"github.com/kuitang/dashboard-e2e/internal/ratelimit"
)

// Server is a fake management API. The zero value is not usable; call New or
// Start.
type Server struct {
	mu         sync.Mutex
	accounts   map[string]string // email -> password
	keys       map[string]string // account key -> email
	instances  map[string]*instance
	deletes    map[string]int
	failures   map[string]int // route -> status to return once
	nextID     int
	loginCalls int
	limiter    *ratelimit.RateLimiter
	handler    http.Handler
	httpSrv    *httptest.Server
}

type instance struct {
	owner   string
	scripts []Script
}

// Script is a stored script snippet.
type Script struct {
	ID          int    `json:"id"`
	Label       string `json:"label"`
	Source      string `json:"source"`
	RuntimeName string `json:"runtime_name"`
}

// New returns a fake with one registered account.
func New(email, password string) *Server {
	s := &Server{
		accounts:  map[string]string{email: password},
		keys:      map[string]string{},
		instances: map[string]*instance{},
		deletes:   map[string]int{},
		failures:  map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1.1/account/auth/", s.handleLogin)
	mux.HandleFunc("POST /v1.1/instances/", s.handleCreateInstance)
	mux.HandleFunc("DELETE /v1.1/instances/{name}/", s.handleDeleteInstance)
	mux.HandleFunc("POST /v1.1/instances/{name}/snippets/scripts/", s.handleCreateScript)
	s.handler = obs.AccessLogMiddleware("syncanotest", s.throttled(mux))
	return s
}

// Start runs a fake on an httptest server closed at test cleanup.
func Start(t testing.TB, email, password string) *Server {
	t.Helper()
	s := New(email, password)
	s.httpSrv = httptest.NewServer(s.handler)
	t.Cleanup(s.httpSrv.Close)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// URL is the base URL of a started server.
func (s *Server) URL() string {
	if s.httpSrv == nil {
		return ""
	}
	return s.httpSrv.URL
}

// FailNext makes the next request to route ("login", "create_instance",
// "delete_instance", "create_script") answer with status.
func (s *Server) FailNext(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = status
}

// Throttle makes the server answer 429 once a caller exceeds cfg, per
// account key or, before login, per remote address.
func (s *Server) Throttle(t testing.TB, cfg ratelimit.Config) {
	t.Helper()
	rl := ratelimit.NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
}

// SeedInstance creates an instance owned by email without going through the API.
func (s *Server) SeedInstance(email, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[name] = &instance{owner: email}
}

// HasInstance reports whether the named instance exists.
func (s *Server) HasInstance(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[name]
	return ok
}

// Instances returns the names of all existing instances.
func (s *Server) Instances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	return names
}

// Scripts returns the scripts stored in the named instance.
func (s *Server) Scripts(name string) []Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return nil
	}
	return append([]Script(nil), inst.scripts...)
}

// DeleteCalls returns how many delete requests named the instance, including
// ones that failed.
func (s *Server) DeleteCalls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[name]
}

// LoginCalls returns the number of login requests served.
func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	s.mu.Lock()
	s.loginCalls++
	s.mu.Unlock()
	if s.injectedFailure(w, "login") {
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	s.mu.Lock()
	want, ok := s.accounts[body.Email]
	if !ok || want != body.Password {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password.")
		return
	}
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.keys[key] = body.Email
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"email":       body.Email,
		"first_name":  "",
		"last_name":   "",
		"account_key": key,
	})
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.authorize(w, r)
	if !ok || s.injectedFailure(w, "create_instance") {
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"name": {"This field is required."}})
		return
	}

	s.mu.Lock()
	if _, exists := s.instances[body.Name]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string][]string{"name": {"Instance with this name already exists."}})
		return
	}
	s.instances[body.Name] = &instance{owner: owner}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"name": body.Name, "description": body.Description})
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	s.deletes[name]++
	s.mu.Unlock()

	owner, ok := s.authorize(w, r)
	if !ok || s.injectedFailure(w, "delete_instance") {
		return
	}

	s.mu.Lock()
	inst, exists := s.instances[name]
	if !exists || inst.owner != owner {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	delete(s.instances, name)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.authorize(w, r)
	if !ok || s.injectedFailure(w, "create_script") {
		return
	}
	var body Script
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if body.RuntimeName == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"runtime_name": {"This field is required."}})
		return
	}

	s.mu.Lock()
	inst, exists := s.instances[r.PathValue("name")]
	if !exists || inst.owner != owner {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	s.nextID++
	body.ID = s.nextID
	inst.scripts = append(inst.scripts, body)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) throttled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		rl := s.limiter
		s.mu.Unlock()
		ratelimit.RateLimitMiddleware(rl, ratelimit.AccountKey)(next).ServeHTTP(w, r)
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("X-API-KEY")
	s.mu.Lock()
	email, ok := s.keys[key]
	s.mu.Unlock()
	if key == "" || !ok {
		writeDetail(w, http.StatusForbidden, "No API key provided.")
		return "", false
	}
	return email, true
}

func (s *Server) injectedFailure(w http.ResponseWriter, route string) bool {
	s.mu.Lock()
	status, ok := s.failures[route]
	if ok {
		delete(s.failures, route)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	writeDetail(w, status, "Injected failure.")
	return true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
