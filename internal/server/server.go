package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gobwas/glob"

	"github.com/kurobon/imagepro/internal/ai"
	"github.com/kurobon/imagepro/internal/archive"
	"github.com/kurobon/imagepro/internal/auth"
	"github.com/kurobon/imagepro/internal/catalog"
	"github.com/kurobon/imagepro/internal/imaging"
	"github.com/kurobon/imagepro/internal/pipeline"
	"github.com/kurobon/imagepro/internal/state"
	"github.com/kurobon/imagepro/internal/stats"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// anonymous stands in for the caller when authentication is disabled.
var anonymous = &auth.User{ID: "anonymous", Name: "Anonymous"}

type Server struct {
	SessionManager *state.SessionManager
	Engine         *pipeline.Engine
	Auth           *auth.Store
	Stats          *stats.Tracker
	Uploads        UploadPolicy
	AuthDisabled   bool
	Logger         *slog.Logger
	Mux            *http.ServeMux
}

// Options wires the server's collaborators.
type Options struct {
	Sessions     *state.SessionManager
	Engine       *pipeline.Engine
	Auth         *auth.Store
	Stats        *stats.Tracker
	Metrics      http.Handler // served at /metrics when set
	MaxUpload    int64
	AllowedFiles []string // filename globs, matched case-insensitively
	AuthDisabled bool
	Logger       *slog.Logger
}

// UploadPolicy limits what may be uploaded.
type UploadPolicy struct {
	MaxBytes int64
	Allowed  []glob.Glob
}

// Accepts reports whether filename matches one of the allowed patterns.
// An empty policy accepts everything.
func (p UploadPolicy) Accepts(filename string) bool {
	if len(p.Allowed) == 0 {
		return true
	}
	name := strings.ToLower(filename)
	for _, g := range p.Allowed {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func NewServer(opts Options) (*Server, error) {
	policy := UploadPolicy{MaxBytes: opts.MaxUpload}
	for _, pattern := range opts.AllowedFiles {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("bad upload pattern %q: %w", pattern, err)
		}
		policy.Allowed = append(policy.Allowed, g)
	}
	if policy.MaxBytes <= 0 {
		policy.MaxBytes = 20 << 20
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authStore := opts.Auth
	if authStore == nil {
		authStore = auth.NewStore(0)
	}

	s := &Server{
		SessionManager: opts.Sessions,
		Engine:         opts.Engine,
		Auth:           authStore,
		Stats:          opts.Stats,
		Uploads:        policy,
		AuthDisabled:   opts.AuthDisabled,
		Logger:         logger,
		Mux:            http.NewServeMux(),
	}
	s.routes()
	if opts.Metrics != nil {
		s.Mux.Handle("/metrics", opts.Metrics)
	}
	return s, nil
}

func (s *Server) routes() {
	s.Mux.HandleFunc("/ping", s.handlePing)
	s.Mux.HandleFunc("/api/auth/signup", s.handleSignUp)
	s.Mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.Mux.HandleFunc("/api/auth/logout", s.handleLogout)

	s.Mux.Handle("/api/auth/me", s.protect(s.handleMe))
	s.Mux.Handle("/api/session/init", s.protect(s.handleInitSession))
	s.Mux.Handle("/api/session", s.protect(s.handleDeleteSession))
	s.Mux.Handle("/api/session/upload", s.protect(s.handleUpload))
	s.Mux.Handle("/api/sessions", s.protect(s.handleListSessions))
	s.Mux.Handle("/api/edit", s.protect(s.handleEdit))
	s.Mux.Handle("/api/history", s.protect(s.handleGetHistory))
	s.Mux.Handle("/api/history/undo", s.protect(s.handleUndo))
	s.Mux.Handle("/api/history/redo", s.protect(s.handleRedo))
	s.Mux.Handle("/api/history/reset", s.protect(s.handleReset))
	s.Mux.Handle("/api/history/archive", s.protect(s.handleArchive))
	s.Mux.Handle("/api/snapshot", s.protect(s.handleSnapshot))
	s.Mux.Handle("/api/original", s.protect(s.handleOriginal))
	s.Mux.Handle("/api/tools", s.protect(s.handleListTools))
	s.Mux.Handle("/api/stats", s.protect(s.handleStats))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Mux.ServeHTTP(w, r)
}

// protect puts the caller in the request context, rejecting requests
// without a valid token unless authentication is disabled.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.AuthDisabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h(w, r.WithContext(auth.WithUser(r.Context(), anonymous)))
		})
	}
	return s.Auth.Middleware(h)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "pong",
		"system":  "ImagePro Backend",
	})
}

func currentUser(r *http.Request) *auth.User {
	if u, ok := auth.UserFrom(r.Context()); ok {
		return u
	}
	return anonymous
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body of at most maxJSONBody bytes into v,
// writing the error response when it cannot.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, imaging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, state.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, state.ErrNoImage),
		errors.Is(err, state.ErrStale),
		errors.Is(err, archive.ErrEmptyHistory),
		errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrUnknownTool),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrInvalidSettings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ai.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ai.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ai.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ai.ErrUnauthorized), errors.Is(err, ai.ErrFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}

// session resolves the session id for the current user, writing the error
// response when it cannot.
func (s *Server) session(w http.ResponseWriter, r *http.Request, id string) (*state.Session, bool) {
	if id == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return nil, false
	}
	sess, err := s.SessionManager.SessionFor(id, currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) updateSessionGauge() {
	if s.Stats != nil {
		s.Stats.SetActiveSessions(s.SessionManager.Count())
	}
}
