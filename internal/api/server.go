// Package api exposes the HTTP surface: chat, conversations, tasks,
// accounts, and the audit log.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taskwarden/taskwarden/internal/agent"
	"github.com/taskwarden/taskwarden/internal/audit"
	"github.com/taskwarden/taskwarden/internal/auth"
	"github.com/taskwarden/taskwarden/internal/buildinfo"
	"github.com/taskwarden/taskwarden/internal/convstore"
	"github.com/taskwarden/taskwarden/internal/taskstore"
)

// MaxMessageLen bounds a single chat message's content, in runes.
const MaxMessageLen = 10000

// Error codes used in the response envelope.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeUnauthorized = "UNAUTHORIZED"
	codeAgent        = "AGENT_ERROR"
	codeInternal     = "INTERNAL_ERROR"
	codeEmailTaken   = "EMAIL_TAKEN"
	codeCredentials  = "INVALID_CREDENTIALS"
)

// Server wires the stores and the agent loop into HTTP handlers.
type Server struct {
	logger        *slog.Logger
	conversations *convstore.Store
	tasks         *taskstore.Store
	auditLog      *audit.Store
	users         *auth.Store
	loop          *agent.Loop
	historyLimit  int
	tokenTTL      time.Duration
}

type Options struct {
	Logger        *slog.Logger
	Conversations *convstore.Store
	Tasks         *taskstore.Store
	AuditLog      *audit.Store
	Users         *auth.Store
	Loop          *agent.Loop
	HistoryLimit  int
	TokenTTL      time.Duration
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * 24 * time.Hour
	}
	return &Server{
		logger:        opts.Logger,
		conversations: opts.Conversations,
		tasks:         opts.Tasks,
		auditLog:      opts.AuditLog,
		users:         opts.Users,
		loop:          opts.Loop,
		historyLimit:  opts.HistoryLimit,
		tokenTTL:      opts.TokenTTL,
	}
}

// Handler returns the routed handler with logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("POST /auth/signup", s.handleSignup)
	mux.HandleFunc("POST /auth/signin", s.handleSignin)

	mux.Handle("POST /chat", s.requireUser(s.handleChat))
	mux.Handle("GET /conversations", s.requireUser(s.handleListConversations))
	mux.Handle("GET /conversations/{id}/messages", s.requireUser(s.handleConversationMessages))
	mux.Handle("GET /conversations/{id}/export", s.requireUser(s.handleExportConversation))

	mux.Handle("GET /tasks", s.requireUser(s.handleListTasks))
	mux.Handle("POST /tasks", s.requireUser(s.handleCreateTask))
	mux.Handle("GET /tasks/{id}", s.requireUser(s.handleGetTask))
	mux.Handle("PATCH /tasks/{id}", s.requireUser(s.handleUpdateTask))
	mux.Handle("DELETE /tasks/{id}", s.requireUser(s.handleDeleteTask))

	mux.Handle("GET /audit/invocations", s.requireUser(s.handleAuditList))
	mux.Handle("GET /audit/stats", s.requireUser(s.handleAuditStats))

	return s.withLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": buildinfo.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}

// userHandler is a handler that runs with a resolved account.
type userHandler func(w http.ResponseWriter, r *http.Request, user *auth.User)

// requireUser resolves the bearer token and rejects the request when it
// is missing, unknown, or expired.
func (s *Server) requireUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			errorResponse(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			return
		}
		user, err := s.users.ResolveToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				errorResponse(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
				return
			}
			s.logger.Error("resolve token", "error", err)
			errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// queryInt returns the named query parameter or def when absent or bad.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
