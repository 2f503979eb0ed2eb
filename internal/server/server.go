// Package server exposes the survey and admin HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"betterphone/internal/adminauth"
	"betterphone/internal/app"
	"betterphone/internal/ratelimit"
	"betterphone/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	Auth                    adminauth.Authenticator
	RedisAddr               string
	RedisPassword           string
	LoginRateLimitPerMinute int
	AllowedOrigins          []string
	CookieSecure            bool
	SessionTTL              time.Duration
}

// Server exposes HTTP endpoints for the survey backend.
type Server struct {
	app            *app.App
	auth           adminauth.Authenticator
	mux            *http.ServeMux
	loginLimiter   *ratelimit.FixedWindowLimiter
	allowedOrigins []string
	cookieSecure   bool
	sessionTTL     time.Duration
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("authenticator required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	loginLimiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "betterphone:ratelimit:login", loginLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init login limiter: %w", err)
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = adminauth.DefaultSessionTTL
	}
	s := &Server{
		app:            cfg.App,
		auth:           cfg.Auth,
		mux:            http.NewServeMux(),
		loginLimiter:   loginLimiter,
		allowedOrigins: cfg.AllowedOrigins,
		cookieSecure:   cfg.CookieSecure,
		sessionTTL:     sessionTTL,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the shared middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(
		util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// survey
	s.mux.HandleFunc("/api/save", s.handleSave)
	s.mux.HandleFunc("/api/survey/", s.handleSurveySteps)
	s.mux.HandleFunc("/api/survey/navigate", s.handleNavigate)

	// voice pipeline
	s.mux.HandleFunc("/api/voice/upload", s.handleVoiceUpload)
	s.mux.HandleFunc("/api/voice/transcription", s.handleTranscriptionStatus)
	s.mux.HandleFunc("/api/transcribe", s.handleTranscribe)
	s.mux.HandleFunc("/api/extract", s.handleExtract)

	// admin
	s.mux.HandleFunc("/api/admin/login", s.handleAdminLogin)
	s.mux.HandleFunc("/api/admin/logout", s.handleAdminLogout)
	s.mux.Handle("/api/admin/responses", s.adminOnly(s.handleAdminResponses))
	s.mux.Handle("/api/admin/stats", s.adminOnly(s.handleAdminStats))
	s.mux.Handle("/api/admin/insights", s.adminOnly(s.handleAdminInsights))
	s.mux.Handle("/api/admin/insights/response-summary", s.adminOnly(s.handleResponseSummary))
	s.mux.Handle("/api/admin/bulk", s.adminOnly(s.handleAdminBulk))
	s.mux.Handle("/api/admin/compare", s.adminOnly(s.handleAdminCompare))
	s.mux.Handle("/api/admin/tags", s.adminOnly(s.handleAdminTags))
	s.mux.Handle("/api/admin/tags/assign", s.adminOnly(s.handleAdminTagAssign))
	s.mux.Handle("/api/admin/notes", s.adminOnly(s.handleAdminNotes))
	s.mux.Handle("/api/admin/recordings/url", s.adminOnly(s.handleRecordingURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := adminauth.TokenFromRequest(r)
		if !ok {
			s.audit(r, "admin.authorize", "fail", "reason", "missing_cookie")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := s.auth.ValidateSession(token); err != nil {
			s.audit(r, "admin.authorize", "fail", "reason", "invalid_session")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps sentinel errors to statuses; everything else stays a
// generic 500 with details only in the log.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNoTranscript):
		writeError(w, http.StatusUnprocessableEntity, "recording has no transcript yet")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed",
			"path", r.URL.Path, "method", r.Method, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
