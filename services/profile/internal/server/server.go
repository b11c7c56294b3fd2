package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"profilehub/internal/identity"
	"profilehub/internal/ratelimit"
	"profilehub/internal/util"
	"profilehub/pkg/domain"
	"profilehub/services/profile/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Verifier       *identity.Verifier
	Limiter        *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the profile service.
type Server struct {
	app            *app.App
	verifier       *identity.Verifier
	limiter        *ratelimit.FixedWindowLimiter
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("identity verifier required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		verifier:       cfg.Verifier,
		limiter:        cfg.Limiter,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("profile", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/profiles", s.handleProfiles)
	s.mux.HandleFunc("/profiles/", s.handleProfileByID)

	s.mux.Handle("/admin/drafts", s.withUser(s.handleListDrafts))
	s.mux.Handle("/admin/drafts/", s.withUser(s.handleDraftAction))
	s.mux.Handle("/admin/profiles/", s.withUser(s.handleAdminProfile))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.verifier.FromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next(w, r, actor)
	})
}

// withQuota guards mutating endpoints with the distributed rate limiter.
func (s *Server) withQuota(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	if !s.limiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests", nil)
		return false
	}
	return true
}

// /profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		profiles, err := s.app.ListPublished()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": profiles, "count": len(profiles)})
	case http.MethodPost:
		s.withUser(s.handleCreateProfile).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /profiles/{id}
func (s *Server) handleProfileByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/profiles/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		// Anonymous visitors see published profiles; owners and admins see
		// their drafts too.
		actor, _ := s.verifier.FromRequest(r)
		p, err := s.app.GetProfile(actor, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		s.withUser(func(w http.ResponseWriter, r *http.Request, actor domain.Identity) {
			s.handleUpdateProfile(w, r, actor, id)
		}).ServeHTTP(w, r)
	case http.MethodDelete:
		s.withUser(func(w http.ResponseWriter, r *http.Request, actor domain.Identity) {
			if !s.withQuota(w, r) {
				return
			}
			if err := s.app.DeleteProfile(r.Context(), actor, id); err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request, actor domain.Identity) {
	if !s.withQuota(w, r) {
		return
	}
	input, err := s.parseProfileForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	p, createErr := s.app.CreateProfile(r.Context(), actor, input)
	if createErr != nil {
		writeAppError(w, createErr)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, actor domain.Identity, id string) {
	if !s.withQuota(w, r) {
		return
	}
	input, err := s.parseProfileForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	p, updateErr := s.app.UpdateProfile(r.Context(), actor, id, input)
	if updateErr != nil {
		writeAppError(w, updateErr)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, _ *http.Request, actor domain.Identity) {
	drafts, err := s.app.ListDrafts(actor)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": drafts, "count": len(drafts)})
}

// /admin/drafts/{id}/approve|accept|reject
func (s *Server) handleDraftAction(w http.ResponseWriter, r *http.Request, actor domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.withQuota(w, r) {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/admin/drafts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found", nil)
		return
	}
	id, action := parts[0], parts[1]
	switch action {
	case "approve":
		p, err := s.app.ApproveRevision(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "accept":
		p, err := s.app.AcceptSubmission(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "reject":
		if err := s.app.RejectDraft(r.Context(), actor, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	default:
		writeError(w, http.StatusNotFound, "not found", nil)
	}
}

// /admin/profiles/{id}/publish or /admin/profiles/{id}/events
func (s *Server) handleAdminProfile(w http.ResponseWriter, r *http.Request, actor domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/admin/profiles/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found", nil)
		return
	}
	id, action := parts[0], parts[1]
	switch action {
	case "publish":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.withQuota(w, r) {
			return
		}
		var req publishRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
			return
		}
		p, err := s.app.SetPublished(r.Context(), actor, id, req.Published)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := s.app.ModerationEvents(actor, id, limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": events, "count": len(events)})
	default:
		writeError(w, http.StatusNotFound, "not found", nil)
	}
}

type publishRequest struct {
	Published bool `json:"published"`
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string              `json:"error"`
	Code      string              `json:"code"`
	Fields    map[string][]string `json:"fields,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, fields map[string][]string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		Fields:    fields,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps the application error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, "validation failed", verr.Fields)
		return
	}
	var serr *app.StateError
	if errors.As(err, &serr) {
		writeError(w, http.StatusConflict, serr.Error(), nil)
		return
	}
	var storErr *app.StorageError
	if errors.As(err, &storErr) {
		writeError(w, http.StatusBadGateway, "image storage unavailable", nil)
		return
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found", nil)
	case errors.Is(err, app.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, app.ErrProfileExists):
		writeError(w, http.StatusConflict, "profile already exists, edit it instead", nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "PROFILE_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "PROFILE_FORBIDDEN"
	case http.StatusNotFound:
		return "PROFILE_NOT_FOUND"
	case http.StatusConflict:
		return "PROFILE_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	case http.StatusBadGateway:
		return "PROFILE_STORAGE_ERROR"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
