package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PabloGalante/farum-cbt/internal/app/conversation"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

// maxBodyBytes bounds request bodies. Snapshots grow with the transcript,
// so this is well above the message size limit.
const maxBodyBytes = 4 << 20

type Server struct {
	svc *conversation.Service
}

// NewServer builds the JSON API. gatherer may be nil, in which case
// /metrics is not served.
func NewServer(svc *conversation.Service, gatherer prometheus.Gatherer) http.Handler {
	s := &Server{svc: svc}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Stateless: the caller keeps the snapshot between turns.
	mux.HandleFunc("POST /v1/start", s.handleStart)
	mux.HandleFunc("POST /v1/turn", s.handleTurn)
	mux.HandleFunc("POST /v1/summary", s.handleSummary)

	// Stateful: snapshots are kept in the configured SessionStore.
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleSendMessage)

	return chainMiddlewares(mux, withRequestID, withLogging, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type startRequest struct {
	Profile domain.ClientProfile `json:"profile"`
	Message string               `json:"message"`
}

type turnRequest struct {
	Session domain.SessionSnapshot `json:"session"`
	Profile domain.ClientProfile   `json:"profile"`
	Message string                 `json:"message"`
}

type summaryRequest struct {
	Session domain.SessionSnapshot `json:"session"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	ID        string                 `json:"id"`
	Profile   domain.ClientProfile   `json:"profile"`
	Session   domain.SessionSnapshot `json:"session"`
	Summary   domain.SessionSummary  `json:"summary"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.svc.StartSession(r.Context(), req.Profile, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.svc.ProcessTurn(r.Context(), req.Session, req.Profile, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !decode(w, r, &req) {
		return
	}

	summary, err := s.svc.Summary(req.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.svc.CreateSession(r.Context(), req.Profile, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	id := domain.SessionID(r.PathValue("id"))
	ctx := observability.WithSessionID(r.Context(), string(id))

	res, err := s.svc.SendMessage(ctx, id, req.Message)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(r.PathValue("id"))

	rec, summary, err := s.svc.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		ID:        string(rec.ID),
		Profile:   rec.Profile,
		Session:   rec.Snapshot,
		Summary:   summary,
		UpdatedAt: rec.UpdatedAt,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(r.PathValue("id"))

	if err := s.svc.DeleteSession(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err), errors.Is(err, domain.ErrMalformedSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoValidTechniques):
		return http.StatusBadGateway
	case errors.Is(err, conversation.ErrNoSessionStore):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
