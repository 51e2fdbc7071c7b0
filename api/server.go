package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hashnote/anchor"
	"hashnote/ledger"
	"hashnote/observability"
	"hashnote/ratelimit"
	"hashnote/storage"
)

// Config captures the dependencies required to construct the HTTP boundary.
type Config struct {
	Service  *anchor.Service
	Limiter  *ratelimit.Limiter
	JobToken string
	Version  string
	Logger   *slog.Logger
}

// Server is the thin HTTP boundary in front of the anchoring core. It does
// routing, marshalling and admission control; all domain decisions live in
// the anchor package.
type Server struct {
	svc      *anchor.Service
	limiter  *ratelimit.Limiter
	jobToken string
	version  string
	log      *slog.Logger

	router http.Handler
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		svc:      cfg.Service,
		limiter:  cfg.Limiter,
		jobToken: cfg.JobToken,
		version:  version,
		log:      logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(limited chi.Router) {
			limited.Use(s.withRateLimit)
			limited.Post("/messages", s.CreateMessage)
			limited.Get("/messages/{id}", s.GetMessage)
			limited.Get("/messages/{id}/verify", s.VerifyMessage)
		})
		v1.Group(func(jobs chi.Router) {
			jobs.Use(s.requireJobToken)
			jobs.Post("/jobs/process-pending", s.ProcessPending)
		})
	})
	return r
}

// withRateLimit applies per-client sliding-window admission control and
// reports the remaining budget on every successful response.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := clientID(r)
		if !s.limiter.Allow(id) {
			observability.Anchor().RateLimited.Inc()
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":     "Rate limit exceeded",
				"remaining": 0,
			})
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(s.limiter.Remaining(id)))
		next.ServeHTTP(w, r)
	})
}

// requireJobToken guards the periodic-job trigger behind a shared secret so
// only the scheduler can drive bulk reconciliation.
func (s *Server) requireJobToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Job-Token")
		if s.jobToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.jobToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createMessageRequest struct {
	Message *string `json:"message"`
}

func (s *Server) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Message is required and must be a string"})
		return
	}

	msg, err := s.svc.Create(r.Context(), *req.Message)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messagePayload(msg))
}

func (s *Server) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseMessageID(w, r)
	if !ok {
		return
	}
	msg, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Message not found"})
		return
	}
	writeJSON(w, http.StatusOK, messagePayload(msg))
}

func (s *Server) VerifyMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseMessageID(w, r)
	if !ok {
		return
	}
	result, err := s.svc.Verify(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Message not found"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) ProcessPending(w http.ResponseWriter, r *http.Request) {
	processed, err := s.svc.ProcessPending(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": processed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     s.version,
		"ledger_mode": string(s.svc.Mode()),
		"network":     s.svc.Network(),
	})
}

// writeServiceError maps the core's error taxonomy onto HTTP statuses so the
// boundary can tell client faults, unsupported capabilities and upstream
// submission failures apart.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var validation *anchor.ValidationError
	var submit *ledger.SubmitError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Reason})
	case anchor.IsUnsupported(err):
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": err.Error()})
	case errors.As(err, &submit):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": submit.Error()})
	default:
		s.log.Error("request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

type messageResponse struct {
	ID          string         `json:"id"`
	Message     string         `json:"message"`
	MsgHash     string         `json:"msg_hash"`
	TxHash      *string        `json:"tx_hash"`
	Status      storage.Status `json:"status"`
	BlockNumber *uint64        `json:"block_number"`
	ConfirmedAt *string        `json:"confirmed_at"`
	CreatedAt   string         `json:"created_at"`
}

func messagePayload(msg *storage.Message) messageResponse {
	out := messageResponse{
		ID:          msg.ID.String(),
		Message:     msg.Body,
		MsgHash:     msg.ContentHash,
		TxHash:      msg.TxHash,
		Status:      msg.Status,
		BlockNumber: msg.BlockNumber,
		CreatedAt:   msg.CreatedAt.UTC().Format(time.RFC3339),
	}
	if msg.ConfirmedAt != nil {
		formatted := msg.ConfirmedAt.UTC().Format(time.RFC3339)
		out.ConfirmedAt = &formatted
	}
	return out
}

func parseMessageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Message ID must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clientID identifies the caller for rate limiting, preferring the address
// resolved by the RealIP middleware.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
