// Package api exposes the ledger over HTTP using gorilla/mux.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/adapters"
)

// Server routes HTTP requests to the ledger's commands, queries, and
// projection management operations.
type Server struct {
	router     *mux.Router
	service    *ledgerkit.AccountService
	ledger     *ledgerkit.Ledger
	readModels ledgerkit.ReadModelStore
	projector  *ledgerkit.Projector
	rebuilder  *ledgerkit.Rebuilder
	health     adapters.HealthChecker
	logger     ledgerkit.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger ledgerkit.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the backend health checker for /healthz.
func WithHealthChecker(health adapters.HealthChecker) ServerOption {
	return func(s *Server) {
		s.health = health
	}
}

// nopLogger mirrors the library default of discarding log output.
type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}

// NewServer creates an HTTP server over the ledger components.
func NewServer(
	service *ledgerkit.AccountService,
	ledger *ledgerkit.Ledger,
	readModels ledgerkit.ReadModelStore,
	projector *ledgerkit.Projector,
	rebuilder *ledgerkit.Rebuilder,
	opts ...ServerOption,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		service:    service,
		ledger:     ledger,
		readModels: readModels,
		projector:  projector,
		rebuilder:  rebuilder,
		logger:     nopLogger{},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/accounts", s.handleOpenAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/deposit", s.handleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/close", s.handleCloseAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/events", s.handleAccountEvents).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/balance-at/{timestamp}", s.handleBalanceAt).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/transactions", s.handleTransactions).Methods(http.MethodGet)

	api.HandleFunc("/projections/status", s.handleProjectionStatus).Methods(http.MethodGet)
	api.HandleFunc("/projections/rebuild", s.handleStartRebuild).Methods(http.MethodPost)
	api.HandleFunc("/projections/rebuild/{id}", s.handleRebuildJob).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// statusForError maps library errors onto HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ledgerkit.ErrValidationFailed),
		errors.Is(err, ledgerkit.ErrEmptyAccountID):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, ledgerkit.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, ledgerkit.ErrRebuildJobNotFound):
		return http.StatusNotFound, "rebuild_job_not_found"
	case errors.Is(err, ledgerkit.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, ledgerkit.ErrSequenceConflict),
		errors.Is(err, ledgerkit.ErrRetriesExhausted):
		return http.StatusConflict, "sequence_conflict"
	case errors.Is(err, ledgerkit.ErrRebuildRunning):
		return http.StatusConflict, "rebuild_running"
	case errors.Is(err, ledgerkit.ErrAccountClosed):
		return http.StatusUnprocessableEntity, "account_closed"
	case errors.Is(err, ledgerkit.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ledgerkit.ErrBalanceNotZero):
		return http.StatusUnprocessableEntity, "balance_not_zero"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
