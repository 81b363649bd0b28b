package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/metrics"
	"tiktok-sheets/internal/models"
	"tiktok-sheets/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Accounts is the account workflow the API exposes.
type Accounts interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	CreateAccount(ctx context.Context, appKey, appSecret, authCode string) (*models.Account, error)
	UpdateTask(ctx context.Context, id string, patch service.TaskPatch) (*models.Account, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (*models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	RequestRun(ctx context.Context, id string, fullYear bool) (*models.RunRequest, error)
}

// Jobs reports the scheduler registry.
type Jobs interface {
	Snapshot() map[string]string
}

// HTTPServer serves the account management API.
type HTTPServer struct {
	cfg      config.APIConfig
	accounts Accounts
	jobs     Jobs
	auth     *APIKeyAuth
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, accounts Accounts, jobs Jobs, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{
		cfg:      cfg,
		accounts: accounts,
		jobs:     jobs,
		auth:     NewAPIKeyAuth(cfg),
		logger:   &l,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Routes builds the router.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts/{id}", s.handleGetAccount)
		r.Delete("/accounts/{id}", s.handleDeleteAccount)
		r.Patch("/accounts/{id}/task", s.handleUpdateTask)
		r.Patch("/accounts/{id}/status", s.handleSetStatus)
		r.Post("/accounts/{id}/run", s.handleRun)
		r.Get("/jobs", s.handleJobs)
	})
	return r
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.IncHTTP(r.Method + " " + route)
		s.logger.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Str("remote", remoteHost(r)).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
