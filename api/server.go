// Package api provides the HTTP REST API server for portiq.
//
// It exposes endpoints for investment analysis, question answering over
// the document store, raw document search, key status and WebSocket
// progress streaming.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/seenimoa/portiq/internal/agent"
	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/pkg/models"
)

// Version is reported by the health endpoint. Set by the CLI at startup.
var Version = "dev"

// DefaultSearchLimit is used when a search request omits its limit.
const DefaultSearchLimit = 5

// Analyzer runs a full investment analysis.
type Analyzer interface {
	AnalyzeInvestment(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResponse, error)
}

// Searcher runs a raw filtered similarity search.
type Searcher interface {
	Search(ctx context.Context, query string, filters map[string]string, limit int) ([]models.Document, error)
}

var _ Analyzer = (*agent.Orchestrator)(nil)

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	analyzer Analyzer
	searcher Searcher
	asker    Asker
	wsHub    *WSHub
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewServer creates a configured API server with all routes and middleware.
// The hub should be the one whose Observe method was installed on the
// orchestrator so analysis progress reaches WebSocket clients. A nil asker
// disables the question answering endpoints.
func NewServer(cfg *config.Config, analyzer Analyzer, searcher Searcher, asker Asker, hub *WSHub, log logrus.FieldLogger) *Server {
	if log == nil {
		log = infra.NopLogger()
	}
	if hub == nil {
		hub = NewWSHub(log)
	}
	srv := &Server{
		cfg:      cfg,
		analyzer: analyzer,
		searcher: searcher,
		asker:    asker,
		wsHub:    hub,
		validate: validator.New(),
		log:      log,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// ListenAndServe starts the HTTP server and shuts it down gracefully when
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.requestTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.wsHub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg != nil && s.cfg.API.RequestTimeout > 0 {
		return s.cfg.API.RequestTimeout
	}
	return 5 * time.Minute
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(infra.RequestLogger(s.log))
	r.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if s.cfg != nil && len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// WebSocket connections are long-lived; keep them outside the timeout group.
	r.Get("/api/v1/ws", s.handleWebSocket)

	// Streams bound their own context by the request timeout.
	r.Post("/llm/stream", s.handleAskStream)
	r.Post("/api/v1/ask/stream", s.handleAskStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout()))

		// Short aliases kept for existing clients.
		r.Post("/agent", s.handleAnalyze)
		r.Post("/search", s.handleSearch)
		r.Post("/llm", s.handleAsk)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Post("/analyze", s.handleAnalyze)
			r.Post("/ask", s.handleAsk)
			r.Post("/search", s.handleSearch)
			r.Get("/config", s.handleGetConfig)
			r.Get("/config/keys", s.handleGetConfigKeys)
		})
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthStatus is the payload of GET /health.
type HealthStatus struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	WSClients int    `json:"ws_clients"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: HealthStatus{
			Status:    "Ok",
			Version:   Version,
			WSClients: s.wsHub.ClientCount(),
		},
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IsEmpty() || s.validate.Struct(req) != nil {
		writeError(w, http.StatusBadRequest, agent.ErrMissingInput.Error())
		return
	}

	resp, err := s.analyzer.AnalyzeInvestment(r.Context(), req)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Limit == 0 {
		req.Limit = DefaultSearchLimit
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "query is required and limit must be between 1 and 100")
		return
	}

	docs, err := s.searcher.Search(r.Context(), req.Query, req.Filters, req.Limit)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"operation":  "search",
			"request_id": middleware.GetReqID(r.Context()),
		}).WithError(err).Error("document search failed")
		writeError(w, http.StatusInternalServerError, "document search failed")
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: models.SearchResponse{Results: docs}})
}

// statusFor maps an analysis error to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrMissingInput):
		return http.StatusBadRequest, agent.ErrMissingInput.Error()
	case errors.Is(err, agent.ErrUnresolvedTicker):
		return http.StatusBadRequest, agent.ErrUnresolvedTicker.Error()
	default:
		return http.StatusInternalServerError, "investment analysis failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
