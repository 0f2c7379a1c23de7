// Package api serves the search pipeline and alert store over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"fretscout/models"
	"fretscout/services"
	"fretscout/storage"
	"fretscout/utils"
)

// Server provides HTTP handlers for the API.
type Server struct {
	pipeline    *services.Pipeline
	store       storage.AlertStore
	logger      *utils.Logger
	tracer      trace.Tracer
	maxBodySize int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerTracer sets the tracer used for request spans.
func WithServerTracer(tracer trace.Tracer) ServerOption {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithMaxBodySize limits request bodies.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) {
		s.maxBodySize = n
	}
}

// NewServer creates a Server.
func NewServer(pipeline *services.Pipeline, store storage.AlertStore, logger *utils.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Server{
		pipeline:    pipeline,
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer("fretscout/api"),
		maxBodySize: 1 << 20, // 1MB default
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router with middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(TracingMiddleware(s.tracer))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.Health)
	r.Get("/search", s.Search)
	r.Route("/alerts", func(r chi.Router) {
		r.Post("/", s.CreateAlert)
		r.Get("/", s.ListAlerts)
		r.Get("/events", s.ListEvents)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("[api] Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// listingView is a listing as returned by the API.
type listingView struct {
	models.Listing
	AllInPrice     *float64 `json:"all_in_price"`
	EstimatedValue string   `json:"estimated_value"`
}

// SearchResponse is the GET /search body.
type SearchResponse struct {
	RunID        string              `json:"run_id"`
	Source       string              `json:"source"`
	UsedFallback bool                `json:"used_fallback"`
	Benchmark    *float64            `json:"benchmark"`
	Total        int                 `json:"total"`
	Count        int                 `json:"count"`
	Listings     []listingView       `json:"listings"`
	Events       []models.AlertEvent `json:"events"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Search handles GET /search
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		s.respondErr(w, err)
		return
	}

	res, err := s.pipeline.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			s.respondErr(w, &ValidationError{Field: "q", Message: "is required"})
			return
		}
		if res == nil {
			s.logger.Error("[api] Search %q failed: %v", req.Query, err)
			s.respondError(w, http.StatusBadGateway, "listing sources unavailable")
			return
		}
		s.logger.Error("[api] Alert matching for run %s failed: %v", res.RunID, err)
		s.respondError(w, http.StatusInternalServerError, "alert storage failed")
		return
	}

	views := make([]listingView, len(res.Listings))
	for i, l := range res.Listings {
		views[i] = listingView{Listing: l, AllInPrice: l.AllInPrice(), EstimatedValue: services.EstimateValue(l)}
	}
	events := res.Events
	if events == nil {
		events = []models.AlertEvent{}
	}

	s.respondJSON(w, http.StatusOK, SearchResponse{
		RunID:        res.RunID,
		Source:       res.Source,
		UsedFallback: res.UsedFallback,
		Benchmark:    res.Benchmark,
		Total:        len(res.Scored),
		Count:        len(views),
		Listings:     views,
		Events:       events,
	})
}

// CreateAlert handles POST /alerts
func (s *Server) CreateAlert(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}
	if err := validateAlert(&req); err != nil {
		s.respondErr(w, err)
		return
	}

	alert, err := s.store.InsertAlert(r.Context(), req.Query, req.MaxPrice)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyQuery) {
			s.respondErr(w, &ValidationError{Field: "query", Message: "is required"})
			return
		}
		s.logger.Error("[api] Insert alert failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, "could not save alert")
		return
	}

	s.respondJSON(w, http.StatusCreated, alert)
}

// ListAlerts handles GET /alerts
func (s *Server) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context())
	if err != nil {
		s.logger.Error("[api] List alerts failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, "could not list alerts")
		return
	}
	if alerts == nil {
		alerts = []models.SavedAlert{}
	}
	s.respondJSON(w, http.StatusOK, alerts)
}

// ListEvents handles GET /alerts/events
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		s.logger.Error("[api] List events failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, "could not list alert events")
		return
	}
	if events == nil {
		events = []models.AlertEvent{}
	}
	s.respondJSON(w, http.StatusOK, events)
}

// respondJSON sends a JSON response with the given status code.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("[api] Encode response: %v", err)
	}
}

// respondError sends an error response with the given status code and message.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// respondErr maps validation errors to 400 and everything else to 500.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Field: ve.Field})
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}
