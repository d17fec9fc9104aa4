// Package api exposes the crop pipeline over HTTP: one-shot uploads, interactive
// crop sessions, asset replace/remove and staged template imports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/ratelimit"
	"github.com/dunamismax/cropflow/internal/storage"
	"github.com/dunamismax/cropflow/internal/store"
)

const defaultMaxUploadBytes = 32 << 20

type queueEnqueuer interface {
	EnqueueImportImage(ctx context.Context, payload queue.ImportImagePayload) (*asynq.TaskInfo, error)
}

// Imports wires the staged import flow. Staging receives raw sources; when it
// also implements storage.Presigner clients upload to it directly.
type Imports struct {
	Queue   queueEnqueuer
	Jobs    store.JobStore
	Staging storage.BlobStore
	Storage storage.Config
}

type Server struct {
	logger                *zap.Logger
	processor             *pipeline.Processor
	imports               *Imports
	rateLimiter           ratelimit.Limiter
	rateLimitUserIDHeader string
	maxUploadBytes        int64
	registry              *prometheus.Registry
	metrics               *metrics
	tracer                trace.Tracer
	router                chi.Router
}

type Option func(*Server)

func WithImports(imports Imports) Option {
	return func(s *Server) {
		s.imports = &imports
	}
}

func WithRateLimiter(l ratelimit.Limiter, userIDHeader string) Option {
	return func(s *Server) {
		s.rateLimiter = l
		if userIDHeader != "" {
			s.rateLimitUserIDHeader = userIDHeader
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithRegistry serves and registers API metrics on registry instead of a private one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

func NewServer(logger *zap.Logger, processor *pipeline.Processor, opts ...Option) (*Server, error) {
	if processor == nil {
		return nil, errors.New("api: processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:                logger,
		processor:             processor,
		rateLimitUserIDHeader: "X-User-ID",
		maxUploadBytes:        defaultMaxUploadBytes,
		tracer:                otel.Tracer("github.com/dunamismax/cropflow/internal/api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registry)
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/buckets", s.handleListBuckets)
		r.Get("/previews/{id}", s.handleGetPreview)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/imports/{id}", s.handleGetImport)

		r.Group(func(r chi.Router) {
			r.Use(s.withRateLimit)

			r.Post("/uploads", s.handleUpload)
			r.Put("/assets/*", s.handleReplaceAsset)
			r.Delete("/assets/*", s.handleRemoveAsset)

			r.Post("/sessions", s.handleBeginSession)
			r.Put("/sessions/{id}/crop", s.handleAdjustSession)
			r.Post("/sessions/{id}/commit", s.handleCommitSession)
			r.Post("/sessions/{id}/retry", s.handleRetrySession)
			r.Delete("/sessions/{id}", s.handleCancelSession)

			r.Post("/imports", s.handleCreateImport)
			r.Put("/imports/{id}/source", s.handleStageImportSource)
			r.Post("/imports/{id}/start", s.handleStartImport)
		})
	})
	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
