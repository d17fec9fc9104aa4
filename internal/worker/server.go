// Package worker runs staged template imports pulled off the asynq queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/config"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/store"
	"github.com/dunamismax/cropflow/internal/webhook"
)

// Staging is where callers put import sources before starting a job.
type Staging interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger     *zap.Logger
	server     *asynq.Server
	sem        chan struct{}
	processor  *pipeline.Processor
	staging    Staging
	webhook    webhookSender
	jobStore   store.JobStore
	usageStore store.UsageStore
	metrics    *metrics
	tracer     trace.Tracer
}

type Deps struct {
	Processor  *pipeline.Processor
	Staging    Staging
	Webhook    *webhook.Client
	JobStore   store.JobStore
	UsageStore store.UsageStore
	Registry   *prometheus.Registry
}

func NewServer(logger *zap.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Processor == nil {
		return nil, errors.New("worker: processor is required")
	}
	if deps.Staging == nil {
		return nil, errors.New("worker: staging store is required")
	}
	if deps.JobStore == nil {
		return nil, errors.New("worker: job store is required")
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if both, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = both
		}
	}

	s := &Server{
		logger:     logger,
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:  deps.Processor,
		staging:    deps.Staging,
		jobStore:   deps.JobStore,
		usageStore: usageStore,
		metrics:    newMetrics(deps.Registry),
		tracer:     otel.Tracer("github.com/dunamismax/cropflow/internal/worker"),
	}
	if deps.Webhook != nil {
		s.webhook = deps.Webhook
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.WarnLevel,
			Logger:   logger.Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				logger.Error("task failed",
					zap.String("type", task.Type()),
					zap.String("task_id", taskID),
					zap.Error(err),
				)
			}),
		},
	)
	return s, nil
}

// Start begins consuming import tasks in the background.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeImportImage, s.handleImportImage)
	return s.server.Start(mux)
}

// Shutdown waits for in-flight imports and stops the consumer.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleImportImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseImportImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := s.importImage(ctx, payload); err != nil {
		return fmt.Errorf("import %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return nil
}

// importImage processes one staged source. Pipeline failures are recorded on the
// job and reported through the webhook, then returned.
func (s *Server) importImage(ctx context.Context, payload queue.ImportImagePayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed
	log := s.logger.With(zap.String("job_id", payload.JobID), zap.String("bucket", payload.Bucket))

	ctx, span := s.tracer.Start(ctx, "worker.import_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.bucket", payload.Bucket),
		attribute.String("job.object_key", payload.ObjectKey),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.Bucket, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.Bucket, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log.Info("import started", zap.String("object_key", payload.ObjectKey))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	res, err := s.run(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		log.Warn("import failed", zap.Error(err))
		s.complete(ctx, payload.JobID, domain.ImportOutcome{Status: domain.JobStatusFailed, Error: err.Error()})
		s.notify(ctx, payload, webhook.EventFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"bucket":       payload.Bucket,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		return err
	}

	outcome = domain.JobStatusSucceeded
	s.complete(ctx, payload.JobID, domain.ImportOutcome{
		Status:      domain.JobStatusSucceeded,
		AssetPath:   res.Asset.Path,
		AssetURL:    res.Asset.CacheBustedURL(),
		MeetsBudget: !res.BudgetWarning,
	})
	s.recordUsage(ctx, payload, res)

	if err := s.staging.Remove(ctx, payload.ObjectKey); err != nil {
		log.Warn("staged source not removed", zap.String("object_key", payload.ObjectKey), zap.Error(err))
	}

	log.Info("import committed",
		zap.String("path", res.Asset.Path),
		zap.Int("bytes", res.Compression.Size()),
		zap.Bool("meets_budget", !res.BudgetWarning),
	)
	s.notify(ctx, payload, webhook.EventCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"bucket":       payload.Bucket,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"asset":        res.Asset,
		"meets_budget": !res.BudgetWarning,
		"bytes":        res.Compression.Size(),
	})
	span.SetStatus(codes.Ok, "imported")
	return nil
}

func (s *Server) run(ctx context.Context, payload queue.ImportImagePayload) (pipeline.Result, error) {
	bucket, err := domain.ParseBucket(payload.Bucket)
	if err != nil {
		return pipeline.Result{}, err
	}

	data, err := s.staging.Read(ctx, payload.ObjectKey)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("read staged source: %w", err)
	}

	return s.processor.Process(ctx, pipeline.Request{
		Bucket:      bucket,
		Folder:      payload.Folder,
		ReplacePath: payload.ReplacePath,
		Data:        data,
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn("job status update failed", zap.String("job_id", jobID), zap.String("status", status), zap.Error(err))
	}
}

func (s *Server) complete(ctx context.Context, jobID string, outcome domain.ImportOutcome) {
	if _, err := s.jobStore.Complete(ctx, jobID, outcome); err != nil {
		s.logger.Warn("job completion not recorded", zap.String("job_id", jobID), zap.Error(err))
	}
}

// notify is best effort: a job is not failed because its callback endpoint is down.
func (s *Server) notify(ctx context.Context, payload queue.ImportImagePayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhook == nil {
		return
	}
	if err := s.webhook.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Warn("webhook delivery failed", zap.String("job_id", payload.JobID), zap.String("event", event), zap.Error(err))
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ImportImagePayload, res pipeline.Result) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		Bucket:          domain.Bucket(payload.Bucket),
		PixelsProcessed: int64(res.Source.Width) * int64(res.Source.Height),
		BytesSaved:      max(0, int64(res.SourceBytes-res.Compression.Size())),
		ComputeTimeMS:   max(1, res.Duration.Milliseconds()),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.Warn("usage log write failed", zap.String("job_id", payload.JobID), zap.Error(err))
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}
