package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/app"
	"github.com/dunamismax/cropflow/internal/config"
	"github.com/dunamismax/cropflow/internal/logging"
	"github.com/dunamismax/cropflow/internal/telemetry"
	"github.com/dunamismax/cropflow/internal/webhook"
	"github.com/dunamismax/cropflow/internal/worker"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("cropflow-worker: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, syncLogs, err := logging.New("cropflow-worker", cfg.Log)
	if err != nil {
		return err
	}
	defer syncLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "cropflow-worker", cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close failed", zap.Error(err))
		}
	}()

	staging, err := rt.Staging()
	if err != nil {
		return err
	}

	srv, err := worker.NewServer(logger.Named("worker"), cfg.Queue, cfg.Worker, worker.Deps{
		Processor:  rt.Processor,
		Staging:    staging,
		Webhook:    webhook.NewClient(cfg.Webhook, logger.Named("webhook")),
		JobStore:   rt.Jobs,
		UsageStore: rt.Usage,
		Registry:   rt.Registry,
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_jobs", cfg.Worker.MaxActiveJobs),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
	)

	if err := srv.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	logger.Info("shutting down")
	srv.Shutdown()
	return nil
}
