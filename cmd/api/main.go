package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/api"
	"github.com/dunamismax/cropflow/internal/app"
	"github.com/dunamismax/cropflow/internal/config"
	"github.com/dunamismax/cropflow/internal/logging"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/ratelimit"
	"github.com/dunamismax/cropflow/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("cropflow-api: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, syncLogs, err := logging.New("cropflow-api", cfg.Log)
	if err != nil {
		return err
	}
	defer syncLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "cropflow-api", cfg.Tracing, logger)
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close failed", zap.Error(err))
		}
	}()

	opts := []api.Option{
		api.WithRegistry(rt.Registry),
		api.WithMaxUploadBytes(cfg.API.MaxUploadBytes),
		api.WithImports(api.Imports{
			Queue:   queueClient,
			Jobs:    rt.Jobs,
			Staging: staging,
			Storage: cfg.Storage,
		}),
	}
	if cfg.API.RateLimit > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewTokenBucket(redisClient, cfg.API.RateLimit, cfg.API.RateLimitWindow, ratelimit.DefaultKeyPrefix)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithRateLimiter(limiter, ""))
	}

	srv, err := api.NewServer(logger.Named("api"), rt.Processor, opts...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.API.Addr), zap.String("storage", cfg.Storage.Backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
