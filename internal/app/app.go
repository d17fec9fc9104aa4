// Package app assembles the components shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/compress"
	"github.com/dunamismax/cropflow/internal/config"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/dunamismax/cropflow/internal/storage"
	"github.com/dunamismax/cropflow/internal/store"
)

// Runtime holds the long-lived pieces built from Config.
type Runtime struct {
	Store     storage.BlobStore
	Processor *pipeline.Processor
	Jobs      store.JobStore
	Usage     store.UsageStore
	Registry  *prometheus.Registry

	closers []func() error
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Registry: NewRegistry()}

	if err := compress.Startup(); err != nil {
		return nil, fmt.Errorf("start encoder runtime: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		compress.Shutdown()
		return nil
	})

	blobs, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt.Store = blobs

	encoder, err := compress.NewEncoder()
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("build encoder: %w", err)
	}
	compressor, err := compress.New(cfg.Compression, encoder, compress.WithLogger(logger.Named("compress")))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	assets := storage.NewAssets(blobs, storage.WithAssetsLogger(logger.Named("storage")))
	rt.Processor, err = pipeline.NewProcessor(cfg.Pipeline, compressor, assets,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithRegisterer(rt.Registry),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	if err := rt.openJobStore(ctx, cfg.Database, logger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) error {
	if cfg.DSN == "" {
		logger.Warn("POSTGRES_DSN not set; import jobs are kept in process memory")
		jobs := store.NewMemoryJobStore()
		rt.Jobs, rt.Usage = jobs, jobs
		return nil
	}

	jobs, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	rt.Jobs, rt.Usage = jobs, jobs
	rt.closers = append(rt.closers, jobs.Close)
	return nil
}

// Staging returns the blob store as an import staging area. Every built-in
// backend can read back what it stores.
func (rt *Runtime) Staging() (StagingStore, error) {
	s, ok := rt.Store.(StagingStore)
	if !ok {
		return nil, fmt.Errorf("storage backend %T cannot read staged sources", rt.Store)
	}
	return s, nil
}

type StagingStore interface {
	storage.BlobStore
	storage.Reader
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errList []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errList = append(errList, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errList...)
}
