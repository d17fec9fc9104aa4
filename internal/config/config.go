// Package config loads process settings from .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dunamismax/cropflow/internal/compress"
	"github.com/dunamismax/cropflow/internal/logging"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/dunamismax/cropflow/internal/storage"
	"github.com/dunamismax/cropflow/internal/webhook"
)

type Config struct {
	API         APIConfig
	Queue       QueueConfig
	Worker      WorkerConfig
	Storage     storage.Config
	Database    DatabaseConfig
	Compression compress.Config
	Pipeline    pipeline.Config
	Webhook     webhook.Config
	Tracing     TracingConfig
	Log         logging.Config
}

type APIConfig struct {
	Addr            string        `env:"CROPFLOW_API_ADDR" envDefault:":8080"`
	MaxUploadBytes  int64         `env:"API_MAX_UPLOAD_BYTES" envDefault:"33554432"`
	RateLimit       int           `env:"API_RATE_LIMIT" envDefault:"60"`
	RateLimitWindow time.Duration `env:"API_RATE_LIMIT_WINDOW" envDefault:"1m"`
	ShutdownTimeout time.Duration `env:"API_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type QueueConfig struct {
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	Name          string `env:"ASYNC_QUEUE" envDefault:"default"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	// Zero means derive from the CPU count.
	Concurrency   int    `env:"WORKER_CONCURRENCY"`
	MaxActiveJobs int    `env:"WORKER_MAX_ACTIVE_JOBS"`
	MetricsAddr   string `env:"WORKER_METRICS_ADDR" envDefault:":9091"`
}

type DatabaseConfig struct {
	// Empty keeps import jobs in memory, which only works with a single process.
	DSN string `env:"POSTGRES_DSN"`
}

type TracingConfig struct {
	Exporter     string `env:"OTEL_TRACES_EXPORTER" envDefault:"none"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
}

// Load reads .env when present, then the environment, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !isNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = max(2, runtime.NumCPU())
	}
	if cfg.Worker.MaxActiveJobs <= 0 {
		cfg.Worker.MaxActiveJobs = max(1, runtime.NumCPU()/2)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []error
	if err := c.Compression.Validate(); err != nil {
		problems = append(problems, err)
	}
	if err := c.Storage.Validate(); err != nil {
		problems = append(problems, err)
	}
	if c.API.MaxUploadBytes <= 0 {
		problems = append(problems, errors.New("api: max upload bytes must be positive"))
	}
	if c.API.RateLimit < 0 || (c.API.RateLimit > 0 && c.API.RateLimitWindow <= 0) {
		problems = append(problems, errors.New("api: rate limit needs a positive window"))
	}
	if c.Pipeline.PreviewCapacity <= 0 || c.Pipeline.SessionCapacity <= 0 {
		problems = append(problems, errors.New("pipeline: preview and session capacity must be positive"))
	}
	if c.Pipeline.MaxSourceBytes <= 0 || int64(c.Pipeline.MaxSourceBytes) > c.API.MaxUploadBytes {
		problems = append(problems, errors.New("pipeline: max source bytes must be positive and within the api upload limit"))
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.OTLPEndpoint == "" {
			problems = append(problems, errors.New("tracing: otlp exporter needs OTEL_EXPORTER_OTLP_ENDPOINT"))
		}
	default:
		problems = append(problems, fmt.Errorf("tracing: unsupported exporter %q", c.Tracing.Exporter))
	}
	return errors.Join(problems...)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
