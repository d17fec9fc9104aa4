package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	BackendMinio  = "minio"
	BackendOSS    = "oss"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

type Config struct {
	Backend       string        `env:"STORAGE_BACKEND" envDefault:"minio"`
	PublicBaseURL string        `env:"STORAGE_PUBLIC_BASE_URL"`
	StagingPrefix string        `env:"STORAGE_STAGING_PREFIX" envDefault:"staging"`
	PresignTTL    time.Duration `env:"STORAGE_PRESIGN_TTL" envDefault:"15m"`

	MinioEndpoint string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioAccess   string `env:"MINIO_ACCESS_KEY" envDefault:"minioadmin"`
	MinioSecret   string `env:"MINIO_SECRET_KEY" envDefault:"minioadmin"`
	MinioBucket   string `env:"MINIO_BUCKET" envDefault:"cropflow-assets"`
	MinioUseSSL   bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	OSSEndpoint  string `env:"OSS_ENDPOINT"`
	OSSAccessKey string `env:"OSS_ACCESS_KEY_ID"`
	OSSSecretKey string `env:"OSS_ACCESS_KEY_SECRET"`
	OSSBucket    string `env:"OSS_BUCKET"`

	LocalDir string `env:"LOCAL_STORAGE_DIR" envDefault:"./.cropflow-assets"`
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case BackendMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return fmt.Errorf("storage: minio backend needs MINIO_ENDPOINT and MINIO_BUCKET")
		}
	case BackendOSS:
		if c.OSSEndpoint == "" || c.OSSBucket == "" {
			return fmt.Errorf("storage: oss backend needs OSS_ENDPOINT and OSS_BUCKET")
		}
	case BackendLocal:
		if c.LocalDir == "" {
			return fmt.Errorf("storage: local backend needs LOCAL_STORAGE_DIR")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage: unsupported backend %q", c.Backend)
	}
	return nil
}

// Open builds the configured backend. Minio buckets are created when missing.
func Open(ctx context.Context, cfg Config) (BlobStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMinio:
		s, err := NewMinioStore(MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			Access:        cfg.MinioAccess,
			Secret:        cfg.MinioSecret,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case BackendOSS:
		return NewOSSStore(OSSConfig{
			Endpoint:  cfg.OSSEndpoint,
			AccessKey: cfg.OSSAccessKey,
			SecretKey: cfg.OSSSecretKey,
			Bucket:    cfg.OSSBucket,
			Domain:    cfg.PublicBaseURL,
		})
	case BackendLocal:
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return NewMemoryStore(cfg.PublicBaseURL), nil
	}
}

// StagingPath is where the raw source of import jobID is staged.
func (c Config) StagingPath(jobID string) string {
	prefix := strings.Trim(c.StagingPrefix, "/")
	if prefix == "" {
		prefix = "staging"
	}
	return prefix + "/" + sanitizePathToken(jobID) + "/source"
}
