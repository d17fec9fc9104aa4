package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	bucket TEXT NOT NULL,
	folder TEXT NOT NULL DEFAULT '',
	replace_path TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	asset_path TEXT NOT NULL DEFAULT '',
	asset_url TEXT NOT NULL DEFAULT '',
	meets_budget BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL,
	bucket TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const selectJobSQL = `SELECT id, user_id, status, bucket, folder, replace_path, webhook_url, object_key,
	asset_path, asset_url, meets_budget, error, created_at, updated_at
 FROM import_jobs
 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure import schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.ImportJob) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO import_jobs (id, user_id, status, bucket, folder, replace_path, webhook_url, object_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID,
		job.UserID,
		job.Status,
		string(job.Bucket),
		job.Folder,
		job.ReplacePath,
		job.WebhookURL,
		job.ObjectKey,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.ImportJob, bool, error) {
	var (
		job    domain.ImportJob
		bucket string
	)
	err := s.db.QueryRowContext(ctx, selectJobSQL, id).Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&bucket,
		&job.Folder,
		&job.ReplacePath,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.AssetPath,
		&job.AssetURL,
		&job.MeetsBudget,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ImportJob{}, false, nil
		}
		return domain.ImportJob{}, false, fmt.Errorf("query import job: %w", err)
	}
	job.Bucket = domain.Bucket(bucket)
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.ImportJob, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE import_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("update import job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, outcome domain.ImportOutcome) (domain.ImportJob, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE import_jobs
		 SET status = $1, asset_path = $2, asset_url = $3, meets_budget = $4, error = $5, updated_at = $6
		 WHERE id = $7`,
		outcome.Status,
		outcome.AssetPath,
		outcome.AssetURL,
		outcome.MeetsBudget,
		outcome.Error,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("complete import job: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) RecordUsage(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, bucket, pixels_processed, bytes_saved, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.UserID,
		usage.JobID,
		string(usage.Bucket),
		usage.PixelsProcessed,
		usage.BytesSaved,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.ImportJob, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ImportJob{}, ErrJobNotFound
	}
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ImportJob{}, err
	}
	if !ok {
		return domain.ImportJob{}, ErrJobNotFound
	}
	return job, nil
}
