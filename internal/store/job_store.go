// Package store persists import jobs and their usage records.
package store

import (
	"context"
	"errors"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
)

var ErrJobNotFound = errs.New(errs.KindNotFound, "store", errors.New("job not found"))

type JobStore interface {
	Create(ctx context.Context, job domain.ImportJob) error
	Get(ctx context.Context, id string) (domain.ImportJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.ImportJob, error)
	// Complete records the final status and produced asset of a job.
	Complete(ctx context.Context, id string, outcome domain.ImportOutcome) (domain.ImportJob, error)
}

type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}
