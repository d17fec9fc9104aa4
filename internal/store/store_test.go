package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ JobStore   = (*MemoryJobStore)(nil)
	_ UsageStore = (*MemoryJobStore)(nil)
	_ JobStore   = (*PostgresJobStore)(nil)
	_ UsageStore = (*PostgresJobStore)(nil)
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, domain.ImportJob{
		ID:        "job-1",
		Status:    domain.JobStatusCreated,
		Bucket:    domain.BucketTournamentTemplates,
		ObjectKey: "staging/job-1/source",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	job, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusQueued)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	job, err = s.Complete(ctx, "job-1", domain.ImportOutcome{
		Status:      domain.JobStatusSucceeded,
		AssetPath:   "tournament-templates/1-abc.webp",
		AssetURL:    "https://cdn.example.com/tournament-templates/1-abc.webp",
		MeetsBudget: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.True(t, job.MeetsBudget)

	got, ok, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job, got)
}

func TestMemoryJobStoreMissingJob(t *testing.T) {
	s := NewMemoryJobStore()

	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpdateStatus(context.Background(), "nope", domain.JobStatusQueued)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryJobStoreRecordsUsage(t *testing.T) {
	s := NewMemoryJobStore()
	require.NoError(t, s.RecordUsage(context.Background(), domain.UsageLog{JobID: "job-1", PixelsProcessed: 100}))

	usage := s.Usage()
	require.Len(t, usage, 1)
	assert.False(t, usage[0].CreatedAt.IsZero())
}
