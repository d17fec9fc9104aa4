package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/compress"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/storage"
	"github.com/dunamismax/cropflow/internal/store"
)

type captureWebhook struct {
	mu     sync.Mutex
	events []string
	bodies []map[string]any
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	if body, ok := payload.(map[string]any); ok {
		c.bodies = append(c.bodies, body)
	}
	return nil
}

type fixture struct {
	server  *Server
	jobs    *store.MemoryJobStore
	staging *storage.MemoryStore
	assets  *storage.MemoryStore
	hooks   *captureWebhook
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	enc := compress.EncoderFunc(func(context.Context, image.Image, domain.MimeType, float64) ([]byte, error) {
		return []byte("encoded-template"), nil
	})
	c, err := compress.New(compress.DefaultConfig(), enc)
	require.NoError(t, err)

	assets := storage.NewMemoryStore("https://cdn.example.com")
	p, err := pipeline.NewProcessor(pipeline.DefaultConfig(), c, storage.NewAssets(assets))
	require.NoError(t, err)

	f := fixture{
		jobs:    store.NewMemoryJobStore(),
		staging: storage.NewMemoryStore("memory://staging"),
		assets:  assets,
		hooks:   &captureWebhook{},
	}
	f.server = &Server{
		logger:     zap.NewNop(),
		sem:        make(chan struct{}, 1),
		processor:  p,
		staging:    f.staging,
		webhook:    f.hooks,
		jobStore:   f.jobs,
		usageStore: f.jobs,
		metrics:    newMetrics(nil),
		tracer:     otel.Tracer("worker-test"),
	}
	return f
}

func (f fixture) seed(t *testing.T, jobID string, source []byte) queue.ImportImagePayload {
	t.Helper()
	ctx := context.Background()
	key := "staging/" + jobID + "/source"
	now := time.Now().UTC()

	require.NoError(t, f.jobs.Create(ctx, domain.ImportJob{
		ID:        jobID,
		UserID:    "organiser-7",
		Status:    domain.JobStatusQueued,
		Bucket:    domain.BucketTournamentTemplates,
		ObjectKey: key,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	if source != nil {
		_, err := f.staging.Upload(ctx, key, source, "image/png")
		require.NoError(t, err)
	}

	return queue.ImportImagePayload{
		JobID:       jobID,
		Bucket:      string(domain.BucketTournamentTemplates),
		Folder:      "season-3",
		WebhookURL:  "https://hooks.example.com/cropflow",
		ObjectKey:   key,
		UserID:      "organiser-7",
		RequestedAt: now,
	}
}

func TestImportImageCommitsAsset(t *testing.T) {
	f := newFixture(t)
	payload := f.seed(t, "job-1", buildPNG(t, 1600, 900))

	require.NoError(t, f.server.importImage(context.Background(), payload))

	job, ok, err := f.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.True(t, job.MeetsBudget)
	assert.Contains(t, job.AssetPath, "tournament-templates/season-3/")
	assert.Equal(t, "https://cdn.example.com/"+job.AssetPath, job.AssetURL)

	stored, err := f.assets.Read(context.Background(), job.AssetPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("encoded-template"), stored)

	exists, err := f.staging.ObjectExists(context.Background(), payload.ObjectKey)
	require.NoError(t, err)
	assert.False(t, exists, "staged source is removed after commit")

	usage := f.jobs.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, "organiser-7", usage[0].UserID)
	assert.Equal(t, int64(1600*900), usage[0].PixelsProcessed)
	assert.GreaterOrEqual(t, usage[0].ComputeTimeMS, int64(1))

	assert.Equal(t, []string{"job.completed"}, f.hooks.events)
}

func TestImportImageMissingSourceFailsJob(t *testing.T) {
	f := newFixture(t)
	payload := f.seed(t, "job-2", nil)

	err := f.server.importImage(context.Background(), payload)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	job, _, _ := f.jobs.Get(context.Background(), "job-2")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Empty(t, f.jobs.Usage())
	assert.Equal(t, []string{"job.failed"}, f.hooks.events)
	assert.Equal(t, 0, f.assets.Len())
}

func TestImportImageUndecodableSourceKeepsStaging(t *testing.T) {
	f := newFixture(t)
	payload := f.seed(t, "job-3", []byte("not an image"))

	err := f.server.importImage(context.Background(), payload)
	assert.ErrorIs(t, err, errs.ErrDecode)

	exists, err := f.staging.ObjectExists(context.Background(), payload.ObjectKey)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 0, f.assets.Len())
}

func TestImportImageRejectsUnknownBucket(t *testing.T) {
	f := newFixture(t)
	payload := f.seed(t, "job-4", buildPNG(t, 64, 64))
	payload.Bucket = "posters"

	assert.Error(t, f.server.importImage(context.Background(), payload))
	job, _, _ := f.jobs.Get(context.Background(), "job-4")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestRecordUsageClampsNegativeSavings(t *testing.T) {
	f := newFixture(t)
	f.server.recordUsage(context.Background(), queue.ImportImagePayload{JobID: "job-5", Bucket: "tcg-cards"}, pipeline.Result{
		Source:      domain.Size{Width: 10, Height: 10},
		SourceBytes: 100,
		Compression: domain.CompressionResult{Bytes: make([]byte, 200)},
	})

	usage := f.jobs.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, "anonymous", usage[0].UserID)
	assert.Equal(t, int64(0), usage[0].BytesSaved)
	assert.Equal(t, int64(1), usage[0].ComputeTimeMS)
}

func buildPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
