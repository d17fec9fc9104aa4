package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/cropflow/internal/compress"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failUploads writes with a network error.
type flakyStore struct {
	*storage.MemoryStore
	mu          sync.Mutex
	failUploads int
	writes      int
}

func (s *flakyStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := s.count(); err != nil {
		return "", err
	}
	return s.MemoryStore.Upload(ctx, path, data, contentType)
}

func (s *flakyStore) Replace(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := s.count(); err != nil {
		return "", err
	}
	return s.MemoryStore.Replace(ctx, path, data, contentType)
}

func (s *flakyStore) count() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failUploads > 0 {
		s.failUploads--
		return errs.Newf(errs.KindNetwork, "flaky.upload", "connection reset")
	}
	return nil
}

func smallEncoder() compress.Encoder {
	return compress.EncoderFunc(func(context.Context, image.Image, domain.MimeType, float64) ([]byte, error) {
		return []byte("encoded-output"), nil
	})
}

func newTestProcessor(t *testing.T, store storage.BlobStore, enc compress.Encoder, mutate ...func(*Config)) *Processor {
	t.Helper()
	if enc == nil {
		var err error
		enc, err = compress.NewEncoder()
		require.NoError(t, err)
	}
	c, err := compress.New(compress.DefaultConfig(), enc)
	require.NoError(t, err)

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := NewProcessor(cfg, c, storage.NewAssets(store))
	require.NoError(t, err)
	return p
}

func TestProcessFastPath(t *testing.T) {
	store := storage.NewMemoryStore("https://cdn.example.com")
	p := newTestProcessor(t, store, nil)

	res, err := p.Process(context.Background(), Request{
		Bucket: domain.BucketQuizImages,
		Folder: "round-1",
		Data:   buildTestPNG(t, 1200, 900),
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StateIdle, StateDecoding, StateRendering, StateCompressing, StateUploading, StateDone}, res.States)
	assert.True(t, res.Compression.MeetsBudget)
	assert.False(t, res.BudgetWarning)
	assert.Equal(t, domain.CropRect{Width: 1200, Height: 900}, res.Crop)
	assert.Equal(t, domain.Size{Width: 1200, Height: 900}, res.Source)
	assert.Regexp(t, `^quiz-images/round-1/\d+-[0-9a-f]{8}\.jpg$`, res.Asset.Path)
	assert.Equal(t, "https://cdn.example.com/"+res.Asset.Path, res.Asset.URL)

	stored, err := store.Read(context.Background(), res.Asset.Path)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(stored), 150*1024)
	img, err := jpeg.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 450, img.Bounds().Dy())
}

func TestProcessWithCropVisitsCropStates(t *testing.T) {
	store := storage.NewMemoryStore("")
	p := newTestProcessor(t, store, smallEncoder())

	area := domain.CropRect{X: 100, Y: 50, Width: 5000, Height: 300}
	res, err := p.Process(context.Background(), Request{
		Bucket: domain.BucketGameCovers,
		Data:   buildTestPNG(t, 640, 480),
		Crop:   &geometry.CropSession{Aspect: 16.0 / 9.0, Area: &area},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StateIdle, StateDecoding, StateCropPending, StateCropAdjusting, StateRendering, StateCompressing, StateUploading, StateDone}, res.States)
	assert.Equal(t, domain.CropRect{X: 100, Y: 50, Width: 540, Height: 300}, res.Crop)
	assert.Equal(t, 1, store.Len())
}

func TestProcessDecodeFailureHasNoSideEffects(t *testing.T) {
	store := storage.NewMemoryStore("")
	p := newTestProcessor(t, store, smallEncoder())

	res, err := p.Process(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: []byte("definitely not an image")})
	require.ErrorIs(t, err, errs.ErrDecode)
	assert.Equal(t, []State{StateIdle, StateDecoding, StateFailed}, res.States)
	assert.Zero(t, store.Len())
}

func TestProcessRejectsBadRequests(t *testing.T) {
	p := newTestProcessor(t, storage.NewMemoryStore(""), smallEncoder())
	data := buildTestPNG(t, 10, 10)

	_, err := p.Process(context.Background(), Request{Bucket: "posters", Data: data})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = p.Process(context.Background(), Request{Bucket: domain.BucketQuizImages})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = p.Process(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: data, ReplacePath: "../../secrets"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = p.Process(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: data, ReplacePath: "game-covers/x.webp"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = p.Process(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: data, ReplacePath: "quiz-images/x.webp"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = p.Process(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: data, Crop: &geometry.CropSession{Zoom: 0.5}})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestProcessUploadFailureIsSurfaced(t *testing.T) {
	store := storage.NewMemoryStore("")
	store.QuotaBytes = 4
	p := newTestProcessor(t, store, smallEncoder())

	res, err := p.Process(context.Background(), Request{Bucket: domain.BucketTCGCards, Data: buildTestPNG(t, 64, 64)})
	require.ErrorIs(t, err, errs.ErrQuotaExceeded)
	assert.True(t, errs.IsUpload(err))
	assert.Equal(t, StateFailed, res.States[len(res.States)-1])
	assert.Contains(t, res.States, StateUploading)
	assert.NotEmpty(t, res.Compression.Bytes, "compressed bytes are kept for an upload-only retry")
}

func TestProcessReplaceKeepsURL(t *testing.T) {
	store := storage.NewMemoryStore("https://cdn.example.com")
	p := newTestProcessor(t, store, nil)
	ctx := context.Background()

	first, err := p.Process(ctx, Request{Bucket: domain.BucketGalleryImages, Data: buildTestPNG(t, 320, 180)})
	require.NoError(t, err)
	before, err := store.Read(ctx, first.Asset.Path)
	require.NoError(t, err)

	second, err := p.Process(ctx, Request{
		Bucket:      domain.BucketGalleryImages,
		Data:        buildSolidPNG(t, 320, 180, color.NRGBA{R: 10, G: 200, B: 30, A: 255}),
		ReplacePath: first.Asset.Path,
	})
	require.NoError(t, err)

	assert.Equal(t, first.Asset.Path, second.Asset.Path)
	assert.Equal(t, first.Asset.URL, second.Asset.URL)
	assert.NotZero(t, second.Asset.Version)
	assert.Contains(t, second.Asset.CacheBustedURL(), "?v=")

	after, err := store.Read(ctx, first.Asset.Path)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, 1, store.Len())
}

func TestProcessBudgetNotMetIsNotAnError(t *testing.T) {
	huge := compress.EncoderFunc(func(context.Context, image.Image, domain.MimeType, float64) ([]byte, error) {
		return make([]byte, 1<<20), nil
	})
	store := storage.NewMemoryStore("")
	p := newTestProcessor(t, store, huge)

	res, err := p.Process(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: buildTestPNG(t, 100, 100)})
	require.NoError(t, err)
	assert.True(t, res.BudgetWarning)
	assert.False(t, res.Compression.MeetsBudget)
	assert.Equal(t, domain.PhaseFallback, res.Compression.Phase)
	assert.Equal(t, StateDone, res.States[len(res.States)-1])
	assert.Equal(t, 1, store.Len())
}

func TestProcessCancelledContextUploadsNothing(t *testing.T) {
	store := storage.NewMemoryStore("")
	p := newTestProcessor(t, store, smallEncoder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Process(ctx, Request{Bucket: domain.BucketQuizImages, Data: buildTestPNG(t, 40, 40)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, res.States[len(res.States)-1])
	assert.Zero(t, store.Len())
}

func TestSessionCommitRevokesPreview(t *testing.T) {
	store := storage.NewMemoryStore("")
	p := newTestProcessor(t, store, smallEncoder())
	ctx := context.Background()

	sess, err := p.Begin(ctx, Request{Bucket: domain.BucketLessonImages, Folder: "unit-3", Data: buildTestPNG(t, 1600, 900)})
	require.NoError(t, err)
	assert.Equal(t, StateCropPending, sess.State())
	assert.Equal(t, domain.Size{Width: 1600, Height: 900}, sess.Natural())

	preview, data, ok := p.Previews().Get(sess.Preview().ID)
	require.True(t, ok)
	assert.Equal(t, "image/png", preview.ContentType)
	assert.NotEmpty(t, data)
	assert.Equal(t, "/v1/previews/"+preview.ID, preview.URL)

	rect, err := sess.Adjust(geometry.CropSession{Aspect: 16.0 / 9.0, Area: &domain.CropRect{X: 0, Y: 0, Width: 800, Height: 450}})
	require.NoError(t, err)
	assert.Equal(t, domain.CropRect{Width: 800, Height: 450}, rect)
	_, err = sess.Adjust(geometry.CropSession{Aspect: 16.0 / 9.0, Zoom: 2})
	require.NoError(t, err)

	res, err := sess.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []State{
		StateIdle, StateDecoding, StateCropPending, StateCropAdjusting, StateCropAdjusting,
		StateRendering, StateCompressing, StateUploading, StateDone,
	}, res.States)
	assert.Equal(t, domain.CropRect{X: 400, Y: 225, Width: 800, Height: 450}, res.Crop)

	_, _, ok = p.Previews().Get(sess.Preview().ID)
	assert.False(t, ok)
	_, ok = p.Session(sess.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())

	_, err = sess.Commit(ctx)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestSessionCancelNeverUploads(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore("")}
	p := newTestProcessor(t, store, smallEncoder())

	sess, err := p.Begin(context.Background(), Request{Bucket: domain.BucketGameCovers, Data: buildTestPNG(t, 300, 200)})
	require.NoError(t, err)
	_, err = sess.Adjust(geometry.CropSession{Aspect: 16.0 / 9.0, Zoom: 1.5, PanX: 0.2})
	require.NoError(t, err)

	sess.Cancel()
	sess.Cancel()

	assert.Equal(t, StateCancelled, sess.State())
	assert.Zero(t, store.writes)
	assert.Zero(t, p.Previews().Len())
	_, ok := p.Session(sess.ID())
	assert.False(t, ok)

	_, err = sess.Adjust(geometry.CropSession{})
	assert.ErrorIs(t, err, errs.ErrConflict)
	_, err = sess.Commit(context.Background())
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestSessionCancelDuringCompressionStopsBeforeUpload(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore("")}
	var sess *Session
	cancelled := make(chan struct{})
	enc := compress.EncoderFunc(func(ctx context.Context, _ image.Image, _ domain.MimeType, _ float64) ([]byte, error) {
		go func() {
			sess.Cancel()
			close(cancelled)
		}()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, context.DeadlineExceeded
		}
	})
	p := newTestProcessor(t, store, enc)

	var err error
	sess, err = p.Begin(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: buildTestPNG(t, 200, 100)})
	require.NoError(t, err)

	res, err := sess.Commit(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	<-cancelled

	assert.Equal(t, StateCancelled, res.States[len(res.States)-1])
	assert.NotContains(t, res.States, StateUploading)
	assert.Zero(t, store.writes)
	assert.Zero(t, p.Previews().Len())
}

func TestSessionRetryUploadAfterFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(""), failUploads: 1}
	p := newTestProcessor(t, store, smallEncoder())
	ctx := context.Background()

	sess, err := p.Begin(ctx, Request{Bucket: domain.BucketTournamentTemplates, Data: buildTestPNG(t, 256, 144)})
	require.NoError(t, err)

	_, err = sess.Commit(ctx)
	require.ErrorIs(t, err, errs.ErrNetwork)
	assert.Equal(t, StateFailed, sess.State())
	assert.Zero(t, p.Previews().Len(), "preview is revoked on failure too")
	_, ok := p.Session(sess.ID())
	assert.True(t, ok, "a failed upload stays retryable")

	res, err := sess.RetryUpload(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDone, sess.State())
	assert.Equal(t, []State{StateUploading, StateFailed, StateUploading, StateDone}, res.States[len(res.States)-4:])
	assert.Equal(t, 2, store.writes)
	assert.Equal(t, 1, store.Len())

	_, err = sess.RetryUpload(ctx)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestSessionEvictionCancels(t *testing.T) {
	p := newTestProcessor(t, storage.NewMemoryStore(""), smallEncoder(), func(c *Config) { c.SessionCapacity = 1 })
	ctx := context.Background()

	first, err := p.Begin(ctx, Request{Bucket: domain.BucketQuizImages, Data: buildTestPNG(t, 32, 32)})
	require.NoError(t, err)
	second, err := p.Begin(ctx, Request{Bucket: domain.BucketQuizImages, Data: buildTestPNG(t, 32, 32)})
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, first.State())
	assert.Equal(t, StateCropPending, second.State())
	_, _, ok := p.Previews().Get(first.Preview().ID)
	assert.False(t, ok)
	assert.Equal(t, 1, p.Previews().Len())
}

func TestBeginDecodeFailureRevokesPreview(t *testing.T) {
	p := newTestProcessor(t, storage.NewMemoryStore(""), smallEncoder())

	_, err := p.Begin(context.Background(), Request{Bucket: domain.BucketQuizImages, Data: []byte{0x89, 'P', 'N', 'G', 0, 0}})
	require.ErrorIs(t, err, errs.ErrDecode)
	assert.Zero(t, p.Previews().Len())
}

func TestPreviewsEvictLeastRecentlyUsed(t *testing.T) {
	previews, err := NewPreviews(2, "/v1/previews/")
	require.NoError(t, err)
	dropped := 0
	previews.onDrop = func() { dropped++ }

	a := previews.Create([]byte("a"), "image/png")
	b := previews.Create([]byte("b"), "image/png")
	_, _, _ = previews.Get(a.ID)
	previews.Create([]byte("c"), "image/png")

	_, _, ok := previews.Get(b.ID)
	assert.False(t, ok)
	_, _, ok = previews.Get(a.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, dropped)

	previews.Revoke(a.ID)
	previews.Revoke(a.ID)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "/v1/previews/"+a.ID, a.URL)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateDecoding.CanTransition(StateRendering), "fast path skips crop states")
	assert.True(t, StateCropAdjusting.CanTransition(StateCropPending))
	assert.True(t, StateFailed.CanTransition(StateUploading))
	assert.False(t, StateUploading.CanTransition(StateCancelled), "upload is the commit point")
	assert.False(t, StateDone.CanTransition(StateUploading))
	assert.False(t, StateIdle.CanTransition(StateRendering))

	tr := newTrail()
	require.NoError(t, tr.enter(StateDecoding))
	assert.ErrorIs(t, tr.enter(StateDone), errs.ErrConflict)
}

func BenchmarkProcessFastPath(b *testing.B) {
	source := benchmarkPNG(b, 1920, 1080)
	enc, err := compress.NewEncoder()
	if err != nil {
		b.Fatalf("new encoder: %v", err)
	}
	c, err := compress.New(compress.DefaultConfig(), enc)
	if err != nil {
		b.Fatalf("new compressor: %v", err)
	}
	p, err := NewProcessor(DefaultConfig(), c, storage.NewAssets(storage.NewMemoryStore("")))
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{Bucket: domain.BucketGalleryImages, Data: source}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildSolidPNG(t testing.TB, w, h int, c color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode solid png: %v", err)
	}
	return buf.Bytes()
}

func benchmarkPNG(b *testing.B, w, h int) []byte {
	return buildTestPNG(b, w, h)
}
