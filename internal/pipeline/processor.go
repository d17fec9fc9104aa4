// Package pipeline orchestrates decode, crop, render, compress and upload for one
// image at a time. Process runs the whole thing in one call; Begin opens an
// interactive Session that parks between decode and render while the user crops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/compress"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/raster"
	"github.com/dunamismax/cropflow/internal/storage"
)

type Config struct {
	PreviewCapacity int    `env:"PREVIEW_CAPACITY" envDefault:"256"`
	PreviewBaseURL  string `env:"PREVIEW_BASE_URL" envDefault:"/v1/previews"`
	SessionCapacity int    `env:"SESSION_CAPACITY" envDefault:"128"`
	MaxSourceBytes  int    `env:"MAX_SOURCE_BYTES" envDefault:"33554432"`
}

func DefaultConfig() Config {
	return Config{
		PreviewCapacity: 256,
		PreviewBaseURL:  "/v1/previews",
		SessionCapacity: 128,
		MaxSourceBytes:  32 << 20,
	}
}

// Request is one image headed for one bucket.
type Request struct {
	Bucket domain.Bucket
	Folder string
	// ReplacePath, when set, overwrites that asset instead of creating a new one.
	ReplacePath string
	Data        []byte
	// Crop is nil on the fast path: the full decoded frame is rendered directly.
	Crop *geometry.CropSession
}

// Result is what a committed invocation produced. States lists every state visited.
type Result struct {
	Asset         domain.StoredAsset       `json:"asset"`
	Compression   domain.CompressionResult `json:"compression"`
	BudgetWarning bool                     `json:"budget_warning"`
	Crop          domain.CropRect          `json:"crop"`
	Source        domain.Size              `json:"source"`
	SourceBytes   int                      `json:"source_bytes"`
	States        []State                  `json:"states"`
	Duration      time.Duration            `json:"-"`
}

type Processor struct {
	cfg        Config
	compressor *compress.Compressor
	assets     *storage.Assets
	previews   *Previews
	sessions   *lru.Cache[string, *Session]
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics
}

type Option func(*Processor)

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithRegisterer registers the pipeline metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Processor) {
		p.metrics = newMetrics(reg)
	}
}

func NewProcessor(cfg Config, compressor *compress.Compressor, assets *storage.Assets, opts ...Option) (*Processor, error) {
	if compressor == nil {
		return nil, errors.New("pipeline: compressor is required")
	}
	if assets == nil {
		return nil, errors.New("pipeline: assets are required")
	}
	if cfg.PreviewCapacity <= 0 || cfg.SessionCapacity <= 0 {
		return nil, errors.New("pipeline: preview and session capacity must be positive")
	}

	p := &Processor{
		cfg:        cfg,
		compressor: compressor,
		assets:     assets,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("github.com/dunamismax/cropflow/internal/pipeline"),
		metrics:    newMetrics(nil),
	}
	for _, opt := range opts {
		opt(p)
	}

	previews, err := NewPreviews(cfg.PreviewCapacity, cfg.PreviewBaseURL)
	if err != nil {
		return nil, fmt.Errorf("build preview registry: %w", err)
	}
	previews.onDrop = p.metrics.previewsRevoked.Inc
	p.previews = previews

	sessions, err := lru.NewWithEvict[string, *Session](cfg.SessionCapacity, func(_ string, s *Session) {
		p.metrics.activeSessions.Dec()
		s.abandon()
	})
	if err != nil {
		return nil, fmt.Errorf("build session cache: %w", err)
	}
	p.sessions = sessions

	return p, nil
}

func (p *Processor) Previews() *Previews { return p.previews }

func (p *Processor) Assets() *storage.Assets { return p.assets }

// Process runs the pipeline end to end. A Crop on the request is applied as if
// the user had confirmed it in the crop tool.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("bucket", string(req.Bucket)),
		attribute.Bool("replace", req.ReplacePath != ""),
		attribute.Bool("crop", req.Crop != nil),
	))
	defer span.End()

	t := newTrail()
	spec, err := p.validate(req)
	if err != nil {
		return Result{States: t.snapshot()}, err
	}

	src, err := p.decode(ctx, t, req.Data)
	if err != nil {
		return p.finish(span, req, Result{States: t.snapshot()}, err)
	}

	crop := domain.Full(src.Natural())
	if req.Crop != nil {
		_ = t.enter(StateCropPending)
		_ = t.enter(StateCropAdjusting)
		crop = req.Crop.Rect(src.Natural())
	}

	res, err := p.commit(ctx, t, nil, req, spec, src, crop)
	res.SourceBytes = len(req.Data)
	res.Duration = time.Since(started)
	return p.finish(span, req, res, err)
}

func (p *Processor) validate(req Request) (domain.OutputSpec, error) {
	spec, ok := req.Bucket.Spec()
	if !ok {
		return domain.OutputSpec{}, errs.Newf(errs.KindInvalidInput, "pipeline.validate", "unknown bucket %q", req.Bucket)
	}
	if len(req.Data) == 0 {
		return domain.OutputSpec{}, errs.Newf(errs.KindInvalidInput, "pipeline.validate", "image data is required")
	}
	if p.cfg.MaxSourceBytes > 0 && len(req.Data) > p.cfg.MaxSourceBytes {
		return domain.OutputSpec{}, errs.Newf(errs.KindInvalidInput, "pipeline.validate", "image is %d bytes, limit is %d", len(req.Data), p.cfg.MaxSourceBytes)
	}
	if req.Crop != nil {
		if err := req.Crop.Validate(); err != nil {
			return domain.OutputSpec{}, errs.New(errs.KindInvalidInput, "pipeline.validate", err)
		}
	}
	if strings.TrimSpace(req.ReplacePath) != "" {
		clean, err := storage.CleanPath(req.ReplacePath)
		if err != nil {
			return domain.OutputSpec{}, err
		}
		// A replacement stays in its bucket and keeps the bucket's output type.
		if !strings.HasPrefix(clean, string(req.Bucket)+"/") || !strings.HasSuffix(clean, "."+spec.MimeType.Extension()) {
			return domain.OutputSpec{}, errs.Newf(errs.KindInvalidInput, "pipeline.validate",
				"replace path %q is not a %s asset of bucket %s", clean, spec.MimeType.Extension(), req.Bucket)
		}
	}
	return spec, nil
}

func (p *Processor) decode(ctx context.Context, t *trail, data []byte) (*raster.Source, error) {
	_ = t.enter(StateDecoding)
	var src *raster.Source
	err := p.stage(ctx, "decode", func(context.Context) error {
		var err error
		src, err = raster.Decode(data)
		return err
	})
	if err != nil {
		p.fail(t, err)
		return nil, err
	}
	return src, nil
}

// abortHook lets a session cut a commit short until uploading starts.
type abortHook func(cancel context.CancelFunc)

// commit runs Rendering, Compressing and Uploading. The upload is the only
// externally visible step; nothing is written before it.
func (p *Processor) commit(ctx context.Context, t *trail, hook abortHook, req Request, spec domain.OutputSpec, src *raster.Source, crop domain.CropRect) (Result, error) {
	res := Result{Crop: crop, Source: src.Natural()}

	pre, cancel := context.WithCancel(ctx)
	defer cancel()
	if hook != nil {
		hook(cancel)
	}

	if err := t.enter(StateRendering); err != nil {
		res.States = t.snapshot()
		return res, err
	}
	var surface *raster.Surface
	err := p.stage(pre, "render", func(ctx context.Context) error {
		var err error
		surface, err = raster.Render(ctx, src, crop, spec.Size())
		return err
	})
	if err != nil {
		p.fail(t, err)
		res.States = t.snapshot()
		return res, err
	}

	_ = t.enter(StateCompressing)
	err = p.stage(pre, "compress", func(ctx context.Context) error {
		var err error
		res.Compression, err = p.compressor.Compress(ctx, surface, spec.MaxBytes, spec.MimeType)
		return err
	})
	surface = nil
	for _, a := range res.Compression.Attempts {
		p.metrics.attemptsTotal.WithLabelValues(string(a.Phase)).Inc()
	}
	if err != nil {
		p.fail(t, err)
		res.States = t.snapshot()
		return res, err
	}
	res.BudgetWarning = !res.Compression.MeetsBudget

	if hook != nil {
		hook(nil)
	}
	if err := pre.Err(); err != nil {
		_ = t.enter(StateCancelled)
		res.States = t.snapshot()
		return res, err
	}

	res.Asset, err = p.upload(ctx, t, req, res.Compression)
	res.States = t.snapshot()
	return res, err
}

// upload enters Uploading and writes the compressed bytes. It is also the
// retry entry point after a failed upload.
func (p *Processor) upload(ctx context.Context, t *trail, req Request, comp domain.CompressionResult) (domain.StoredAsset, error) {
	if err := t.enter(StateUploading); err != nil {
		return domain.StoredAsset{}, err
	}

	kind := "upload"
	if strings.TrimSpace(req.ReplacePath) != "" {
		kind = "replace"
	}

	var asset domain.StoredAsset
	err := p.stage(ctx, "upload", func(ctx context.Context) error {
		var err error
		if kind == "replace" {
			asset, err = p.assets.Replace(ctx, req.ReplacePath, comp.Bytes, comp.MimeType)
		} else {
			asset, err = p.assets.Upload(ctx, req.Bucket, req.Folder, comp.Bytes, comp.MimeType)
		}
		return err
	})
	if err != nil {
		p.metrics.uploadsTotal.WithLabelValues(kind, string(errs.KindOf(err))).Inc()
		_ = t.enter(StateFailed)
		return domain.StoredAsset{}, err
	}

	p.metrics.uploadsTotal.WithLabelValues(kind, "ok").Inc()
	p.metrics.outputBytes.WithLabelValues(string(req.Bucket)).Observe(float64(comp.Size()))
	_ = t.enter(StateDone)
	return asset, nil
}

// fail moves t to Failed, or Cancelled when err came from the context.
func (p *Processor) fail(t *trail, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		_ = t.enter(StateCancelled)
		return
	}
	_ = t.enter(StateFailed)
}

func (p *Processor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	p.metrics.stageDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Processor) finish(span trace.Span, req Request, res Result, err error) (Result, error) {
	outcome := "done"
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	case res.BudgetWarning:
		outcome = "budget_not_met"
	}
	p.metrics.outcomesTotal.WithLabelValues(string(req.Bucket), outcome).Inc()

	fields := []zap.Field{
		zap.String("bucket", string(req.Bucket)),
		zap.String("outcome", outcome),
		zap.Any("states", res.States),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fields = append(fields, zap.String("kind", string(errs.KindOf(err))), zap.Error(err))
		if outcome == "cancelled" {
			p.logger.Info("pipeline cancelled", fields...)
		} else {
			p.logger.Error("pipeline failed", fields...)
		}
		return res, err
	}

	span.SetAttributes(
		attribute.Int("output.bytes", res.Compression.Size()),
		attribute.Bool("output.meets_budget", res.Compression.MeetsBudget),
		attribute.String("output.phase", string(res.Compression.Phase)),
	)
	p.logger.Info("pipeline committed", append(fields,
		zap.String("path", res.Asset.Path),
		zap.Int("bytes", res.Compression.Size()),
		zap.Int("max_bytes", res.Compression.MaxBytes),
		zap.Bool("meets_budget", res.Compression.MeetsBudget),
		zap.Int("attempts", len(res.Compression.Attempts)),
		zap.Duration("duration", res.Duration),
	)...)
	return res, nil
}

// sniffContentType guesses the preview content type from the source bytes.
func sniffContentType(data []byte) string {
	return mimetype.Detect(data).String()
}
