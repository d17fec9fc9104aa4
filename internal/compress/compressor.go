// Package compress searches for the best encode of a raster that fits a byte budget.
//
// The search runs three phases, strictly one encode at a time:
//
//	A  quality sweep at full size:  q = 0.85, 0.80, ... while q > 0.05
//	B  downscale at fixed q = 0.7:  s = 0.8, 0.7, ... while s >= 0.3
//	C  one fallback encode at s = 0.4, q = 0.6, whatever its size
//
// The first encode at or under budget wins. All constants are tunable through Config.
package compress

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/raster"
	"go.uber.org/zap"
)

// epsilon absorbs float drift when comparing stepped values against their bounds.
const epsilon = 1e-9

// Config holds the search constants.
type Config struct {
	StartQuality    float64 `env:"COMPRESS_START_QUALITY" envDefault:"0.85"`
	QualityStep     float64 `env:"COMPRESS_QUALITY_STEP" envDefault:"0.05"`
	MinQuality      float64 `env:"COMPRESS_MIN_QUALITY" envDefault:"0.05"`
	MaxQualitySteps int     `env:"COMPRESS_MAX_QUALITY_STEPS" envDefault:"16"`

	StartScale    float64 `env:"COMPRESS_START_SCALE" envDefault:"0.8"`
	ScaleStep     float64 `env:"COMPRESS_SCALE_STEP" envDefault:"0.1"`
	MinScale      float64 `env:"COMPRESS_MIN_SCALE" envDefault:"0.3"`
	MaxScaleSteps int     `env:"COMPRESS_MAX_SCALE_STEPS" envDefault:"6"`
	ScaleQuality  float64 `env:"COMPRESS_SCALE_QUALITY" envDefault:"0.7"`

	FallbackScale   float64 `env:"COMPRESS_FALLBACK_SCALE" envDefault:"0.4"`
	FallbackQuality float64 `env:"COMPRESS_FALLBACK_QUALITY" envDefault:"0.6"`
}

// DefaultConfig returns the canonical three-phase constants.
func DefaultConfig() Config {
	return Config{
		StartQuality:    0.85,
		QualityStep:     0.05,
		MinQuality:      0.05,
		MaxQualitySteps: 16,
		StartScale:      0.8,
		ScaleStep:       0.1,
		MinScale:        0.3,
		MaxScaleSteps:   6,
		ScaleQuality:    0.7,
		FallbackScale:   0.4,
		FallbackQuality: 0.6,
	}
}

// Validate rejects constant sets that would not step towards their bound.
func (c Config) Validate() error {
	switch {
	case c.QualityStep <= 0 || c.ScaleStep <= 0:
		return errors.New("compress: steps must be positive")
	case c.StartQuality > 1 || c.StartQuality <= c.MinQuality:
		return errors.New("compress: start quality must be in (min quality, 1]")
	case c.StartScale > 1 || c.StartScale < c.MinScale || c.MinScale <= 0:
		return errors.New("compress: start scale must be in [min scale, 1] and min scale > 0")
	case c.MaxQualitySteps < 1 || c.MaxScaleSteps < 1:
		return errors.New("compress: step caps must be at least 1")
	case !unitInterval(c.ScaleQuality) || !unitInterval(c.FallbackQuality) || !unitInterval(c.FallbackScale):
		return errors.New("compress: fallback and scale qualities must be in (0, 1]")
	}
	return nil
}

func unitInterval(v float64) bool {
	return v > 0 && v <= 1
}

// Compressor runs the size-budget search. It holds no per-call state and may be
// shared by concurrent pipelines.
type Compressor struct {
	cfg     Config
	encoder Encoder
	logger  *zap.Logger
}

type Option func(*Compressor)

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compressor) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(cfg Config, encoder Encoder, opts ...Option) (*Compressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if encoder == nil {
		return nil, errors.New("compress: encoder is required")
	}

	c := &Compressor{cfg: cfg, encoder: encoder, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the constants in use.
func (c *Compressor) Config() Config { return c.cfg }

// Compress always yields a result unless ctx ends or every encode fails.
// MeetsBudget=false marks a best-effort result that is still larger than maxBytes.
func (c *Compressor) Compress(ctx context.Context, surface *raster.Surface, maxBytes int, mime domain.MimeType) (domain.CompressionResult, error) {
	if surface == nil {
		return domain.CompressionResult{}, errs.Newf(errs.KindEncode, "compress", "surface is required")
	}

	s := &search{
		c:        c,
		surface:  surface,
		maxBytes: maxBytes,
		result:   domain.CompressionResult{MimeType: mime, MaxBytes: maxBytes},
	}

	for i := 0; i < c.cfg.MaxQualitySteps; i++ {
		q := stepped(c.cfg.StartQuality, c.cfg.QualityStep, i)
		if q <= c.cfg.MinQuality+epsilon {
			break
		}
		done, err := s.try(ctx, domain.PhaseQuality, 1, q)
		if err != nil || done {
			return s.result, err
		}
	}

	for i := 0; i < c.cfg.MaxScaleSteps; i++ {
		scale := stepped(c.cfg.StartScale, c.cfg.ScaleStep, i)
		if scale < c.cfg.MinScale-epsilon {
			break
		}
		done, err := s.try(ctx, domain.PhaseDownscale, scale, c.cfg.ScaleQuality)
		if err != nil || done {
			return s.result, err
		}
	}

	done, err := s.try(ctx, domain.PhaseFallback, c.cfg.FallbackScale, c.cfg.FallbackQuality)
	if err != nil || done {
		return s.result, err
	}
	if s.last == nil {
		return s.result, errs.New(errs.KindEncode, "compress", fmt.Errorf("no attempt produced output: %w", s.lastErr))
	}

	s.accept(*s.lastAttempt, s.last)
	c.logger.Warn("byte budget not met",
		zap.Int("bytes", len(s.last)),
		zap.Int("max_bytes", maxBytes),
		zap.String("mime", string(mime)),
		zap.Int("attempts", len(s.result.Attempts)),
	)
	return s.result, nil
}

type search struct {
	c           *Compressor
	surface     *raster.Surface
	maxBytes    int
	result      domain.CompressionResult
	last        []byte
	lastAttempt *domain.Attempt
	lastErr     error
}

// try performs one encode. It reports done when the encode fits the budget.
// Encoder failures are skipped so that a later phase can still produce output;
// only context errors end the search early.
func (s *search) try(ctx context.Context, phase domain.Phase, scale, quality float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	target := s.surface
	if scale != 1 {
		scaled, err := s.surface.Scale(ctx, scale)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.lastErr = err
			return false, nil
		}
		target = scaled
	}

	data, err := s.c.encoder.Encode(ctx, target.Image(), s.result.MimeType, quality)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.lastErr = err
		s.c.logger.Debug("encode attempt failed", zap.String("phase", string(phase)), zap.Error(err))
		return false, nil
	}

	size := target.Size()
	attempt := domain.Attempt{
		Phase:   phase,
		Quality: quality,
		Scale:   scale,
		Width:   size.Width,
		Height:  size.Height,
		Bytes:   len(data),
	}
	s.result.Attempts = append(s.result.Attempts, attempt)
	s.last, s.lastAttempt = data, &attempt

	s.c.logger.Debug("encode attempt",
		zap.String("phase", string(phase)),
		zap.Float64("quality", quality),
		zap.Float64("scale", scale),
		zap.Int("bytes", len(data)),
		zap.Int("max_bytes", s.maxBytes),
	)

	if len(data) <= s.maxBytes {
		s.accept(attempt, data)
		return true, nil
	}
	return false, nil
}

func (s *search) accept(a domain.Attempt, data []byte) {
	s.result.Bytes = data
	s.result.FinalWidth = a.Width
	s.result.FinalHeight = a.Height
	s.result.FinalQuality = a.Quality
	s.result.Phase = a.Phase
	s.result.MeetsBudget = len(data) <= s.maxBytes
}

// stepped returns start - i*step rounded to micro units, so repeated stepping
// never drifts past a bound it should land on.
func stepped(start, step float64, i int) float64 {
	return math.Round((start-float64(i)*step)*1e6) / 1e6
}
