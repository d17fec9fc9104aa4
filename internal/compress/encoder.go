package compress

import (
	"context"
	"image"
	"math"

	"github.com/dunamismax/cropflow/internal/domain"
)

// Encoder turns a raster into bytes of the requested type. Implementations must be
// deterministic: the same pixels, type and quality always yield the same bytes.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, mime domain.MimeType, quality float64) ([]byte, error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(ctx context.Context, img image.Image, mime domain.MimeType, quality float64) ([]byte, error)

func (f EncoderFunc) Encode(ctx context.Context, img image.Image, mime domain.MimeType, quality float64) ([]byte, error) {
	return f(ctx, img, mime, quality)
}

// NewEncoder returns the encoder for this build: libvips when built with the
// govips tag, otherwise the Go encoders.
func NewEncoder() (Encoder, error) {
	return newEncoder()
}

// qualityPercent maps a 0..1 quality onto the 1..100 scale codecs expect.
func qualityPercent(q float64) int {
	p := int(math.Round(q * 100))
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}
