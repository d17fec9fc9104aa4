package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
)

type stdEncoder struct{}

func (stdEncoder) Encode(ctx context.Context, img image.Image, mime domain.MimeType, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch mime {
	case domain.MimeJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: qualityPercent(quality)}); err != nil {
			return nil, errs.New(errs.KindEncode, "encode jpeg", err)
		}
	case domain.MimeWebP:
		if err := encodeWebP(&buf, img, qualityPercent(quality)); err != nil {
			return nil, errs.New(errs.KindEncode, "encode webp", err)
		}
	default:
		return nil, errs.New(errs.KindEncode, "encode", fmt.Errorf("unsupported output type: %s", mime))
	}
	return buf.Bytes(), nil
}
