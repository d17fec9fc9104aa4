//go:build govips && cgo

package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
)

type govipsEncoder struct{}

func (govipsEncoder) Encode(ctx context.Context, img image.Image, mime domain.MimeType, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Hand the pixels to libvips losslessly; it re-encodes to the target type.
	var raw bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&raw, img); err != nil {
		return nil, errs.New(errs.KindEncode, "govips.stage", err)
	}

	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, errs.New(errs.KindEncode, "govips.load", err)
	}
	defer ref.Close()

	q := qualityPercent(quality)
	switch mime {
	case domain.MimeJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = q
		params.StripMetadata = true
		data, _, err := ref.ExportJpeg(params)
		if err != nil {
			return nil, errs.New(errs.KindEncode, "govips.jpeg", err)
		}
		return data, nil
	case domain.MimeWebP:
		params := vips.NewWebpExportParams()
		params.Quality = q
		params.StripMetadata = true
		data, _, err := ref.ExportWebp(params)
		if err != nil {
			return nil, errs.New(errs.KindEncode, "govips.webp", err)
		}
		return data, nil
	default:
		return nil, errs.New(errs.KindEncode, "govips", fmt.Errorf("unsupported output type: %s", mime))
	}
}
