// Package raster decodes caller bytes and renders crops onto fixed-size surfaces.
package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MaxSourcePixels bounds decoded images, roughly the largest canvas browsers allocate.
const MaxSourcePixels = 16384 * 16384

// Source is a decoded image. It is never mutated after Decode.
type Source struct {
	img     image.Image
	format  string
	natural domain.Size
}

// Decode parses any registered raster format. EXIF orientation is applied the way
// browsers apply it when drawing an <img>; nothing beyond that is corrected.
func Decode(data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, errs.New(errs.KindDecode, "raster.decode", fmt.Errorf("empty input"))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errs.New(errs.KindDecode, "raster.decode", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errs.Newf(errs.KindDecode, "raster.decode", "invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, errs.Newf(errs.KindDecode, "raster.decode", "image too large: %dx%d", cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errs.New(errs.KindDecode, "raster.decode", err)
	}

	b := img.Bounds()
	return &Source{
		img:     img,
		format:  format,
		natural: domain.Size{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

// Natural is the decoded size after orientation.
func (s *Source) Natural() domain.Size { return s.natural }

// Format is the name the decoder registered under (jpeg, png, webp, ...).
func (s *Source) Format() string { return s.format }
