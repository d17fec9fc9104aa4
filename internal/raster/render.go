package raster

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	xdraw "golang.org/x/image/draw"
)

// MaxSurfacePixels is the largest destination surface Render will allocate.
const MaxSurfacePixels = 8192 * 8192

// Surface is an owned raster produced by Render or Scale.
type Surface struct {
	img *image.NRGBA
}

// NewSurface copies img into a new surface.
func NewSurface(img image.Image) *Surface {
	return &Surface{img: imaging.Clone(img)}
}

// Image exposes the pixels for encoding. Callers must not modify them.
func (s *Surface) Image() image.Image { return s.img }

// Size is the pixel geometry of the surface.
func (s *Surface) Size() domain.Size {
	b := s.img.Bounds()
	return domain.Size{Width: b.Dx(), Height: b.Dy()}
}

// Render draws crop from src into a new out-sized surface. The crop is stretched to
// fill the destination exactly; differing aspect ratios are not letterboxed.
func Render(ctx context.Context, src *Source, crop domain.CropRect, out domain.Size) (*Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src == nil || src.img == nil {
		return nil, errs.Newf(errs.KindRender, "raster.render", "source image is not decoded")
	}
	if !out.Valid() {
		return nil, errs.Newf(errs.KindRender, "raster.render", "invalid output size %dx%d", out.Width, out.Height)
	}
	if int64(out.Width)*int64(out.Height) > MaxSurfacePixels {
		return nil, errs.Newf(errs.KindRender, "raster.render", "cannot allocate %dx%d surface", out.Width, out.Height)
	}
	if !crop.Within(src.natural) {
		return nil, errs.Newf(errs.KindRender, "raster.render", "crop %+v outside %dx%d", crop, src.natural.Width, src.natural.Height)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, out.Width, out.Height))
	sr := crop.Rectangle(src.img.Bounds().Min)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src.img, sr, xdraw.Src, nil)
	return &Surface{img: dst}, nil
}

// ScaledSize multiplies both sides by scale, never going below one pixel.
func ScaledSize(s domain.Size, scale float64) domain.Size {
	return domain.Size{
		Width:  max(1, int(math.Round(float64(s.Width)*scale))),
		Height: max(1, int(math.Round(float64(s.Height)*scale))),
	}
}

// Scale returns a uniformly resized copy; the receiver is left untouched.
func (s *Surface) Scale(ctx context.Context, scale float64) (*Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale <= 0 || math.IsNaN(scale) {
		return nil, errs.Newf(errs.KindRender, "raster.scale", "invalid scale %v", scale)
	}
	size := ScaledSize(s.Size(), scale)
	if size == s.Size() {
		return s, nil
	}
	return &Surface{img: imaging.Resize(s.img, size.Width, size.Height, imaging.CatmullRom)}, nil
}
