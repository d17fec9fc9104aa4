package geometry

import (
	"fmt"
	"math"

	"github.com/dunamismax/cropflow/internal/domain"
)

// CropSession is the state of the interactive crop tool at the moment the user
// confirms. Either Area is reported directly in source pixels, or the tool
// reports zoom and pan and the rectangle is derived here.
type CropSession struct {
	// Aspect is width/height; 0 means free crop.
	Aspect float64 `json:"aspect,omitempty"`
	// Area is the selected rectangle in source pixels.
	Area *domain.CropRect `json:"area,omitempty"`
	// Zoom >= 1 shrinks the visible frame around the pan centre.
	Zoom float64 `json:"zoom,omitempty"`
	// PanX and PanY move the centre as a fraction of the image size, in [-0.5, 0.5].
	PanX float64 `json:"pan_x,omitempty"`
	PanY float64 `json:"pan_y,omitempty"`
}

// Validate rejects values the tool can never produce.
func (s CropSession) Validate() error {
	if s.Aspect < 0 || math.IsNaN(s.Aspect) || math.IsInf(s.Aspect, 0) {
		return fmt.Errorf("aspect must be a finite value >= 0")
	}
	if s.Zoom != 0 && (s.Zoom < 1 || math.IsNaN(s.Zoom) || math.IsInf(s.Zoom, 0)) {
		return fmt.Errorf("zoom must be >= 1")
	}
	if math.IsNaN(s.PanX) || math.IsNaN(s.PanY) {
		return fmt.Errorf("pan must be a number")
	}
	return nil
}

// Rect resolves the session against an image of the given natural size.
func (s CropSession) Rect(natural domain.Size) domain.CropRect {
	var aspect *float64
	if s.Aspect > 0 {
		a := s.Aspect
		aspect = &a
	}

	if s.Area != nil {
		return Resolve(natural, aspect, s.Area)
	}
	if s.Zoom < 1 || !natural.Valid() {
		return Resolve(natural, aspect, nil)
	}

	frame := FitAspect(natural, s.Aspect)
	w := max(1, int(math.Round(float64(frame.Width)/s.Zoom)))
	h := max(1, int(math.Round(float64(frame.Height)/s.Zoom)))

	cx := (0.5 + clampFloat(s.PanX, -0.5, 0.5)) * float64(natural.Width)
	cy := (0.5 + clampFloat(s.PanY, -0.5, 0.5)) * float64(natural.Height)

	// Shift rather than shrink so zoomed crops keep their size at the edges.
	x := clamp(int(math.Round(cx-float64(w)/2)), 0, natural.Width-w)
	y := clamp(int(math.Round(cy-float64(h)/2)), 0, natural.Height-h)

	rect := domain.CropRect{X: x, Y: y, Width: w, Height: h}
	return Resolve(natural, aspect, &rect)
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
