// Package geometry turns crop-tool state into a pixel rectangle of the source image.
package geometry

import (
	"math"

	"github.com/dunamismax/cropflow/internal/domain"
)

// Resolve clamps a user crop to the natural bounds of the image. A nil crop selects
// the whole image. Out-of-range input is corrected, never rejected: the origin is
// pulled inside the image and the far edges are shrunk to fit.
//
// The aspect argument mirrors the crop tool's inputs, but holding the ratio while
// the user drags is the tool's job; a non-nil aspect does not alter the clamping.
func Resolve(natural domain.Size, _ *float64, user *domain.CropRect) domain.CropRect {
	if !natural.Valid() {
		return domain.CropRect{}
	}
	if user == nil {
		return domain.Full(natural)
	}

	r := *user
	r.X = clamp(r.X, 0, natural.Width-1)
	r.Y = clamp(r.Y, 0, natural.Height-1)

	// Compare against the remaining room; x+width can overflow.
	if r.Width <= 0 || r.Width > natural.Width-r.X {
		r.Width = natural.Width - r.X
	}
	if r.Height <= 0 || r.Height > natural.Height-r.Y {
		r.Height = natural.Height - r.Y
	}
	return r
}

// FitAspect returns the largest width x height with the given ratio that fits in
// natural. A non-positive aspect returns natural.
func FitAspect(natural domain.Size, aspect float64) domain.Size {
	if aspect <= 0 || !natural.Valid() {
		return natural
	}
	w := float64(natural.Width)
	h := w / aspect
	if h > float64(natural.Height) {
		h = float64(natural.Height)
		w = h * aspect
	}
	return domain.Size{
		Width:  max(1, int(math.Round(w))),
		Height: max(1, int(math.Round(h))),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
