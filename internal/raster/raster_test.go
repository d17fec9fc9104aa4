package raster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePNG(t *testing.T) {
	src, err := Decode(buildTestPNG(t, 240, 120))
	require.NoError(t, err)
	assert.Equal(t, domain.Size{Width: 240, Height: 120}, src.Natural())
	assert.Equal(t, "png", src.Format())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	require.ErrorIs(t, err, errs.ErrDecode)

	_, err = Decode(nil)
	require.ErrorIs(t, err, errs.ErrDecode)
}

func TestRenderStretchesToTarget(t *testing.T) {
	src, err := Decode(buildTestPNG(t, 400, 400))
	require.NoError(t, err)

	// Left half is red, right half is blue; cropping the left half must stay red
	// after a non-uniform stretch to 16:9.
	surface, err := Render(context.Background(), src, domain.CropRect{X: 0, Y: 0, Width: 200, Height: 400}, domain.Size{Width: 160, Height: 90})
	require.NoError(t, err)
	assert.Equal(t, domain.Size{Width: 160, Height: 90}, surface.Size())

	r, g, b, _ := surface.Image().At(80, 45).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(40))
	assert.Less(t, b>>8, uint32(40))
}

func TestRenderDoesNotMutateSource(t *testing.T) {
	src, err := Decode(buildTestPNG(t, 64, 64))
	require.NoError(t, err)
	before := src.img.At(10, 10)

	_, err = Render(context.Background(), src, domain.Full(src.Natural()), domain.Size{Width: 8, Height: 8})
	require.NoError(t, err)
	assert.Equal(t, before, src.img.At(10, 10))
}

func TestRenderErrors(t *testing.T) {
	ctx := context.Background()
	src, err := Decode(buildTestPNG(t, 64, 64))
	require.NoError(t, err)

	_, err = Render(ctx, nil, domain.CropRect{Width: 1, Height: 1}, domain.Size{Width: 1, Height: 1})
	assert.ErrorIs(t, err, errs.ErrRender)

	_, err = Render(ctx, src, domain.CropRect{X: 60, Width: 10, Height: 10}, domain.Size{Width: 8, Height: 8})
	assert.ErrorIs(t, err, errs.ErrRender)

	_, err = Render(ctx, src, domain.CropRect{X: 5, Y: 5, Width: math.MaxInt, Height: math.MaxInt}, domain.Size{Width: 8, Height: 8})
	assert.ErrorIs(t, err, errs.ErrRender)

	_, err = Render(ctx, src, domain.Full(src.Natural()), domain.Size{Width: 100000, Height: 100000})
	assert.ErrorIs(t, err, errs.ErrRender)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Render(canceled, src, domain.Full(src.Natural()), domain.Size{Width: 8, Height: 8})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSurfaceScale(t *testing.T) {
	surface := NewSurface(image.NewNRGBA(image.Rect(0, 0, 2000, 1500)))

	scaled, err := surface.Scale(context.Background(), 0.3)
	require.NoError(t, err)
	assert.Equal(t, domain.Size{Width: 600, Height: 450}, scaled.Size())
	assert.Equal(t, domain.Size{Width: 2000, Height: 1500}, surface.Size())

	_, err = surface.Scale(context.Background(), 0)
	assert.ErrorIs(t, err, errs.ErrRender)
}

func TestScaledSizeFloorsAtOnePixel(t *testing.T) {
	assert.Equal(t, domain.Size{Width: 1, Height: 1}, ScaledSize(domain.Size{Width: 2, Height: 1}, 0.1))
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 230, A: 255}
			if x >= w/2 {
				c = color.RGBA{B: 230, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
