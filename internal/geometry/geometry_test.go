package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithoutCropReturnsFullFrame(t *testing.T) {
	natural := domain.Size{Width: 2000, Height: 1500}
	got := Resolve(natural, nil, nil)
	assert.Equal(t, domain.CropRect{X: 0, Y: 0, Width: 2000, Height: 1500}, got)

	aspect := 16.0 / 9.0
	assert.Equal(t, got, Resolve(natural, &aspect, nil))
}

func TestResolveShrinksFromFarEdge(t *testing.T) {
	natural := domain.Size{Width: 800, Height: 600}
	aspect := 16.0 / 9.0

	got := Resolve(natural, &aspect, &domain.CropRect{X: 500, Y: 400, Width: 400, Height: 225})
	assert.Equal(t, domain.CropRect{X: 500, Y: 400, Width: 300, Height: 200}, got)
}

func TestResolveClampsNegativeOrigin(t *testing.T) {
	natural := domain.Size{Width: 100, Height: 100}
	got := Resolve(natural, nil, &domain.CropRect{X: -20, Y: -5, Width: 50, Height: 50})
	assert.Equal(t, domain.CropRect{X: 0, Y: 0, Width: 50, Height: 50}, got)
}

func TestResolveKeepsInBoundsCropUnchanged(t *testing.T) {
	natural := domain.Size{Width: 640, Height: 480}
	in := domain.CropRect{X: 10, Y: 20, Width: 320, Height: 180}
	assert.Equal(t, in, Resolve(natural, nil, &in))
}

func TestResolveAlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		natural := domain.Size{Width: 1 + rng.Intn(4000), Height: 1 + rng.Intn(4000)}
		user := domain.CropRect{
			X:      rng.Intn(10000) - 5000,
			Y:      rng.Intn(10000) - 5000,
			Width:  1 + rng.Intn(8000),
			Height: 1 + rng.Intn(8000),
		}
		got := Resolve(natural, nil, &user)
		require.True(t, got.Within(natural), "natural=%+v user=%+v got=%+v", natural, user, got)
	}

	natural := domain.Size{Width: 100, Height: 80}
	extremes := []domain.CropRect{
		{X: 5, Y: 5, Width: math.MaxInt, Height: math.MaxInt},
		{X: 5, Y: 5, Width: math.MinInt, Height: math.MinInt},
		{X: math.MaxInt, Y: math.MaxInt, Width: math.MaxInt, Height: math.MaxInt},
		{X: math.MinInt, Y: math.MinInt, Width: math.MaxInt, Height: math.MinInt},
		{X: 99, Y: 79, Width: math.MaxInt - 50, Height: 1},
	}
	for _, user := range extremes {
		got := Resolve(natural, nil, &user)
		require.True(t, got.Within(natural), "user=%+v got=%+v", user, got)
	}
	assert.Equal(t, domain.CropRect{X: 5, Y: 5, Width: 95, Height: 75}, Resolve(natural, nil, &extremes[0]))
}

func TestCropSessionAreaIsClampedForHugeValues(t *testing.T) {
	natural := domain.Size{Width: 100, Height: 80}
	s := CropSession{Area: &domain.CropRect{X: 5, Y: 5, Width: math.MaxInt, Height: math.MaxInt}}
	require.NoError(t, s.Validate())
	assert.Equal(t, domain.CropRect{X: 5, Y: 5, Width: 95, Height: 75}, s.Rect(natural))
}

func TestFitAspect(t *testing.T) {
	assert.Equal(t, domain.Size{Width: 2000, Height: 1125}, FitAspect(domain.Size{Width: 2000, Height: 1500}, 16.0/9.0))
	assert.Equal(t, domain.Size{Width: 600, Height: 600}, FitAspect(domain.Size{Width: 800, Height: 600}, 1))
	assert.Equal(t, domain.Size{Width: 800, Height: 600}, FitAspect(domain.Size{Width: 800, Height: 600}, 0))
}

func TestCropSessionRect(t *testing.T) {
	natural := domain.Size{Width: 1600, Height: 1200}

	t.Run("no input selects full frame", func(t *testing.T) {
		assert.Equal(t, domain.Full(natural), CropSession{}.Rect(natural))
	})

	t.Run("area is clamped", func(t *testing.T) {
		s := CropSession{Area: &domain.CropRect{X: 1500, Y: 0, Width: 400, Height: 300}}
		assert.Equal(t, domain.CropRect{X: 1500, Y: 0, Width: 100, Height: 300}, s.Rect(natural))
	})

	t.Run("zoom centres an aspect frame", func(t *testing.T) {
		s := CropSession{Aspect: 16.0 / 9.0, Zoom: 2}
		got := s.Rect(natural)
		assert.Equal(t, domain.CropRect{X: 400, Y: 375, Width: 800, Height: 450}, got)
	})

	t.Run("pan shifts but never shrinks", func(t *testing.T) {
		s := CropSession{Aspect: 1, Zoom: 2, PanX: 0.5, PanY: -0.5}
		got := s.Rect(natural)
		assert.Equal(t, domain.CropRect{X: 1000, Y: 0, Width: 600, Height: 600}, got)
		assert.True(t, got.Within(natural))
	})
}

func TestCropSessionValidate(t *testing.T) {
	assert.NoError(t, CropSession{Aspect: 1.5, Zoom: 1.2}.Validate())
	assert.Error(t, CropSession{Aspect: -1}.Validate())
	assert.Error(t, CropSession{Zoom: 0.5}.Validate())
}
