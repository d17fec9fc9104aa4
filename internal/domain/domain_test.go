package domain

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryBucketHasSpec(t *testing.T) {
	for _, b := range Buckets() {
		spec, ok := b.Spec()
		require.True(t, ok, "bucket %s has no spec", b)
		assert.True(t, spec.Size().Valid(), "bucket %s", b)
		assert.Positive(t, spec.MaxBytes, "bucket %s", b)
		assert.Contains(t, []MimeType{MimeJPEG, MimeWebP}, spec.MimeType, "bucket %s", b)
	}
}

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket(" Game-Covers ")
	require.NoError(t, err)
	assert.Equal(t, BucketGameCovers, b)

	spec, _ := b.Spec()
	assert.Equal(t, 800, spec.TargetWidth)
	assert.Equal(t, 450, spec.TargetHeight)
	assert.InDelta(t, 16.0/9.0, spec.Aspect(), 1e-9)

	_, err = ParseBucket("avatars")
	assert.Error(t, err)
}

func TestCropRectWithin(t *testing.T) {
	natural := Size{Width: 100, Height: 50}
	assert.True(t, Full(natural).Within(natural))
	assert.False(t, CropRect{X: 10, Y: 0, Width: 91, Height: 10}.Within(natural))
	assert.False(t, CropRect{X: 0, Y: 0, Width: 0, Height: 10}.Within(natural))
	assert.False(t, CropRect{X: 5, Y: 5, Width: math.MaxInt, Height: 10}.Within(natural))
	assert.False(t, CropRect{X: 5, Y: 5, Width: 10, Height: math.MaxInt}.Within(natural))
	assert.Equal(t, image.Rect(12, 7, 22, 17), CropRect{X: 2, Y: 2, Width: 10, Height: 10}.Rectangle(image.Pt(10, 5)))
}

func TestCacheBustedURL(t *testing.T) {
	asset := StoredAsset{URL: "https://cdn.example.com/game-covers/a.webp", Version: 42}
	assert.Equal(t, "https://cdn.example.com/game-covers/a.webp?v=42", asset.CacheBustedURL())

	asset.Version = 0
	assert.Equal(t, asset.URL, asset.CacheBustedURL())
}

func TestCreateImportRequestValidate(t *testing.T) {
	valid := CreateImportRequest{Bucket: "tournament-templates", Folder: "spring-open"}
	require.NoError(t, valid.Validate())

	assert.Error(t, CreateImportRequest{}.Validate())
	assert.Error(t, CreateImportRequest{Bucket: "unknown"}.Validate())
	assert.Error(t, CreateImportRequest{Bucket: "tcg-cards", Folder: "../etc"}.Validate())
	assert.Error(t, CreateImportRequest{Bucket: "tcg-cards", WebhookURL: "not a url"}.Validate())
}
