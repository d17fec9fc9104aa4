package domain

import (
	"fmt"
	"strings"
)

// MimeType is the encoded output format of a bucket.
type MimeType string

const (
	MimeJPEG MimeType = "image/jpeg"
	MimeWebP MimeType = "image/webp"
)

// Extension is the file extension used for generated asset paths.
func (m MimeType) Extension() string {
	switch m {
	case MimeJPEG:
		return "jpg"
	case MimeWebP:
		return "webp"
	default:
		return "bin"
	}
}

// Bucket names a destination category with a fixed output geometry and byte budget.
type Bucket string

const (
	BucketGameCovers          Bucket = "game-covers"
	BucketQuizImages          Bucket = "quiz-images"
	BucketLessonImages        Bucket = "lesson-images"
	BucketGalleryImages       Bucket = "gallery-images"
	BucketTournamentTemplates Bucket = "tournament-templates"
	BucketTCGCards            Bucket = "tcg-cards"
)

const kib = 1024

// OutputSpec is the fixed output contract of a bucket.
type OutputSpec struct {
	TargetWidth  int      `json:"target_width"`
	TargetHeight int      `json:"target_height"`
	MaxBytes     int      `json:"max_bytes"`
	MimeType     MimeType `json:"mime_type"`
}

// Size returns the target pixel geometry.
func (s OutputSpec) Size() Size {
	return Size{Width: s.TargetWidth, Height: s.TargetHeight}
}

// Aspect is the ratio the interactive crop tool should hold for this bucket.
func (s OutputSpec) Aspect() float64 {
	if s.TargetHeight == 0 {
		return 0
	}
	return float64(s.TargetWidth) / float64(s.TargetHeight)
}

// Buckets lists every known bucket in a stable order.
func Buckets() []Bucket {
	return []Bucket{
		BucketGameCovers,
		BucketQuizImages,
		BucketLessonImages,
		BucketGalleryImages,
		BucketTournamentTemplates,
		BucketTCGCards,
	}
}

// Spec returns the output contract for b. The switch must cover every constant
// returned by Buckets; TestEveryBucketHasSpec enforces that.
func (b Bucket) Spec() (OutputSpec, bool) {
	switch b {
	case BucketGameCovers:
		return OutputSpec{TargetWidth: 800, TargetHeight: 450, MaxBytes: 200 * kib, MimeType: MimeWebP}, true
	case BucketQuizImages:
		return OutputSpec{TargetWidth: 800, TargetHeight: 450, MaxBytes: 150 * kib, MimeType: MimeJPEG}, true
	case BucketLessonImages:
		return OutputSpec{TargetWidth: 1200, TargetHeight: 675, MaxBytes: 300 * kib, MimeType: MimeWebP}, true
	case BucketGalleryImages:
		return OutputSpec{TargetWidth: 1280, TargetHeight: 720, MaxBytes: 400 * kib, MimeType: MimeJPEG}, true
	case BucketTournamentTemplates:
		return OutputSpec{TargetWidth: 1024, TargetHeight: 576, MaxBytes: 250 * kib, MimeType: MimeWebP}, true
	case BucketTCGCards:
		return OutputSpec{TargetWidth: 488, TargetHeight: 680, MaxBytes: 120 * kib, MimeType: MimeWebP}, true
	}
	return OutputSpec{}, false
}

// ParseBucket maps a raw identifier to a known bucket.
func ParseBucket(raw string) (Bucket, error) {
	b := Bucket(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := b.Spec(); !ok {
		return "", fmt.Errorf("unknown bucket: %q", raw)
	}
	return b, nil
}
