package domain

import (
	"image"
	"net/url"
	"strconv"
	"time"
)

// Size is a pixel geometry.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// CropRect is a rectangle in source-image pixel space.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Full is the rectangle covering the whole of natural.
func Full(natural Size) CropRect {
	return CropRect{Width: natural.Width, Height: natural.Height}
}

// Rectangle converts r to an image.Rectangle relative to origin.
func (r CropRect) Rectangle(origin image.Point) image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).Add(origin)
}

// Within reports whether r is non-empty and lies inside natural.
func (r CropRect) Within(natural Size) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.Width <= natural.Width-r.X && r.Height <= natural.Height-r.Y
}

// Phase identifies which stage of the size-budget search produced an encode.
type Phase string

const (
	PhaseQuality   Phase = "quality"
	PhaseDownscale Phase = "downscale"
	PhaseFallback  Phase = "fallback"
)

// Attempt is one encode performed during the search.
type Attempt struct {
	Phase   Phase   `json:"phase"`
	Quality float64 `json:"quality"`
	Scale   float64 `json:"scale"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Bytes   int     `json:"bytes"`
}

// CompressionResult is the outcome of the size-budget search. MeetsBudget=false
// is a valid best-effort result, not a failure.
type CompressionResult struct {
	Bytes        []byte    `json:"-"`
	MimeType     MimeType  `json:"mime_type"`
	FinalWidth   int       `json:"final_width"`
	FinalHeight  int       `json:"final_height"`
	FinalQuality float64   `json:"final_quality"`
	Phase        Phase     `json:"phase"`
	MeetsBudget  bool      `json:"meets_budget"`
	MaxBytes     int       `json:"max_bytes"`
	Attempts     []Attempt `json:"attempts"`
}

// Size returns the encoded byte count.
func (r CompressionResult) Size() int {
	return len(r.Bytes)
}

// StoredAsset references bytes held by the content store.
type StoredAsset struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheBustedURL appends the asset version so caches refetch replaced bytes.
func (a StoredAsset) CacheBustedURL() string {
	if a.Version == 0 {
		return a.URL
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return a.URL
	}
	q := u.Query()
	q.Set("v", strconv.FormatInt(a.Version, 10))
	u.RawQuery = q.Encode()
	return u.String()
}
