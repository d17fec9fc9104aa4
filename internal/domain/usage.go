package domain

import "time"

// UsageLog records the cost and savings of one import.
type UsageLog struct {
	UserID          string
	JobID           string
	Bucket          Bucket
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
