package domain

import "time"

// UsageLog is written once per successful job.
type UsageLog struct {
	UserID          string
	JobID           string
	Outputs         int
	PixelsProcessed int64
	PixelsDecoded   int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
