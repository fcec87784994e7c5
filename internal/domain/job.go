package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	OpScaleTo  = "scale_to"
	OpScaleBy  = "scale_by"
	OpRegion   = "region"
	OpFitWidth = "fit_width"
)

type CreateJobRequest struct {
	SourceType string         `json:"source_type"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	ObjectKey  string         `json:"object_key,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Pipeline   []PipelineStep `json:"pipeline"`
}

// PipelineStep renders one output. Transforms are applied in order to the
// shared source decoder.
type PipelineStep struct {
	ID           string      `json:"id"`
	Transforms   []Transform `json:"transforms"`
	Format       string      `json:"format,omitempty"`
	Quality      int         `json:"quality,omitempty"`
	NoFinalScale bool        `json:"no_final_scale,omitempty"`
	NoFilter     bool        `json:"no_filter,omitempty"`
	Mutable      bool        `json:"mutable,omitempty"`
}

type Transform struct {
	Op     string  `json:"op"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Left   int     `json:"left,omitempty"`
	Top    int     `json:"top,omitempty"`
	Right  int     `json:"right,omitempty"`
	Bottom int     `json:"bottom,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Pipeline   []PipelineStep
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	return ValidatePipeline(r.Pipeline)
}

func ValidatePipeline(steps []PipelineStep) error {
	if len(steps) == 0 {
		return errors.New("pipeline must contain at least one step")
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("pipeline[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("pipeline[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}
		if step.Quality < 0 || step.Quality > 100 {
			return fmt.Errorf("pipeline[%d].quality must be between 0 and 100", i)
		}
		for j, tr := range step.Transforms {
			if err := tr.Validate(); err != nil {
				return fmt.Errorf("pipeline[%d].transforms[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

// Validate checks what can be checked without knowing the source size.
func (t Transform) Validate() error {
	switch strings.ToLower(strings.TrimSpace(t.Op)) {
	case OpScaleTo:
		if t.Width <= 0 || t.Height <= 0 {
			return errors.New("scale_to requires width > 0 and height > 0")
		}
	case OpScaleBy:
		if t.X <= 0 || t.Y <= 0 {
			return errors.New("scale_by requires x > 0 and y > 0")
		}
	case OpRegion:
		if t.Right <= t.Left || t.Bottom <= t.Top || t.Left < 0 || t.Top < 0 {
			return errors.New("region requires 0 <= left < right and 0 <= top < bottom")
		}
	case OpFitWidth:
		if t.Width <= 0 {
			return errors.New("fit_width requires width > 0")
		}
	case "":
		return errors.New("op is required")
	default:
		return fmt.Errorf("unsupported op: %s", t.Op)
	}
	return nil
}
