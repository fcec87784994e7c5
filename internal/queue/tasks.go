package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/rapiddecoder/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeRenderImage = "image:render"

type RenderImagePayload struct {
	JobID       string                `json:"job_id"`
	SourceType  string                `json:"source_type"`
	WebhookURL  string                `json:"webhook_url,omitempty"`
	ObjectKey   string                `json:"object_key"`
	Pipeline    []domain.PipelineStep `json:"pipeline"`
	RequestedAt time.Time             `json:"requested_at"`
}

func NewRenderImageTask(payload RenderImagePayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("render payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderImage, body), nil
}

func ParseRenderImagePayload(task *asynq.Task) (RenderImagePayload, error) {
	var payload RenderImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderImagePayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	if payload.JobID == "" {
		return RenderImagePayload{}, fmt.Errorf("render payload missing job_id")
	}
	return payload, nil
}
