package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/rapiddecoder/internal/domain"
)

func BenchmarkProcessorScaleTo(b *testing.B) {
	processor, err := NewProcessor(bytesOpener{data: buildTestPNG(b, 1920, 1080)}, discardEmitter{}, DefaultOptions())
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		JobID: "bench",
		Pipeline: []domain.PipelineStep{
			{
				ID:         "scale_640_jpeg",
				Transforms: []domain.Transform{{Op: domain.OpFitWidth, Width: 640}},
				Format:     "jpeg",
				Quality:    82,
			},
		},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-scale-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorFanOut(b *testing.B) {
	opts := DefaultOptions()
	opts.StepParallelism = 4
	processor, err := NewProcessor(bytesOpener{data: buildTestPNG(b, 1920, 1080)}, discardEmitter{}, opts)
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		JobID: "bench",
		Pipeline: []domain.PipelineStep{
			{ID: "w160", Transforms: []domain.Transform{{Op: domain.OpFitWidth, Width: 160}}},
			{ID: "w320", Transforms: []domain.Transform{{Op: domain.OpFitWidth, Width: 320}}},
			{ID: "w640", Transforms: []domain.Transform{{Op: domain.OpFitWidth, Width: 640}}},
			{ID: "center", Transforms: []domain.Transform{
				{Op: domain.OpRegion, Left: 640, Top: 270, Right: 1280, Bottom: 810},
				{Op: domain.OpScaleBy, X: 0.5, Y: 0.5},
			}},
		},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-fanout-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, step domain.PipelineStep, data []byte, format string, width, height int) (Output, error) {
	return Output{
		StepID:  step.ID,
		Format:  normalizeOutputFormat(format),
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}
