package domain

import "testing"

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Pipeline: []PipelineStep{
			{
				ID:         "thumb_small",
				Transforms: []Transform{{Op: OpScaleTo, Width: 64, Height: 64}},
			},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{
		SourceType: SourceTypeLocalFile,
		Pipeline:   []PipelineStep{{ID: "thumb_small"}},
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	unsupportedSourceType := CreateJobRequest{
		SourceType: "http_url",
		Pipeline:   []PipelineStep{{ID: "thumb_small"}},
	}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}
}

func TestValidatePipeline(t *testing.T) {
	cases := []struct {
		name    string
		steps   []PipelineStep
		wantErr bool
	}{
		{name: "passthrough", steps: []PipelineStep{{ID: "original"}}},
		{
			name: "full chain",
			steps: []PipelineStep{{ID: "crop", Transforms: []Transform{
				{Op: OpScaleBy, X: 0.5, Y: 0.5},
				{Op: OpRegion, Left: 0, Top: 0, Right: 10, Bottom: 10},
				{Op: OpFitWidth, Width: 5},
			}}},
		},
		{name: "empty", steps: nil, wantErr: true},
		{name: "duplicate ids", steps: []PipelineStep{{ID: "a"}, {ID: "a"}}, wantErr: true},
		{name: "bad quality", steps: []PipelineStep{{ID: "a", Quality: 101}}, wantErr: true},
		{name: "zero scale", steps: []PipelineStep{{ID: "a", Transforms: []Transform{{Op: OpScaleTo, Width: 0, Height: 5}}}}, wantErr: true},
		{name: "negative factor", steps: []PipelineStep{{ID: "a", Transforms: []Transform{{Op: OpScaleBy, X: -1, Y: 1}}}}, wantErr: true},
		{name: "degenerate region", steps: []PipelineStep{{ID: "a", Transforms: []Transform{{Op: OpRegion, Right: 0, Bottom: 4}}}}, wantErr: true},
		{name: "unknown op", steps: []PipelineStep{{ID: "a", Transforms: []Transform{{Op: "blur"}}}}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePipeline(tc.steps)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
