package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/domain"
	"github.com/dunamismax/rapiddecoder/internal/source"
	"github.com/dunamismax/rapiddecoder/internal/storage"
)

const (
	SourceTypeS3Presigned = domain.SourceTypeS3Presigned
)

type ObjectStoreOpener struct {
	Storage *storage.Client
}

func (o ObjectStoreOpener) Open(ctx context.Context, req Request) (decoder.Source, int64, error) {
	if o.Storage == nil {
		return nil, 0, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	size, err := o.Storage.ObjectSize(ctx, req.ObjectKey)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", decoder.ErrResourceOpen, err)
	}
	return source.NewObject(o.Storage, req.ObjectKey), size, nil
}

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func NewObjectStoreProcessor(storageClient *storage.Client, outputPrefix string, opts Options) (*Processor, error) {
	if storageClient == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(
		ObjectStoreOpener{Storage: storageClient},
		ObjectStoreEmitter{Storage: storageClient, OutputPrefix: outputPrefix},
		opts,
	)
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, step domain.PipelineStep, data []byte, format string, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	format = normalizeOutputFormat(format)
	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		sanitizePathToken(step.ID)+"."+extensionForFormat(format),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, data, contentTypeForFormat(format)); err != nil {
		return Output{}, err
	}

	return Output{
		StepID:  step.ID,
		Format:  format,
		Path:    objectKey,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
