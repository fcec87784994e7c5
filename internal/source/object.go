package source

import (
	"context"
	"io"
	"strings"
)

// ObjectReader opens objects by key. *storage.Client satisfies it.
type ObjectReader interface {
	OpenObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

func NewObject(reader ObjectReader, objectKey string, opts ...Option) *Stream {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return reader.OpenObject(ctx, objectKey)
	}
	if strings.HasSuffix(strings.ToLower(objectKey), ".zst") {
		opts = append([]Option{WithZstd()}, opts...)
	}
	return NewStream(objectKey, open, opts...)
}
