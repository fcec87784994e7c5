package source

import (
	"bytes"
	"context"
	"io"
)

// NewBytes returns a decode source over an in-memory encoded image. data must
// not be modified while the source is in use.
func NewBytes(name string, data []byte, opts ...Option) *Stream {
	open := func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return NewStream(name, open, opts...)
}
