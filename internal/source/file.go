package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
)

// File is a decode source backed by a path on disk. Plain files carry no
// density hint. Paths ending in .zst are decompressed on the fly.
type File struct {
	*Stream
	path string
}

func NewFile(path string) *File {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	}
	var opts []Option
	if strings.HasSuffix(strings.ToLower(path), ".zst") {
		opts = append(opts, WithZstd())
	}
	return &File{Stream: NewStream(path, open, opts...), path: path}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) DensityRatioSupported() bool {
	return false
}

// CreateRegionDecoder fails with decoder.ErrResourceOpen when the file cannot
// be opened.
func (f *File) CreateRegionDecoder(ctx context.Context) (decoder.RegionDecoder, error) {
	if _, err := os.Stat(f.path); err != nil {
		return nil, fmt.Errorf("%w: %v", decoder.ErrResourceOpen, err)
	}
	return f.Stream.CreateRegionDecoder(ctx)
}
