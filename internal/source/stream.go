package source

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
)

// OpenFunc opens a fresh reader over the resource. Every call must return an
// independent reader; the caller closes it.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// Stream is a decoder.Source that re-opens its resource for every call and
// closes it before returning.
type Stream struct {
	open    OpenFunc
	name    string
	density float64
}

type Option func(*Stream)

// WithDensity reports a fixed density ratio for the resource. Backend scaling
// honours it when DecodeOptions.Scaled is set.
func WithDensity(ratio float64) Option {
	return func(s *Stream) {
		s.density = ratio
	}
}

// WithZstd decompresses the resource with zstd before decoding.
func WithZstd() Option {
	return func(s *Stream) {
		s.open = zstdOpener(s.open)
	}
}

func NewStream(name string, open OpenFunc, opts ...Option) *Stream {
	s := &Stream{open: open, name: name}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) String() string {
	return s.name
}

func (s *Stream) DensityRatioSupported() bool {
	return s.density > 0
}

func (s *Stream) Decode(ctx context.Context, opts decoder.DecodeOptions) (image.Image, error) {
	rc, err := s.openReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", decoder.ErrDecodeFailure, s.name, err)
	}
	defer rc.Close()

	img, err := decodeSampled(rc, s.name, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	if opts.Scaled && s.density > 0 && s.density != 1 {
		b := img.Bounds()
		w := max(1, int(float64(b.Dx())*s.density+0.5))
		h := max(1, int(float64(b.Dy())*s.density+0.5))
		scaled := decoder.Resize(img, w, h, true)
		if scaled != img {
			decoder.Recycle(img)
		}
		img = scaled
	}
	return img, nil
}

func (s *Stream) DecodeBounds(ctx context.Context, _ decoder.DecodeOptions) (decoder.Bounds, error) {
	rc, err := s.openReader(ctx)
	if err != nil {
		return decoder.Bounds{}, fmt.Errorf("%w: %s: %v", decoder.ErrDecodeFailure, s.name, err)
	}
	defer rc.Close()

	b, err := decodeBounds(rc, s.name)
	if err != nil {
		return decoder.Bounds{}, fmt.Errorf("%s: %w", s.name, err)
	}
	b.DensityRatio = s.density
	return b, nil
}

func (s *Stream) CreateRegionDecoder(ctx context.Context) (decoder.RegionDecoder, error) {
	rc, err := s.openReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", decoder.ErrResourceOpen, s.name, err)
	}
	defer rc.Close()

	rd, err := newRasterRegionDecoder(rc, s.name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	return rd, nil
}

func (s *Stream) openReader(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.open(ctx)
}
