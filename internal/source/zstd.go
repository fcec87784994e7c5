package source

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

type zstdReadCloser struct {
	*zstd.Decoder
	underlying io.Closer
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.underlying.Close()
}

func zstdOpener(open OpenFunc) OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		rc, err := open(ctx)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zstdReadCloser{Decoder: dec, underlying: rc}, nil
	}
}
