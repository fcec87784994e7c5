package decoder

import (
	"context"
	"image"
)

// Source is the leaf I/O capability a decoder chain bottoms out in. One Source
// maps to exactly one physical resource. Implementations need not be safe for
// concurrent use; the SourceDecoder wrapping them serialises every call.
type Source interface {
	DensityRatioSupported() bool
	Decode(ctx context.Context, opts DecodeOptions) (image.Image, error)
	DecodeBounds(ctx context.Context, opts DecodeOptions) (Bounds, error)
	CreateRegionDecoder(ctx context.Context) (RegionDecoder, error)
}

type RegionDecoder interface {
	DecodeRegion(ctx context.Context, rect image.Rectangle, opts DecodeOptions) (image.Image, error)
	Close() error
}
