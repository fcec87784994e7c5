// Package decoder composes resize and crop requests over a decodable image
// resource and materialises them with as little decode work as possible.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDecodeFailure   = errors.New("decode failed")
	ErrResourceOpen    = errors.New("open resource")
)

// Decoder is an immutable view of a decodable image. Composition methods never
// mutate the receiver; they return the receiver, an ancestor or a new node.
//
// Decode and DecodeRegion are raw backend calls and must be made while holding
// DecodeLock. LoadBitmap takes the lock itself.
type Decoder interface {
	Width() int
	Height() int
	HasSize() bool
	SourceWidth() int
	SourceHeight() int
	MimeType() string
	DensityRatio() float64

	ScaleTo(width, height int) (Decoder, error)
	ScaleBy(x, y float64) (Decoder, error)
	Region(left, top, right, bottom int) (Decoder, error)

	LoadBitmap(ctx context.Context, opts LoadOptions) (image.Image, error)
	Decode(ctx context.Context, opts DecodeOptions) (image.Image, error)
	DecodeBounds(ctx context.Context, opts DecodeOptions) (Bounds, error)
	DecodeRegion(ctx context.Context, rect image.Rectangle, opts DecodeOptions) (image.Image, error)
	DecodeLock() sync.Locker
}

func checkScaleToArguments(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: scale target %dx%d must be positive", ErrInvalidArgument, width, height)
	}
	return nil
}

func checkScaleByArguments(x, y float64) error {
	if !(x > 0) || !(y > 0) {
		return fmt.Errorf("%w: scale factors %gx%g must be positive", ErrInvalidArgument, x, y)
	}
	return nil
}

func checkRegionArguments(left, top, right, bottom, width, height int) error {
	if right <= left || bottom <= top {
		return fmt.Errorf("%w: empty region (%d,%d)-(%d,%d)", ErrInvalidArgument, left, top, right, bottom)
	}
	if left < 0 || top < 0 || right > width || bottom > height {
		return fmt.Errorf("%w: region (%d,%d)-(%d,%d) outside %dx%d", ErrInvalidArgument, left, top, right, bottom, width, height)
	}
	return nil
}

// checkScaledSize rejects float targets that would round to an empty raster.
func checkScaledSize(width, height float64) error {
	if roundDim(width) < 1 || roundDim(height) < 1 {
		return fmt.Errorf("%w: scaled size %gx%g rounds to zero", ErrInvalidArgument, width, height)
	}
	return nil
}

func withLock(lock sync.Locker, fn func() (image.Image, error)) (image.Image, error) {
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
