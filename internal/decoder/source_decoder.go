package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// SourceDecoder is the leaf of every decoder chain. It owns the lock that
// serialises all backend calls against its Source, the cached bounds and the
// lazily created region decoder.
type SourceDecoder struct {
	src Source

	mu        sync.Mutex
	bounds    Bounds
	hasBounds bool
	region    RegionDecoder
	closed    bool
}

func New(src Source) *SourceDecoder {
	return &SourceDecoder{src: src}
}

// LoadBounds decodes and caches the source bounds. Failures are not cached.
func (d *SourceDecoder) LoadBounds(ctx context.Context) (Bounds, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadBoundsLocked(ctx); err != nil {
		return Bounds{}, err
	}
	return d.bounds, nil
}

func (d *SourceDecoder) loadBoundsLocked(ctx context.Context) error {
	if d.hasBounds {
		return nil
	}
	b, err := d.src.DecodeBounds(ctx, DecodeOptions{})
	if err != nil {
		return wrapDecode(err)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: source reported %dx%d", ErrDecodeFailure, b.Width, b.Height)
	}
	d.bounds = b
	d.hasBounds = true
	return nil
}

// cachedBounds returns the bounds, loading them on first use. The zero value
// is returned when the source cannot report its size.
func (d *SourceDecoder) cachedBounds() (Bounds, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadBoundsLocked(context.Background()); err != nil {
		return Bounds{}, false
	}
	return d.bounds, true
}

func (d *SourceDecoder) Width() int {
	b, _ := d.cachedBounds()
	return b.Width
}

func (d *SourceDecoder) Height() int {
	b, _ := d.cachedBounds()
	return b.Height
}

func (d *SourceDecoder) HasSize() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasBounds
}

func (d *SourceDecoder) SourceWidth() int { return d.Width() }

func (d *SourceDecoder) SourceHeight() int { return d.Height() }

func (d *SourceDecoder) MimeType() string {
	b, _ := d.cachedBounds()
	return b.MimeType
}

func (d *SourceDecoder) DensityRatio() float64 {
	if !d.src.DensityRatioSupported() {
		return 1
	}
	b, ok := d.cachedBounds()
	if !ok || b.DensityRatio <= 0 {
		return 1
	}
	return b.DensityRatio
}

func (d *SourceDecoder) ScaleTo(width, height int) (Decoder, error) {
	if err := checkScaleToArguments(width, height); err != nil {
		return nil, err
	}
	if d.HasSize() && d.Width() == width && d.Height() == height {
		return d, nil
	}
	return scaleTransform{parent: d, targetWidth: float64(width), targetHeight: float64(height)}, nil
}

func (d *SourceDecoder) ScaleBy(x, y float64) (Decoder, error) {
	if err := checkScaleByArguments(x, y); err != nil {
		return nil, err
	}
	if x == 1 && y == 1 {
		return d, nil
	}
	b, ok := d.cachedBounds()
	if !ok {
		return nil, fmt.Errorf("%w: source bounds unavailable", ErrDecodeFailure)
	}
	w, h := float64(b.Width)*x, float64(b.Height)*y
	if err := checkScaledSize(w, h); err != nil {
		return nil, err
	}
	return scaleTransform{parent: d, targetWidth: w, targetHeight: h}, nil
}

func (d *SourceDecoder) Region(left, top, right, bottom int) (Decoder, error) {
	b, ok := d.cachedBounds()
	if !ok {
		return nil, fmt.Errorf("%w: source bounds unavailable", ErrDecodeFailure)
	}
	if err := checkRegionArguments(left, top, right, bottom, b.Width, b.Height); err != nil {
		return nil, err
	}
	if left == 0 && top == 0 && right == b.Width && bottom == b.Height {
		return d, nil
	}
	return regionNode{source: d, rect: image.Rect(left, top, right, bottom)}, nil
}

func (d *SourceDecoder) LoadBitmap(ctx context.Context, opts LoadOptions) (image.Image, error) {
	ctx, span := startSpan(ctx, "decoder.source.load")
	defer span.End()

	decodeOpts := opts.Decode
	decodeOpts.SampleSize = 1
	img, err := lockedDecode(ctx, d.DecodeLock(), func() (image.Image, error) {
		return d.Decode(ctx, decodeOpts)
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	span.SetAttributes(attribute.Int("raster.width", img.Bounds().Dx()), attribute.Int("raster.height", img.Bounds().Dy()))
	return checkMutable(img, opts), nil
}

func (d *SourceDecoder) Decode(ctx context.Context, opts DecodeOptions) (image.Image, error) {
	img, err := d.src.Decode(ctx, opts)
	if err != nil {
		return nil, wrapDecode(err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: no raster produced", ErrDecodeFailure)
	}
	return img, nil
}

func (d *SourceDecoder) DecodeBounds(ctx context.Context, opts DecodeOptions) (Bounds, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasBounds {
		return d.bounds, nil
	}
	b, err := d.src.DecodeBounds(ctx, opts)
	if err != nil {
		return Bounds{}, wrapDecode(err)
	}
	return b, nil
}

// DecodeRegion decodes rect in source coordinates. The region decoder is
// created on first use and kept until Close.
func (d *SourceDecoder) DecodeRegion(ctx context.Context, rect image.Rectangle, opts DecodeOptions) (image.Image, error) {
	if d.closed {
		return nil, fmt.Errorf("%w: decoder closed", ErrResourceOpen)
	}
	if d.region == nil {
		rd, err := d.src.CreateRegionDecoder(ctx)
		if err != nil {
			if errors.Is(err, ErrResourceOpen) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrResourceOpen, err)
		}
		d.region = rd
	}
	img, err := d.region.DecodeRegion(ctx, rect, opts)
	if err != nil {
		return nil, wrapDecode(err)
	}
	return img, nil
}

func (d *SourceDecoder) DecodeLock() sync.Locker {
	return &d.mu
}

// Close releases the region decoder if one was created. It is safe to call
// more than once.
func (d *SourceDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.region == nil {
		return nil
	}
	err := d.region.Close()
	d.region = nil
	return err
}

func wrapDecode(err error) error {
	if errors.Is(err, ErrDecodeFailure) || errors.Is(err, ErrResourceOpen) || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDecodeFailure, err)
}
