package decoder

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// scaleTransform resizes its parent to a target size. Targets stay float so
// chained ScaleBy calls only round once, when the size is read.
type scaleTransform struct {
	parent       Decoder
	targetWidth  float64
	targetHeight float64
}

func (t scaleTransform) Width() int { return roundDim(t.targetWidth) }

func (t scaleTransform) Height() int { return roundDim(t.targetHeight) }

func (t scaleTransform) HasSize() bool { return true }

func (t scaleTransform) SourceWidth() int { return t.parent.SourceWidth() }

func (t scaleTransform) SourceHeight() int { return t.parent.SourceHeight() }

func (t scaleTransform) MimeType() string { return t.parent.MimeType() }

func (t scaleTransform) DensityRatio() float64 { return t.parent.DensityRatio() }

func (t scaleTransform) ScaleTo(width, height int) (Decoder, error) {
	if err := checkScaleToArguments(width, height); err != nil {
		return nil, err
	}
	if t.parent.HasSize() && t.parent.Width() == width && t.parent.Height() == height {
		return t.parent, nil
	}
	w, h := float64(width), float64(height)
	if w == t.targetWidth && h == t.targetHeight {
		return t, nil
	}
	return scaleTransform{parent: t.parent, targetWidth: w, targetHeight: h}, nil
}

func (t scaleTransform) ScaleBy(x, y float64) (Decoder, error) {
	if err := checkScaleByArguments(x, y); err != nil {
		return nil, err
	}
	if x == 1 && y == 1 {
		return t, nil
	}
	w, h := t.targetWidth*x, t.targetHeight*y
	if t.parent.HasSize() && float64(t.parent.Width()) == w && float64(t.parent.Height()) == h {
		return t.parent, nil
	}
	if err := checkScaledSize(w, h); err != nil {
		return nil, err
	}
	return scaleTransform{parent: t.parent, targetWidth: w, targetHeight: h}, nil
}

// Region maps the rectangle into parent coordinates, rounding each edge on its
// own. Adjacent regions may gain or lose a pixel at non-integer scales.
func (t scaleTransform) Region(left, top, right, bottom int) (Decoder, error) {
	if err := checkRegionArguments(left, top, right, bottom, t.Width(), t.Height()); err != nil {
		return nil, err
	}
	pw, ph := t.parent.Width(), t.parent.Height()
	if pw <= 0 || ph <= 0 {
		return nil, fmt.Errorf("%w: parent size unavailable", ErrDecodeFailure)
	}
	sx := t.targetWidth / float64(pw)
	sy := t.targetHeight / float64(ph)
	region, err := t.parent.Region(
		int(math.Round(float64(left)/sx)),
		int(math.Round(float64(top)/sy)),
		int(math.Round(float64(right)/sx)),
		int(math.Round(float64(bottom)/sy)),
	)
	if err != nil {
		return nil, err
	}
	return region.ScaleTo(right-left, bottom-top)
}

func (t scaleTransform) LoadBitmap(ctx context.Context, opts LoadOptions) (image.Image, error) {
	ctx, span := startSpan(ctx, "decoder.scale.load")
	defer span.End()

	targetWidth, targetHeight := t.Width(), t.Height()
	sourceWidth, sourceHeight := t.parent.SourceWidth(), t.parent.SourceHeight()
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return nil, endSpan(span, fmt.Errorf("%w: source bounds unavailable", ErrDecodeFailure))
	}

	decodeOpts := opts.Decode
	decodeOpts.SampleSize = SampleSize(sourceWidth, sourceHeight, targetWidth, targetHeight)
	decodeOpts.Scaled = false
	ContextTrace(ctx).sampleSize(decodeOpts.SampleSize)
	span.SetAttributes(
		attribute.Int("target.width", targetWidth),
		attribute.Int("target.height", targetHeight),
		attribute.Int("decode.sample_size", decodeOpts.SampleSize),
	)

	bitmap, err := lockedDecode(ctx, t.parent.DecodeLock(), func() (image.Image, error) {
		return t.parent.Decode(ctx, decodeOpts)
	})
	if err != nil {
		return nil, endSpan(span, err)
	}

	size := bitmap.Bounds().Size()
	if (size.X == targetWidth && size.Y == targetHeight) || !opts.FinalScale {
		return checkMutable(bitmap, opts), nil
	}

	start := time.Now()
	scaled := Resize(bitmap, targetWidth, targetHeight, opts.FilterBitmap)
	if scaled != bitmap {
		Recycle(bitmap)
	}
	ContextTrace(ctx).resized(size, image.Pt(targetWidth, targetHeight), time.Since(start))
	return checkMutable(scaled, opts), nil
}

func (t scaleTransform) Decode(ctx context.Context, opts DecodeOptions) (image.Image, error) {
	return t.parent.Decode(ctx, opts)
}

func (t scaleTransform) DecodeBounds(ctx context.Context, opts DecodeOptions) (Bounds, error) {
	return t.parent.DecodeBounds(ctx, opts)
}

func (t scaleTransform) DecodeRegion(ctx context.Context, rect image.Rectangle, opts DecodeOptions) (image.Image, error) {
	return t.parent.DecodeRegion(ctx, rect, opts)
}

func (t scaleTransform) DecodeLock() sync.Locker {
	return t.parent.DecodeLock()
}
