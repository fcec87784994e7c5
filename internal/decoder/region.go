package decoder

import (
	"context"
	"image"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// regionNode is a rectangle of its source, in source pixels.
type regionNode struct {
	source *SourceDecoder
	rect   image.Rectangle
}

func (r regionNode) Width() int { return r.rect.Dx() }

func (r regionNode) Height() int { return r.rect.Dy() }

func (r regionNode) HasSize() bool { return true }

func (r regionNode) SourceWidth() int { return r.rect.Dx() }

func (r regionNode) SourceHeight() int { return r.rect.Dy() }

func (r regionNode) MimeType() string { return r.source.MimeType() }

func (r regionNode) DensityRatio() float64 { return r.source.DensityRatio() }

func (r regionNode) ScaleTo(width, height int) (Decoder, error) {
	if err := checkScaleToArguments(width, height); err != nil {
		return nil, err
	}
	if width == r.Width() && height == r.Height() {
		return r, nil
	}
	return scaleTransform{parent: r, targetWidth: float64(width), targetHeight: float64(height)}, nil
}

func (r regionNode) ScaleBy(x, y float64) (Decoder, error) {
	if err := checkScaleByArguments(x, y); err != nil {
		return nil, err
	}
	if x == 1 && y == 1 {
		return r, nil
	}
	w, h := float64(r.Width())*x, float64(r.Height())*y
	if err := checkScaledSize(w, h); err != nil {
		return nil, err
	}
	return scaleTransform{parent: r, targetWidth: w, targetHeight: h}, nil
}

func (r regionNode) Region(left, top, right, bottom int) (Decoder, error) {
	if err := checkRegionArguments(left, top, right, bottom, r.Width(), r.Height()); err != nil {
		return nil, err
	}
	if left == 0 && top == 0 && right == r.Width() && bottom == r.Height() {
		return r, nil
	}
	o := r.rect.Min
	return r.source.Region(o.X+left, o.Y+top, o.X+right, o.Y+bottom)
}

func (r regionNode) LoadBitmap(ctx context.Context, opts LoadOptions) (image.Image, error) {
	ctx, span := startSpan(ctx, "decoder.region.load")
	defer span.End()
	span.SetAttributes(
		attribute.Int("region.left", r.rect.Min.X),
		attribute.Int("region.top", r.rect.Min.Y),
		attribute.Int("region.width", r.rect.Dx()),
		attribute.Int("region.height", r.rect.Dy()),
	)

	decodeOpts := opts.Decode
	decodeOpts.SampleSize = 1
	img, err := lockedDecode(ctx, r.DecodeLock(), func() (image.Image, error) {
		return r.Decode(ctx, decodeOpts)
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	return checkMutable(img, opts), nil
}

func (r regionNode) Decode(ctx context.Context, opts DecodeOptions) (image.Image, error) {
	return r.source.DecodeRegion(ctx, r.rect, opts)
}

func (r regionNode) DecodeBounds(ctx context.Context, opts DecodeOptions) (Bounds, error) {
	b, err := r.source.DecodeBounds(ctx, opts)
	if err != nil {
		return Bounds{}, err
	}
	b.Width, b.Height = r.rect.Dx(), r.rect.Dy()
	return b, nil
}

func (r regionNode) DecodeRegion(ctx context.Context, rect image.Rectangle, opts DecodeOptions) (image.Image, error) {
	return r.source.DecodeRegion(ctx, rect.Add(r.rect.Min), opts)
}

func (r regionNode) DecodeLock() sync.Locker {
	return r.source.DecodeLock()
}
