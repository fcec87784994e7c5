//go:build govips && cgo

package source

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/rapiddecoder/internal/decoder"
)

var (
	vipsStartupOnce sync.Once
	vipsMu          sync.Mutex
	vipsStarted     bool
)

func StartupVips() {
	vipsStartupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		vipsMu.Lock()
		vipsStarted = true
		vipsMu.Unlock()
	})
}

func ShutdownVips() {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	if !vipsStarted {
		return
	}
	vips.Shutdown()
	vipsStarted = false
}

// Vips decodes files through libvips, which can shrink JPEGs while decoding
// instead of after.
type Vips struct {
	path string
}

func NewVips(path string) *Vips {
	StartupVips()
	return &Vips{path: path}
}

func (v *Vips) DensityRatioSupported() bool {
	return false
}

func (v *Vips) load(sampleSize int) (*vips.ImageRef, error) {
	params := vips.NewImportParams()
	if sampleSize > 1 {
		params.JpegShrinkFactor.Set(min(sampleSize, 8))
	}
	return vips.LoadImageFromFile(v.path, params)
}

func (v *Vips) Decode(ctx context.Context, opts decoder.DecodeOptions) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, err := v.load(opts.Sample())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", decoder.ErrDecodeFailure, v.path, err)
	}
	defer ref.Close()

	img, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: export: %v", decoder.ErrDecodeFailure, v.path, err)
	}
	// Shrink-on-load only covers JPEG up to 8x; finish the rest in Go.
	if remaining := opts.Sample() / shrinkApplied(opts.Sample(), ref.Format()); remaining > 1 {
		img = sample(img, remaining)
	}
	return img, nil
}

func shrinkApplied(sampleSize int, format vips.ImageType) int {
	if format != vips.ImageTypeJPEG {
		return 1
	}
	return min(sampleSize, 8)
}

func (v *Vips) DecodeBounds(ctx context.Context, _ decoder.DecodeOptions) (decoder.Bounds, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Bounds{}, err
	}
	ref, err := v.load(1)
	if err != nil {
		return decoder.Bounds{}, fmt.Errorf("%w: %s: %v", decoder.ErrDecodeFailure, v.path, err)
	}
	defer ref.Close()

	return decoder.Bounds{
		Width:    ref.Width(),
		Height:   ref.Height(),
		MimeType: "image/" + vips.ImageTypes[ref.Format()],
	}, nil
}

func (v *Vips) CreateRegionDecoder(ctx context.Context) (decoder.RegionDecoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, err := v.load(1)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", decoder.ErrResourceOpen, v.path, err)
	}
	return &vipsRegionDecoder{ref: ref}, nil
}

type vipsRegionDecoder struct {
	ref *vips.ImageRef
}

func (d *vipsRegionDecoder) DecodeRegion(ctx context.Context, rect image.Rectangle, opts decoder.DecodeOptions) (image.Image, error) {
	if d.ref == nil {
		return nil, fmt.Errorf("%w: region decoder closed", decoder.ErrResourceOpen)
	}
	area, err := d.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("%w: copy: %v", decoder.ErrDecodeFailure, err)
	}
	defer area.Close()

	if err := area.ExtractArea(rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()); err != nil {
		return nil, fmt.Errorf("%w: extract %v: %v", decoder.ErrDecodeFailure, rect, err)
	}
	tw, th := decoder.SampledSize(rect.Dx(), rect.Dy(), opts.Sample())
	if opts.Sample() > 1 {
		hs, vs := shrinkScale(rect.Dx(), rect.Dy(), opts.Sample())
		if err := area.ResizeWithVScale(hs, vs, vips.KernelLinear); err != nil {
			return nil, fmt.Errorf("%w: shrink: %v", decoder.ErrDecodeFailure, err)
		}
	}
	img, err := area.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, fmt.Errorf("%w: export: %v", decoder.ErrDecodeFailure, err)
	}
	if b := img.Bounds(); b.Dx() != tw || b.Dy() != th {
		img = decoder.Resize(img, tw, th, true)
	}
	return img, nil
}

func (d *vipsRegionDecoder) Close() error {
	if d.ref != nil {
		d.ref.Close()
		d.ref = nil
	}
	return nil
}
