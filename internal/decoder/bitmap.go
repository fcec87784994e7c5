package decoder

import (
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

var pixPool sync.Pool

// NewRGBA allocates a raster, reusing a recycled pixel buffer when one is big
// enough.
func NewRGBA(r image.Rectangle) *image.RGBA {
	n := 4 * r.Dx() * r.Dy()
	if v, ok := pixPool.Get().(*[]byte); ok {
		if cap(*v) >= n {
			pix := (*v)[:n]
			clear(pix)
			return &image.RGBA{Pix: pix, Stride: 4 * r.Dx(), Rect: r}
		}
		pixPool.Put(v)
	}
	return image.NewRGBA(r)
}

// Recycle hands the pixel buffer of img back for reuse and detaches it from
// img. img must not be used afterwards.
func Recycle(img image.Image) {
	var pix *[]byte
	switch m := img.(type) {
	case *image.RGBA:
		pix = &m.Pix
	case *image.NRGBA:
		pix = &m.Pix
	case *ReadOnly:
		Recycle(m.img)
		m.img = nil
		return
	default:
		return
	}
	if cap(*pix) == 0 {
		return
	}
	buf := (*pix)[:0]
	*pix = nil
	pixPool.Put(&buf)
}

// Resize scales src to exactly width x height. It returns src itself when the
// size already matches.
func Resize(src image.Image, width, height int, filter bool) image.Image {
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return src
	}
	var scaler draw.Scaler = draw.NearestNeighbor
	if filter {
		scaler = draw.BiLinear
	}
	dst := NewRGBA(image.Rect(0, 0, width, height))
	scaler.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// IsMutable reports whether pixels of img can be written in place.
func IsMutable(img image.Image) bool {
	if _, ok := img.(*ReadOnly); ok {
		return false
	}
	_, ok := img.(draw.Image)
	return ok
}

// checkMutable enforces the caller's mutability requirement. A conversion is
// always a copy; the original raster is recycled.
func checkMutable(img image.Image, opts LoadOptions) image.Image {
	switch {
	case opts.MutableResult && !IsMutable(img):
		out := imaging.Clone(img)
		Recycle(img)
		return out
	case !opts.MutableResult && opts.ReadOnlyResult && IsMutable(img):
		out := &ReadOnly{img: imaging.Clone(img)}
		Recycle(img)
		return out
	default:
		return img
	}
}

// ReadOnly is a raster without a Set method.
type ReadOnly struct {
	img image.Image
}

func (r *ReadOnly) ColorModel() color.Model { return r.img.ColorModel() }

func (r *ReadOnly) Bounds() image.Rectangle { return r.img.Bounds() }

func (r *ReadOnly) At(x, y int) color.Color { return r.img.At(x, y) }
