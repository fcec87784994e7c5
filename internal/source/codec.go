// Package source implements decoder.Source over files, memory buffers and
// object storage.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// The tga package registers itself with an empty magic, which makes
// image.Decode pick it for every input. Formats are therefore sniffed here
// and decoded through their own packages, never through the registry.

type codec struct {
	name   string
	magic  string
	decode func(io.Reader) (image.Image, error)
	config func(io.Reader) (image.Config, error)
}

var codecs = []codec{
	{"png", "\x89PNG\r\n\x1a\n", png.Decode, png.DecodeConfig},
	{"jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig},
	{"gif", "GIF8?a", gif.Decode, gif.DecodeConfig},
	{"bmp", "BM????\x00\x00\x00\x00", bmp.Decode, bmp.DecodeConfig},
	{"webp", "RIFF????WEBPVP8", webp.Decode, webp.DecodeConfig},
}

// tgaCodec has no magic; it is only tried for names ending in .tga.
var tgaCodec = codec{name: "tga", decode: tga.Decode, config: tga.DecodeConfig}

var errUnknownFormat = errors.New("unknown image format")

// sniff picks the codec for r by its header, falling back to TGA by name.
// The returned reader replays the peeked bytes.
func sniff(r io.Reader, name string) (codec, io.Reader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	for _, c := range codecs {
		head, err := br.Peek(len(c.magic))
		if err == nil && matchMagic(c.magic, head) {
			return c, br, nil
		}
	}
	if isTGAName(name) {
		return tgaCodec, br, nil
	}
	return codec{}, nil, errUnknownFormat
}

func matchMagic(magic string, head []byte) bool {
	if len(magic) != len(head) {
		return false
	}
	for i := range head {
		if magic[i] != '?' && magic[i] != head[i] {
			return false
		}
	}
	return true
}

func isTGAName(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ".zst")
	return strings.HasSuffix(name, ".tga")
}

func decodeImage(r io.Reader, name string) (image.Image, string, error) {
	c, br, err := sniff(r, name)
	if err != nil {
		return nil, "", err
	}
	img, err := c.decode(br)
	if err != nil {
		return nil, c.name, fmt.Errorf("%s: %w", c.name, err)
	}
	return img, c.name, nil
}

func decodeSampled(r io.Reader, name string, opts decoder.DecodeOptions) (image.Image, error) {
	img, _, err := decodeImage(r, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", decoder.ErrDecodeFailure, err)
	}
	return sample(img, opts.Sample()), nil
}

// sample shrinks img by the given factor, rounding the result up so the raster
// never ends up smaller than width/sample.
func sample(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	w, h := decoder.SampledSize(b.Dx(), b.Dy(), factor)
	dst := decoder.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	decoder.Recycle(img)
	return dst
}

// shrinkScale returns the per-axis factors that take w x h to its sampled
// size. Rounding w*factor yields exactly the ceil-sampled width.
func shrinkScale(w, h, sample int) (float64, float64) {
	tw, th := decoder.SampledSize(w, h, sample)
	return float64(tw) / float64(w), float64(th) / float64(h)
}

func decodeBounds(r io.Reader, name string) (decoder.Bounds, error) {
	c, br, err := sniff(r, name)
	if err != nil {
		return decoder.Bounds{}, fmt.Errorf("%w: %v", decoder.ErrDecodeFailure, err)
	}
	cfg, err := c.config(br)
	if err != nil {
		return decoder.Bounds{}, fmt.Errorf("%w: %s: %v", decoder.ErrDecodeFailure, c.name, err)
	}
	return decoder.Bounds{
		Width:    cfg.Width,
		Height:   cfg.Height,
		MimeType: mimeType(c.name),
	}, nil
}

// DecodeConfig reads the size and format of an encoded image.
func DecodeConfig(r io.Reader, name string) (image.Config, string, error) {
	c, br, err := sniff(r, name)
	if err != nil {
		return image.Config{}, "", err
	}
	cfg, err := c.config(br)
	return cfg, c.name, err
}

func mimeType(format string) string {
	switch format {
	case "":
		return ""
	case "tga":
		return "image/x-tga"
	default:
		return "image/" + format
	}
}

// rasterRegionDecoder holds a fully decoded raster and crops copies of it.
type rasterRegionDecoder struct {
	img image.Image
}

func newRasterRegionDecoder(r io.Reader, name string) (*rasterRegionDecoder, error) {
	img, _, err := decodeImage(r, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", decoder.ErrResourceOpen, err)
	}
	return &rasterRegionDecoder{img: img}, nil
}

func (d *rasterRegionDecoder) DecodeRegion(_ context.Context, rect image.Rectangle, opts decoder.DecodeOptions) (image.Image, error) {
	if d.img == nil {
		return nil, fmt.Errorf("%w: region decoder closed", decoder.ErrResourceOpen)
	}
	b := d.img.Bounds()
	rect = rect.Add(b.Min)
	if !rect.In(b) || rect.Empty() {
		return nil, fmt.Errorf("%w: region %v outside %v", decoder.ErrInvalidArgument, rect, b)
	}
	factor := opts.Sample()
	if factor <= 1 {
		return imaging.Crop(d.img, rect), nil
	}
	w, h := decoder.SampledSize(rect.Dx(), rect.Dy(), factor)
	dst := decoder.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), d.img, rect, draw.Src, nil)
	return dst, nil
}

func (d *rasterRegionDecoder) Close() error {
	decoder.Recycle(d.img)
	d.img = nil
	return nil
}
