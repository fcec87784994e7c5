package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/HugoSmits86/nativewebp"
	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/ftrvxmtrx/tga"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/bmp"
)

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileDecodeBounds(t *testing.T) {
	src := NewFile(writeFile(t, "input.png", buildTestPNG(t, 240, 120)))

	b, err := src.DecodeBounds(context.Background(), decoder.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode bounds: %v", err)
	}
	if b.Width != 240 || b.Height != 120 {
		t.Fatalf("expected 240x120, got %dx%d", b.Width, b.Height)
	}
	if b.MimeType != "image/png" {
		t.Fatalf("expected image/png, got %q", b.MimeType)
	}
	if src.DensityRatioSupported() {
		t.Fatal("expected file source without density support")
	}
}

func TestFileDecodeSampled(t *testing.T) {
	src := NewFile(writeFile(t, "input.png", buildTestPNG(t, 101, 60)))

	img, err := src.Decode(context.Background(), decoder.DecodeOptions{SampleSize: 4})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(26, 15) {
		t.Fatalf("expected 26x15, got %v", got)
	}

	img, err = src.Decode(context.Background(), decoder.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(101, 60) {
		t.Fatalf("expected 101x60, got %v", got)
	}
}

func TestFileDecodeMalformed(t *testing.T) {
	src := NewFile(writeFile(t, "broken.png", []byte("definitely not an image")))

	if _, err := src.Decode(context.Background(), decoder.DecodeOptions{}); !errors.Is(err, decoder.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
	if _, err := src.DecodeBounds(context.Background(), decoder.DecodeOptions{}); !errors.Is(err, decoder.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure from bounds, got %v", err)
	}

	missing := NewFile(filepath.Join(t.TempDir(), "missing.png"))
	if _, err := missing.Decode(context.Background(), decoder.DecodeOptions{}); !errors.Is(err, decoder.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure for missing file, got %v", err)
	}
}

func TestFileRegionDecoder(t *testing.T) {
	src := NewFile(writeFile(t, "input.png", buildTestPNG(t, 200, 100)))

	rd, err := src.CreateRegionDecoder(context.Background())
	if err != nil {
		t.Fatalf("create region decoder: %v", err)
	}
	defer rd.Close()

	img, err := rd.DecodeRegion(context.Background(), image.Rect(100, 50, 180, 90), decoder.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode region: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(80, 40) {
		t.Fatalf("expected 80x40, got %v", got)
	}
	r, g, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	if uint8(r>>8) != uint8((100*255)/200) || uint8(g>>8) != uint8((50*255)/100) {
		t.Fatalf("expected crop origin pixel from (100,50), got r=%d g=%d", r>>8, g>>8)
	}

	img, err = rd.DecodeRegion(context.Background(), image.Rect(0, 0, 200, 100), decoder.DecodeOptions{SampleSize: 2})
	if err != nil {
		t.Fatalf("decode region: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(100, 50) {
		t.Fatalf("expected 100x50, got %v", got)
	}

	if _, err := rd.DecodeRegion(context.Background(), image.Rect(150, 0, 250, 10), decoder.DecodeOptions{}); !errors.Is(err, decoder.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for out-of-bounds region, got %v", err)
	}
}

func TestFileRegionDecoderOpenFailure(t *testing.T) {
	src := NewFile(filepath.Join(t.TempDir(), "missing.png"))
	if _, err := src.CreateRegionDecoder(context.Background()); !errors.Is(err, decoder.ErrResourceOpen) {
		t.Fatalf("expected ErrResourceOpen, got %v", err)
	}
}

func TestZstdFile(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := enc.Write(buildTestPNG(t, 64, 32)); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}

	src := NewFile(writeFile(t, "input.png.zst", buf.Bytes()))
	b, err := src.DecodeBounds(context.Background(), decoder.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode bounds: %v", err)
	}
	if b.Width != 64 || b.Height != 32 {
		t.Fatalf("expected 64x32, got %dx%d", b.Width, b.Height)
	}
	img, err := src.Decode(context.Background(), decoder.DecodeOptions{SampleSize: 2})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(32, 16) {
		t.Fatalf("expected 32x16, got %v", got)
	}
}

func TestBytesDensity(t *testing.T) {
	src := NewBytes("memory", buildTestPNG(t, 40, 20), WithDensity(1.5))
	if !src.DensityRatioSupported() {
		t.Fatal("expected density support")
	}

	img, err := src.Decode(context.Background(), decoder.DecodeOptions{Scaled: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(60, 30) {
		t.Fatalf("expected density-scaled 60x30, got %v", got)
	}

	img, err = src.Decode(context.Background(), decoder.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(40, 20) {
		t.Fatalf("expected unscaled 40x20, got %v", got)
	}

	d := decoder.New(src)
	if d.DensityRatio() != 1.5 {
		t.Fatalf("expected density ratio 1.5, got %g", d.DensityRatio())
	}
}

type memoryObjects struct {
	objects map[string][]byte
	opened  int
	closed  int
}

func (m *memoryObjects) OpenObject(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	m.opened++
	return &countingCloser{Reader: bytes.NewReader(data), closed: &m.closed}, nil
}

type countingCloser struct {
	io.Reader
	closed *int
}

func (c *countingCloser) Close() error {
	*c.closed++
	return nil
}

func TestObjectSourceClosesEveryReader(t *testing.T) {
	store := &memoryObjects{objects: map[string][]byte{"uploads/a/source": buildTestPNG(t, 30, 30)}}
	src := NewObject(store, "uploads/a/source")

	if _, err := src.DecodeBounds(context.Background(), decoder.DecodeOptions{}); err != nil {
		t.Fatalf("decode bounds: %v", err)
	}
	if _, err := src.Decode(context.Background(), decoder.DecodeOptions{}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if store.opened != 2 || store.closed != 2 {
		t.Fatalf("expected 2 opens and 2 closes, got %d/%d", store.opened, store.closed)
	}

	missing := NewObject(store, "uploads/missing/source")
	if _, err := missing.Decode(context.Background(), decoder.DecodeOptions{}); !errors.Is(err, decoder.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestDecoderChainOverFile(t *testing.T) {
	root := decoder.New(NewFile(writeFile(t, "input.png", buildTestPNG(t, 100, 100))))
	defer root.Close()

	scaled, err := root.ScaleTo(33, 33)
	if err != nil {
		t.Fatalf("scaleTo: %v", err)
	}
	img, err := scaled.LoadBitmap(context.Background(), decoder.DefaultLoadOptions())
	if err != nil {
		t.Fatalf("load bitmap: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(33, 33) {
		t.Fatalf("expected 33x33, got %v", got)
	}

	opts := decoder.DefaultLoadOptions()
	opts.FinalScale = false
	img, err = scaled.LoadBitmap(context.Background(), opts)
	if err != nil {
		t.Fatalf("load bitmap: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(50, 50) {
		t.Fatalf("expected 50x50, got %v", got)
	}

	region, err := scaled.Region(0, 0, 11, 11)
	if err != nil {
		t.Fatalf("region: %v", err)
	}
	img, err = region.LoadBitmap(context.Background(), decoder.DefaultLoadOptions())
	if err != nil {
		t.Fatalf("load region: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(11, 11) {
		t.Fatalf("expected 11x11, got %v", got)
	}
}

func TestBytesDecodeEveryFormat(t *testing.T) {
	const w, h = 33, 17
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 15), B: 90, A: 255})
		}
	}

	cases := []struct {
		name   string
		mime   string
		encode func(io.Writer, image.Image) error
	}{
		{"input.png", "image/png", png.Encode},
		{"input.jpg", "image/jpeg", func(w io.Writer, m image.Image) error { return jpeg.Encode(w, m, nil) }},
		{"input.gif", "image/gif", func(w io.Writer, m image.Image) error { return gif.Encode(w, m, nil) }},
		{"input.bmp", "image/bmp", bmp.Encode},
		{"input.webp", "image/webp", func(w io.Writer, m image.Image) error { return nativewebp.Encode(w, m, nil) }},
		{"input.tga", "image/x-tga", tga.Encode},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		if err := tc.encode(&buf, img); err != nil {
			t.Fatalf("%s: encode fixture: %v", tc.name, err)
		}
		src := NewBytes(tc.name, buf.Bytes())

		b, err := src.DecodeBounds(context.Background(), decoder.DecodeOptions{})
		if err != nil {
			t.Fatalf("%s: decode bounds: %v", tc.name, err)
		}
		if b.Width != w || b.Height != h || b.MimeType != tc.mime {
			t.Fatalf("%s: expected %dx%d %s, got %dx%d %s", tc.name, w, h, tc.mime, b.Width, b.Height, b.MimeType)
		}

		out, err := src.Decode(context.Background(), decoder.DecodeOptions{SampleSize: 2})
		if err != nil {
			t.Fatalf("%s: sampled decode: %v", tc.name, err)
		}
		if got := out.Bounds().Size(); got != image.Pt(17, 9) {
			t.Fatalf("%s: expected sampled 17x9, got %dx%d", tc.name, got.X, got.Y)
		}
	}
}

func TestTGARequiresTGAName(t *testing.T) {
	var buf bytes.Buffer
	if err := tga.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode tga: %v", err)
	}

	_, err := NewBytes("upload", buf.Bytes()).DecodeBounds(context.Background(), decoder.DecodeOptions{})
	if !errors.Is(err, decoder.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure for unnamed tga, got %v", err)
	}

	b, err := NewBytes("sprite.TGA", buf.Bytes()).DecodeBounds(context.Background(), decoder.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode named tga: %v", err)
	}
	if b.Width != 4 || b.MimeType != "image/x-tga" {
		t.Fatalf("expected 4px image/x-tga, got %d %s", b.Width, b.MimeType)
	}
}

func TestDecodeConfigIgnoresRegistry(t *testing.T) {
	cfg, format, err := DecodeConfig(bytes.NewReader(buildTestPNG(t, 12, 5)), "")
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if format != "png" || cfg.Width != 12 || cfg.Height != 5 {
		t.Fatalf("expected png 12x5, got %s %dx%d", format, cfg.Width, cfg.Height)
	}
}

func TestShrinkScaleKeepsSampledSize(t *testing.T) {
	for _, s := range []int{2, 4, 8, 16} {
		for w := 1; w <= 300; w += 7 {
			hs, vs := shrinkScale(w, w+3, s)
			wantW, wantH := decoder.SampledSize(w, w+3, s)
			gotW := int(math.Round(float64(w) * hs))
			gotH := int(math.Round(float64(w+3) * vs))
			if gotW != wantW || gotH != wantH {
				t.Fatalf("sample %d of %dx%d: expected %dx%d, got %dx%d", s, w, w+3, wantW, wantH, gotW, gotH)
			}
			if gotW*s < w {
				t.Fatalf("sample %d of width %d shrank below ceil: %d", s, w, gotW)
			}
		}
	}
}
