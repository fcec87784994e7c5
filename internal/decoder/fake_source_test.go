package decoder

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// fakeSource produces solid rasters of a fixed size and records how it was
// called.
type fakeSource struct {
	width, height int
	immutable     bool
	density       float64
	decodeDelay   time.Duration
	failDecode    bool
	failBounds    bool
	failRegion    bool

	mu          sync.Mutex
	samples     []int
	scaledSeen  []bool
	regions     []image.Rectangle
	boundsCalls int

	inFlight    atomic.Int32
	overlapped  atomic.Bool
	regionOpen  atomic.Int32
	regionClose atomic.Int32
}

func (s *fakeSource) DensityRatioSupported() bool { return s.density > 0 }

func (s *fakeSource) enter() func() {
	if s.inFlight.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	if s.decodeDelay > 0 {
		time.Sleep(s.decodeDelay)
	}
	return func() { s.inFlight.Add(-1) }
}

func (s *fakeSource) Decode(_ context.Context, opts DecodeOptions) (image.Image, error) {
	defer s.enter()()

	s.mu.Lock()
	s.samples = append(s.samples, opts.Sample())
	s.scaledSeen = append(s.scaledSeen, opts.Scaled)
	s.mu.Unlock()

	if s.failDecode {
		return nil, errors.New("corrupt stream")
	}
	w, h := SampledSize(s.width, s.height, opts.Sample())
	return s.raster(w, h), nil
}

func (s *fakeSource) DecodeBounds(_ context.Context, _ DecodeOptions) (Bounds, error) {
	defer s.enter()()

	s.mu.Lock()
	s.boundsCalls++
	s.mu.Unlock()

	if s.failBounds {
		return Bounds{}, errors.New("unreadable header")
	}
	return Bounds{Width: s.width, Height: s.height, MimeType: "image/png", DensityRatio: s.density}, nil
}

func (s *fakeSource) CreateRegionDecoder(_ context.Context) (RegionDecoder, error) {
	if s.failRegion {
		return nil, errors.New("no such file")
	}
	s.regionOpen.Add(1)
	return fakeRegionDecoder{s}, nil
}

func (s *fakeSource) raster(w, h int) image.Image {
	if s.immutable {
		return image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio444)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img
}

func (s *fakeSource) lastSample() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0
	}
	return s.samples[len(s.samples)-1]
}

type fakeRegionDecoder struct {
	s *fakeSource
}

func (r fakeRegionDecoder) DecodeRegion(_ context.Context, rect image.Rectangle, opts DecodeOptions) (image.Image, error) {
	defer r.s.enter()()

	r.s.mu.Lock()
	r.s.regions = append(r.s.regions, rect)
	r.s.samples = append(r.s.samples, opts.Sample())
	r.s.mu.Unlock()

	w, h := SampledSize(rect.Dx(), rect.Dy(), opts.Sample())
	return r.s.raster(w, h), nil
}

func (r fakeRegionDecoder) Close() error {
	r.s.regionClose.Add(1)
	return nil
}
