package decoder

// DecodeOptions are handed to the decode backend unchanged except for the
// fields a transform node owns.
type DecodeOptions struct {
	// SampleSize asks the backend to downsample by this power of two while
	// decoding. Values below 2 mean full resolution.
	SampleSize int
	// Scaled lets a backend apply its own density scaling. Transform nodes
	// always clear it because the sample size already encodes the scale.
	Scaled bool
}

func (o DecodeOptions) Sample() int {
	if o.SampleSize < 1 {
		return 1
	}
	return o.SampleSize
}

// LoadOptions configure LoadBitmap.
type LoadOptions struct {
	// FinalScale performs the exact resize to the requested size after the
	// sampled decode.
	FinalScale bool
	// FilterBitmap interpolates during the final resize instead of picking
	// nearest pixels.
	FilterBitmap bool
	// MutableResult guarantees the returned raster implements draw.Image.
	MutableResult bool
	// ReadOnlyResult guarantees the returned raster is not writable.
	// MutableResult wins when both are set.
	ReadOnlyResult bool

	Decode DecodeOptions
}

func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		FinalScale:   true,
		FilterBitmap: true,
	}
}

// Bounds is the metadata a bounds-only decode yields.
type Bounds struct {
	Width        int
	Height       int
	MimeType     string
	DensityRatio float64
}
