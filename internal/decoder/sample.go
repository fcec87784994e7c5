package decoder

import "math"

// SampleSize returns the largest power of two that keeps the sampled source at
// least as large as the target in both axes.
func SampleSize(sourceWidth, sourceHeight, targetWidth, targetHeight int) int {
	tw := float64(max(1, targetWidth))
	th := float64(max(1, targetHeight))
	w := float64(sourceWidth)
	h := float64(sourceHeight)

	sample := 1
	for w >= tw*2 && h >= th*2 {
		sample *= 2
		w /= 2
		h /= 2
	}
	return sample
}

// SampledSize is the raster size a backend produces for the given sample.
func SampledSize(width, height, sample int) (int, int) {
	if sample <= 1 {
		return width, height
	}
	return (width + sample - 1) / sample, (height + sample - 1) / sample
}

func roundDim(v float64) int {
	return int(math.Round(v))
}
