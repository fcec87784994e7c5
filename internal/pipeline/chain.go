package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/domain"
)

// BuildChain composes transforms onto root in order. No pixels are decoded.
func BuildChain(root decoder.Decoder, transforms []domain.Transform) (decoder.Decoder, error) {
	node := root
	for i, tr := range transforms {
		next, err := applyTransform(node, tr)
		if err != nil {
			return nil, fmt.Errorf("transforms[%d] %s: %w", i, tr.Op, err)
		}
		node = next
	}
	return node, nil
}

func applyTransform(node decoder.Decoder, tr domain.Transform) (decoder.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(tr.Op)) {
	case domain.OpScaleTo:
		return node.ScaleTo(tr.Width, tr.Height)
	case domain.OpScaleBy:
		return node.ScaleBy(tr.X, tr.Y)
	case domain.OpRegion:
		return node.Region(tr.Left, tr.Top, tr.Right, tr.Bottom)
	case domain.OpFitWidth:
		if !node.HasSize() {
			return nil, fmt.Errorf("%w: fit_width needs a known size", ErrInvalidTransform)
		}
		height := math.Round(float64(tr.Width) * float64(node.Height()) / float64(node.Width()))
		return node.ScaleTo(tr.Width, max(1, int(height)))
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransform, tr.Op)
	}
}
