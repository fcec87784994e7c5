package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
)

// Prober reads source headers without rendering, routing by source type.
type Prober struct {
	local  Opener
	object Opener
}

// NewProber accepts a nil opener for a source type the deployment does not
// serve.
func NewProber(local, object Opener) *Prober {
	return &Prober{local: local, object: object}
}

func (p *Prober) Probe(ctx context.Context, req Request) (decoder.Bounds, error) {
	opener := p.object
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		opener = p.local
	}
	if opener == nil {
		return decoder.Bounds{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return probe(ctx, opener, req)
}

func probe(ctx context.Context, opener Opener, req Request) (decoder.Bounds, error) {
	if opener == nil {
		return decoder.Bounds{}, errors.New("opener is required")
	}
	src, _, err := opener.Open(ctx, req)
	if err != nil {
		return decoder.Bounds{}, fmt.Errorf("open stage: %w", err)
	}
	root := decoder.New(src)
	defer root.Close()

	bounds, err := root.LoadBounds(ctx)
	if err != nil {
		return decoder.Bounds{}, fmt.Errorf("bounds stage: %w", err)
	}
	return bounds, nil
}
