package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/domain"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidTransform      = errors.New("invalid transform")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Pipeline   []domain.PipelineStep
}

type Output struct {
	StepID     string `json:"step_id"`
	Format     string `json:"format"`
	Path       string `json:"path"`
	Bytes      int    `json:"bytes"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleSize int    `json:"sample_size"`
	Success    bool   `json:"success"`
}

type Result struct {
	Outputs      []Output
	SourceWidth  int
	SourceHeight int
	SourceMime   string
	SourceBytes  int64
}

// Opener resolves a request to a decode source. Nothing is read until the
// decoder asks for bounds or pixels.
type Opener interface {
	Open(ctx context.Context, req Request) (decoder.Source, int64, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, step domain.PipelineStep, data []byte, format string, width, height int) (Output, error)
}

type Options struct {
	FinalScale      bool
	FilterBitmap    bool
	StepParallelism int
}

func DefaultOptions() Options {
	return Options{FinalScale: true, FilterBitmap: true, StepParallelism: 2}
}

type Processor struct {
	opener  Opener
	emitter Emitter
	opts    Options
}

func NewProcessor(opener Opener, emitter Emitter, opts Options) (*Processor, error) {
	if opener == nil {
		return nil, errors.New("opener is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if opts.StepParallelism < 1 {
		opts.StepParallelism = 1
	}
	return &Processor{opener: opener, emitter: emitter, opts: opts}, nil
}

func NewLocalProcessor(outputDir string, opts Options) (*Processor, error) {
	return NewProcessor(NewLocalOpener(), LocalFileEmitter{OutputDir: outputDir}, opts)
}

// Probe reads only the header of the requested source.
func (p *Processor) Probe(ctx context.Context, req Request) (decoder.Bounds, error) {
	return probe(ctx, p.opener, req)
}

// Process renders every step from one shared source decoder. Steps run
// concurrently; they contend only on the source's decode lock.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Pipeline) == 0 {
		return Result{}, errors.New("pipeline must contain at least one step")
	}

	src, size, err := p.opener.Open(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("open stage: %w", err)
	}
	root := decoder.New(src)
	defer root.Close()

	bounds, err := root.LoadBounds(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("bounds stage: %w", err)
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		sem      = make(chan struct{}, p.opts.StepParallelism)
		outputs  = make([]Output, len(req.Pipeline))
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, step := range req.Pipeline {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				out, err := p.renderStep(ctx, req, root, step)
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				outputs[i] = out
			}()
		}
	}
	wg.Wait()

	if firstErr != nil {
		return Result{}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	return Result{
		Outputs:      outputs,
		SourceWidth:  bounds.Width,
		SourceHeight: bounds.Height,
		SourceMime:   bounds.MimeType,
		SourceBytes:  size,
	}, nil
}

func (p *Processor) renderStep(ctx context.Context, req Request, root decoder.Decoder, step domain.PipelineStep) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	var sample int
	ctx = decoder.WithTrace(ctx, &decoder.Trace{
		SampleSize: func(s int) { sample = s },
	})

	node, err := BuildChain(root, step.Transforms)
	if err != nil {
		return Output{}, fmt.Errorf("transform stage step=%s: %w", step.ID, err)
	}

	img, err := node.LoadBitmap(ctx, p.loadOptions(step))
	if err != nil {
		return Output{}, fmt.Errorf("decode stage step=%s: %w", step.ID, err)
	}
	defer decoder.Recycle(img)

	format := outputFormat(step.Format, node.MimeType())
	data, err := encodeImage(img, format, step.Quality)
	if err != nil {
		return Output{}, fmt.Errorf("encode stage step=%s: %w", step.ID, err)
	}

	size := img.Bounds().Size()
	out, err := p.emitter.Emit(ctx, req, step, data, format, size.X, size.Y)
	if err != nil {
		return Output{}, fmt.Errorf("emit stage step=%s: %w", step.ID, err)
	}
	out.SampleSize = max(1, sample)
	return out, nil
}

func (p *Processor) loadOptions(step domain.PipelineStep) decoder.LoadOptions {
	opts := decoder.DefaultLoadOptions()
	opts.FinalScale = p.opts.FinalScale && !step.NoFinalScale
	opts.FilterBitmap = p.opts.FilterBitmap && !step.NoFilter
	// Outputs are encoded and recycled right away, so a shared raster is fine
	// unless the step asks otherwise.
	opts.MutableResult = step.Mutable
	return opts
}

type LocalFileOpener struct {
	open func(path string) decoder.Source
	root string
}

// WithRoot confines opened keys to root. Relative keys resolve against it.
func (o LocalFileOpener) WithRoot(root string) LocalFileOpener {
	o.root = filepath.Clean(root)
	return o
}

func (o LocalFileOpener) resolve(key string) (string, error) {
	if o.root == "" {
		return key, nil
	}
	p := key
	if !filepath.IsAbs(p) {
		p = filepath.Join(o.root, p)
	}
	rel, err := filepath.Rel(o.root, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", decoder.ErrResourceOpen, key, o.root)
	}
	return filepath.Join(o.root, rel), nil
}

func (o LocalFileOpener) Open(ctx context.Context, req Request) (decoder.Source, int64, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	path, err := o.resolve(req.ObjectKey)
	if err != nil {
		return nil, 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: stat input file %s: %v", decoder.ErrResourceOpen, path, err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s is a directory", decoder.ErrResourceOpen, path)
	}
	return o.open(path), info.Size(), nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, step domain.PipelineStep, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	format = normalizeOutputFormat(format)
	fullPath := filepath.Join(jobDir, sanitizePathToken(step.ID)+"."+extensionForFormat(format))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		StepID:  step.ID,
		Format:  format,
		Path:    fullPath,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, in)
}
