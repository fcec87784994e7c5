package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/domain"
	"github.com/dunamismax/rapiddecoder/internal/pipeline"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exit.
func run() int {
	ops := flag.String("ops", "", "transform chain, e.g. \"scale_by:0.5,0.5;region:10,10,70,50;fit_width:80\"")
	outDir := flag.String("out", "./rapiddecode-out", "output directory")
	format := flag.String("format", "", "output format: png, jpeg or webp (default: source format)")
	quality := flag.Int("quality", 0, "jpeg quality 1-100")
	noFinalScale := flag.Bool("no-final-scale", false, "keep the sampled decode size instead of resizing exactly")
	noFilter := flag.Bool("no-filter", false, "use nearest-neighbour for the final resize")
	probeOnly := flag.Bool("probe", false, "print source bounds and exit")
	verbose := flag.Bool("v", false, "log decode sample sizes and timings")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rapiddecode [flags] <image-file> [image-file...]\n\n")
		fmt.Fprintf(os.Stderr, "Decode images through a lazy scale/region chain and write the results.\n")
		fmt.Fprintf(os.Stderr, "Files ending in .zst are decompressed first.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	logger := log.New(os.Stderr, "[rapiddecode] ", log.LstdFlags|log.Lmsgprefix)

	transforms, err := parseTransforms(*ops)
	if err != nil {
		logger.Printf("invalid -ops: %v", err)
		return 2
	}
	step := domain.PipelineStep{
		ID:           "out",
		Transforms:   transforms,
		Format:       *format,
		Quality:      *quality,
		NoFinalScale: *noFinalScale,
		NoFilter:     *noFilter,
	}
	if err := domain.ValidatePipeline([]domain.PipelineStep{step}); err != nil {
		logger.Printf("invalid step: %v", err)
		return 2
	}

	if err := pipeline.Startup(); err != nil {
		logger.Printf("decoder runtime startup failed: %v", err)
		return 1
	}
	defer pipeline.Shutdown()

	processor, err := pipeline.NewLocalProcessor(*outDir, pipeline.DefaultOptions())
	if err != nil {
		logger.Printf("init processor: %v", err)
		return 1
	}

	ctx := context.Background()
	if *verbose {
		ctx = decoder.WithTrace(ctx, verboseTrace(logger))
	}

	exitCode := 0
	for _, path := range flag.Args() {
		req := pipeline.Request{
			JobID:      jobIDForPath(path),
			SourceType: pipeline.SourceTypeLocalFile,
			ObjectKey:  path,
			Pipeline:   []domain.PipelineStep{step},
		}

		if *probeOnly {
			bounds, err := processor.Probe(ctx, req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: error: %v\n", path, err)
				exitCode = 1
				continue
			}
			fmt.Printf("%s: %dx%d %s density=%g\n", path, bounds.Width, bounds.Height, bounds.MimeType, bounds.DensityRatio)
			continue
		}

		result, err := processor.Process(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", path, err)
			exitCode = 1
			continue
		}
		for _, out := range result.Outputs {
			fmt.Printf("%s: %dx%d -> %s %dx%d sample=%d bytes=%d\n",
				path, result.SourceWidth, result.SourceHeight, out.Path, out.Width, out.Height, out.SampleSize, out.Bytes)
		}
	}
	return exitCode
}

// parseTransforms reads "op:args;op:args". Args are comma separated.
func parseTransforms(chain string) ([]domain.Transform, error) {
	var out []domain.Transform
	for _, part := range strings.Split(chain, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		op, rawArgs, _ := strings.Cut(part, ":")
		op = strings.ToLower(strings.TrimSpace(op))
		args := splitArgs(rawArgs)

		var tr domain.Transform
		var err error
		switch op {
		case domain.OpScaleTo:
			tr = domain.Transform{Op: op}
			err = scanArgs(args, &tr.Width, &tr.Height)
		case domain.OpScaleBy:
			tr = domain.Transform{Op: op}
			if len(args) == 1 {
				args = append(args, args[0])
			}
			err = scanArgs(args, &tr.X, &tr.Y)
		case domain.OpRegion:
			tr = domain.Transform{Op: op}
			err = scanArgs(args, &tr.Left, &tr.Top, &tr.Right, &tr.Bottom)
		case domain.OpFitWidth:
			tr = domain.Transform{Op: op}
			err = scanArgs(args, &tr.Width)
		default:
			return nil, fmt.Errorf("unknown op %q", op)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, tr)
	}
	return out, nil
}

func splitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	args := strings.Split(raw, ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return args
}

func scanArgs(args []string, into ...any) error {
	if len(args) != len(into) {
		return fmt.Errorf("expected %d arguments, got %d", len(into), len(args))
	}
	for i, dst := range into {
		if _, err := fmt.Sscan(args[i], dst); err != nil {
			return fmt.Errorf("argument %d %q: %w", i+1, args[i], err)
		}
	}
	return nil
}

func jobIDForPath(path string) string {
	base := filepath.Base(path)
	for ext := filepath.Ext(base); ext != ""; ext = filepath.Ext(base) {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" {
		return "image"
	}
	return base
}

func verboseTrace(logger *log.Logger) *decoder.Trace {
	return &decoder.Trace{
		SampleSize: func(sample int) {
			logger.Printf("decode sample_size=%d", sample)
		},
		Decoded: func(size image.Point, took time.Duration, err error) {
			if err != nil {
				logger.Printf("decode failed took=%s err=%v", took, err)
				return
			}
			logger.Printf("decoded %dx%d took=%s", size.X, size.Y, took)
		},
		Resized: func(from, to image.Point, took time.Duration) {
			logger.Printf("resized %dx%d -> %dx%d took=%s", from.X, from.Y, to.X, to.Y, took)
		},
	}
}
