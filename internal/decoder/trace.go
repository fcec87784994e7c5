package decoder

import (
	"context"
	"image"
	"sync"
	"time"
)

// Trace is a set of hooks run during LoadBitmap. Any field may be nil.
// Hooks run on the loading goroutine and must not block.
type Trace struct {
	// SampleSize reports the sample size chosen for a decode.
	SampleSize func(sample int)
	// LockAcquired reports how long the caller waited for the source lock.
	LockAcquired func(wait time.Duration)
	// Decoded reports the raw decode result. err is nil on success.
	Decoded func(size image.Point, took time.Duration, err error)
	// Resized reports the final exact resize.
	Resized func(from, to image.Point, took time.Duration)
}

type traceKey struct{}

// WithTrace returns a context carrying t. Hooks already attached to ctx keep
// running, after t's.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	if t == nil {
		return ctx
	}
	if old := ContextTrace(ctx); old != nil {
		t = t.merge(old)
	}
	return context.WithValue(ctx, traceKey{}, t)
}

func ContextTrace(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

func (t *Trace) merge(old *Trace) *Trace {
	return &Trace{
		SampleSize: func(sample int) {
			t.sampleSize(sample)
			old.sampleSize(sample)
		},
		LockAcquired: func(wait time.Duration) {
			t.lockAcquired(wait)
			old.lockAcquired(wait)
		},
		Decoded: func(size image.Point, took time.Duration, err error) {
			if t.Decoded != nil {
				t.Decoded(size, took, err)
			}
			if old.Decoded != nil {
				old.Decoded(size, took, err)
			}
		},
		Resized: func(from, to image.Point, took time.Duration) {
			t.resized(from, to, took)
			old.resized(from, to, took)
		},
	}
}

func (t *Trace) sampleSize(sample int) {
	if t != nil && t.SampleSize != nil {
		t.SampleSize(sample)
	}
}

func (t *Trace) lockAcquired(wait time.Duration) {
	if t != nil && t.LockAcquired != nil {
		t.LockAcquired(wait)
	}
}

func (t *Trace) decoded(img image.Image, took time.Duration, err error) {
	if t == nil || t.Decoded == nil {
		return
	}
	var size image.Point
	if img != nil {
		size = img.Bounds().Size()
	}
	t.Decoded(size, took, err)
}

func (t *Trace) resized(from, to image.Point, took time.Duration) {
	if t != nil && t.Resized != nil {
		t.Resized(from, to, took)
	}
}

// lockedDecode runs fn under lock and reports timings to the context trace.
func lockedDecode(ctx context.Context, lock sync.Locker, fn func() (image.Image, error)) (image.Image, error) {
	tr := ContextTrace(ctx)
	start := time.Now()
	return withLock(lock, func() (image.Image, error) {
		locked := time.Now()
		tr.lockAcquired(locked.Sub(start))
		img, err := fn()
		tr.decoded(img, time.Since(locked), err)
		return img, err
	})
}
