package docext

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// defaultLoadTimeout bounds how long a first use waits for a heavyweight
// dependency to come up before the failure is cached.
const defaultLoadTimeout = 10 * time.Second

// lazyDep loads a value once on first use and caches the outcome, success
// or failure. Concurrent first users share the one load: the lock is held
// for the duration, so everyone sees the same result.
type lazyDep[T any] struct {
	mu     sync.Mutex
	loaded bool
	value  T
	err    error
}

func (l *lazyDep[T]) get(ctx context.Context, timeout time.Duration, name string, load func(context.Context) (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.value, l.err
	}

	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := load(loadCtx)
		ch <- outcome{v, err}
	}()

	select {
	case out := <-ch:
		l.value, l.err = out.v, out.err
		l.loaded = true
	case <-loadCtx.Done():
		if err := ctx.Err(); err != nil {
			// Caller cancellation, not a load failure: leave the cache
			// untouched so the next call can try again.
			var zero T
			return zero, err
		}
		var zero T
		l.value = zero
		l.err = fmt.Errorf("%w: %s did not load within %s", ErrDependencyLoad, name, timeout)
		l.loaded = true
	}
	return l.value, l.err
}

// Deps bundles the heavyweight external capabilities behind lazy loaders:
// the page rasterizer and the OCR recognizer. The zero-config default
// renders through MuPDF and reports OCR unavailable until an endpoint or
// recognizer is supplied.
type Deps struct {
	loadTimeout time.Duration

	rasterLoader     func(context.Context) (Raster, error)
	recognizerLoader func(context.Context) (Recognizer, error)

	raster     lazyDep[Raster]
	recognizer lazyDep[Recognizer]
}

// DepsOption customizes a dependency bundle.
type DepsOption func(*Deps)

// WithRaster installs an already-constructed rasterizer.
func WithRaster(r Raster) DepsOption {
	return func(d *Deps) {
		d.rasterLoader = func(context.Context) (Raster, error) { return r, nil }
	}
}

// WithRecognizer installs an already-constructed recognizer.
func WithRecognizer(r Recognizer) DepsOption {
	return func(d *Deps) {
		d.recognizerLoader = func(context.Context) (Recognizer, error) { return r, nil }
	}
}

// WithRasterLoader defers rasterizer construction to first use.
func WithRasterLoader(load func(context.Context) (Raster, error)) DepsOption {
	return func(d *Deps) { d.rasterLoader = load }
}

// WithRecognizerLoader defers recognizer construction to first use.
func WithRecognizerLoader(load func(context.Context) (Recognizer, error)) DepsOption {
	return func(d *Deps) { d.recognizerLoader = load }
}

// WithOCREndpoint points the default recognizer at an HTTP recognition
// service.
func WithOCREndpoint(url string) DepsOption {
	return func(d *Deps) {
		d.recognizerLoader = func(context.Context) (Recognizer, error) {
			return &HTTPRecognizer{Endpoint: url}, nil
		}
	}
}

// WithLoadTimeout overrides the first-use load timeout.
func WithLoadTimeout(timeout time.Duration) DepsOption {
	return func(d *Deps) {
		if timeout > 0 {
			d.loadTimeout = timeout
		}
	}
}

// NewDeps builds a dependency bundle.
func NewDeps(opts ...DepsOption) *Deps {
	d := &Deps{
		loadTimeout: defaultLoadTimeout,
		rasterLoader: func(context.Context) (Raster, error) {
			return FitzRaster{}, nil
		},
		recognizerLoader: func(context.Context) (Recognizer, error) {
			return nil, ErrOCRUnavailable
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Raster returns the page rasterizer, loading it on first use.
func (d *Deps) Raster(ctx context.Context) (Raster, error) {
	return d.raster.get(ctx, d.loadTimeout, "rasterizer", d.rasterLoader)
}

// Recognizer returns the OCR recognizer, loading it on first use.
func (d *Deps) Recognizer(ctx context.Context) (Recognizer, error) {
	return d.recognizer.get(ctx, d.loadTimeout, "recognizer", d.recognizerLoader)
}
