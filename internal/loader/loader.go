// Package loader makes the voice engine runtime available to sessions. The
// runtime is loaded at most once per process no matter how many sessions ask
// for it concurrently; a failed load may be retried later.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// State is the load state of the runtime.
type State int32

const (
	// NotLoaded means no load has succeeded yet.
	NotLoaded State = iota
	// Loading means a load attempt is in flight.
	Loading
	// Loaded means the runtime is available.
	Loaded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// ErrLoadFailed matches every error returned for a failed load attempt.
var ErrLoadFailed = errors.New("engine runtime failed to load")

// LoadError reports a failed load attempt. Every caller waiting on the same
// attempt receives the same *LoadError.
type LoadError struct {
	Attempt int
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("engine runtime failed to load (attempt %d): %v", e.Attempt, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is matches ErrLoadFailed.
func (e *LoadError) Is(target error) bool { return target == ErrLoadFailed }

// Runtime is the product of a successful load.
type Runtime interface {
	IsReady() bool
}

// LoadFunc performs the actual load. It is never called concurrently with
// itself by a Loader.
type LoadFunc func(ctx context.Context) (Runtime, error)

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// WithTimeout bounds a single load attempt.
func WithTimeout(d time.Duration) Option {
	return func(ld *Loader) { ld.timeout = d }
}

// WithRetryInterval sets the minimum spacing between load attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(ld *Loader) {
		if d <= 0 {
			ld.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		ld.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// Loader owns the process-wide load state.
type Loader struct {
	load    LoadFunc
	group   singleflight.Group
	limiter *rate.Limiter
	timeout time.Duration
	logger  *log.Logger

	mu       sync.Mutex
	state    State
	runtime  Runtime
	attempts int
	loads    int
}

// New returns a Loader that loads with fn.
func New(fn LoadFunc, opts ...Option) *Loader {
	l := &Loader{
		load:    fn,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		timeout: 30 * time.Second,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure returns the runtime, loading it first if necessary. Concurrent
// callers share one in-flight attempt. A caller whose ctx ends stops waiting
// but does not cancel the shared attempt.
func (l *Loader) Ensure(ctx context.Context) (Runtime, error) {
	l.mu.Lock()
	if l.state == Loaded {
		rt := l.runtime
		l.mu.Unlock()
		return rt, nil
	}
	l.mu.Unlock()

	ch := l.group.DoChan("runtime", func() (interface{}, error) {
		return l.attempt()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Runtime), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) attempt() (Runtime, error) {
	l.mu.Lock()
	if l.state == Loaded {
		// A caller raced with the previous, successful attempt.
		rt := l.runtime
		l.mu.Unlock()
		return rt, nil
	}
	l.state = Loading
	l.attempts++
	n := l.attempts
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	rt, err := l.run(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = NotLoaded
		l.logger.Warn("Engine runtime load failed", "attempt", n, "error", err)
		return nil, &LoadError{Attempt: n, Err: err}
	}
	l.state = Loaded
	l.runtime = rt
	l.loads++
	l.logger.Debug("Engine runtime loaded", "attempt", n)
	return rt, nil
}

func (l *Loader) run(ctx context.Context) (Runtime, error) {
	if l.load == nil {
		return nil, errors.New("no runtime registered")
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting to retry: %w", err)
	}
	rt, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if rt == nil || !rt.IsReady() {
		return nil, errors.New("runtime not ready after load")
	}
	return rt, nil
}

// State returns the current load state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Loads returns how many loads have succeeded. It never exceeds one.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// Attempts returns how many load attempts were started.
func (l *Loader) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

var (
	defaultMu     sync.Mutex
	defaultLoader *Loader
)

// Default returns the process-wide loader. Until SetDefault is called it has
// no runtime registered and every Ensure fails.
func Default() *Loader {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLoader == nil {
		defaultLoader = New(nil)
	}
	return defaultLoader
}

// SetDefault installs the process-wide loader.
func SetDefault(l *Loader) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLoader = l
}

// ResetDefault drops the process-wide loader. Mainly useful for tests.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLoader = nil
}
