package limiter

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
)

// ErrClosed is returned for work scheduled on, or still queued in, a closed
// Limiter.
var ErrClosed = errors.New(errors.PhaseEngine, errors.KindDisposed).Detail("limiter closed").Build()

// Work is one unit of work. The context is never cancelled by the Limiter;
// a started unit always runs to completion.
type Work func(ctx context.Context) error

type task struct {
	work Work
	done chan error
}

// Limiter runs at most one unit of work at a time. When several units are
// waiting, only the newest one runs; the others complete with a nil error
// without running.
type Limiter struct {
	log      *zap.Logger
	queue    []*task
	mu       sync.Mutex
	draining bool
	closed   bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for superseded and failed units.
func WithLogger(l *zap.Logger) Option {
	return func(lim *Limiter) {
		lim.log = l
	}
}

// New creates an idle Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schedule queues work. The returned channel receives exactly one value:
// the error returned by work, nil if work was superseded, or ErrClosed.
func (l *Limiter) Schedule(work Work) <-chan error {
	t := &task{work: work, done: make(chan error, 1)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		t.done <- ErrClosed
		return t.done
	}
	l.queue = append(l.queue, t)
	start := !l.draining
	l.draining = true
	l.mu.Unlock()

	if start {
		go l.drain()
	}
	return t.done
}

func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		superseded := len(l.queue) > 0
		closed := l.closed
		l.mu.Unlock()

		switch {
		case closed:
			t.done <- ErrClosed
		case superseded:
			l.log.Debug("limiter: unit superseded", zap.Int("queued", len(l.queue)))
			t.done <- nil
		default:
			err := run(t.work)
			if err != nil {
				l.log.Debug("limiter: unit failed", zap.Error(err))
			}
			t.done <- err
		}
	}
}

// run executes work, turning a panic into an error so it only affects the
// unit that raised it.
func run(work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("limiter: work panicked: %v", r)
		}
	}()
	return work(context.Background())
}

// Close stops the Limiter from starting further units. A unit already
// running is not interrupted; queued units complete with ErrClosed.
func (l *Limiter) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
