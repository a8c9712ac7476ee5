package xrail

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xlog"
)

// DefaultHaltTimeout bounds how long Halt waits for a worker to return.
const DefaultHaltTimeout = 3 * time.Second

// Producer is a background source of messages for one generation.
type Producer interface {
	Name() string
	Start(ctx context.Context) error
	Halt() error
}

// Worker runs one function on its own goroutine with explicit start and
// cancel signalling. Producers own a Worker rather than extending one.
type Worker struct {
	name      string
	run       func(ctx context.Context) error
	interrupt func()
	grace     time.Duration
	logger    *xlog.Logger
	clock     Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithHaltTimeout sets the grace period Halt waits for.
func WithHaltTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.grace = d
		}
	}
}

// WithInterrupt registers fn to be called by Halt after cancellation, for
// run functions that block in calls a context cannot reach.
func WithInterrupt(fn func()) WorkerOption {
	return func(w *Worker) { w.interrupt = fn }
}

// WithWorkerClock sets the clock producers stamp their messages with.
func WithWorkerClock(c Clock) WorkerOption {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

func WithWorkerLogger(l *xlog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker returns a stopped worker that will execute run.
func NewWorker(name string, run func(ctx context.Context) error, opts ...WorkerOption) *Worker {
	w := &Worker{
		name:   name,
		run:    run,
		grace:  DefaultHaltTimeout,
		logger: xlog.Default(),
		clock:  defaultClock(),
	}
	for _, o := range opts {
		if o != nil {
			o(w)
		}
	}
	return w
}

func (w *Worker) Name() string { return w.name }

// Start launches the worker. Calling Start on a running worker fails.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			return ErrWorkerRunning
		}
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done, w.err = cancel, done, nil

	go func() {
		defer close(done)
		err := w.run(wctx)
		if err != nil && wctx.Err() == nil {
			w.logger.Error().Err(err).Str("worker", w.name).Msg("xrail: worker exited")
		}
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
	w.logger.Debug().Str("worker", w.name).Msg("xrail: worker started")
	return nil
}

// Halt cancels the worker and waits up to the grace period for it to return.
// It returns ErrHaltTimeout if the worker is still running afterwards.
func (w *Worker) Halt() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	if w.interrupt != nil {
		w.interrupt()
	}

	t := time.NewTimer(w.grace)
	defer t.Stop()
	select {
	case <-done:
		w.logger.Debug().Str("worker", w.name).Msg("xrail: worker stopped")
		return nil
	case <-t.C:
		w.logger.Warn().Str("worker", w.name).Dur("grace", w.grace).Msg("xrail: worker did not stop in time")
		return ErrHaltTimeout
	}
}

// Running reports whether the worker goroutine is alive.
func (w *Worker) Running() bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Err returns what the last run returned.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Ticker is a Producer calling fn every interval until halted.
type Ticker struct {
	*Worker
	interval time.Duration
}

// NewTicker returns a periodic producer; fn runs on the worker goroutine.
func NewTicker(name string, interval time.Duration, fn func(ctx context.Context), opts ...WorkerOption) *Ticker {
	t := &Ticker{interval: interval}
	t.Worker = NewWorker(name, func(ctx context.Context) error {
		tk := time.NewTicker(t.interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tk.C:
				fn(ctx)
			}
		}
	}, opts...)
	return t
}

func (t *Ticker) Interval() time.Duration { return t.interval }
