package xrail

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/trickstertwo/xlog"
)

// HandleFunc is the shape the loop invokes handlers through.
type HandleFunc func(ctx context.Context, msg *Message) error

// Middleware decorates a HandleFunc.
type Middleware func(next HandleFunc) HandleFunc

// PanicError is what Recovery turns a handler panic into. It is never
// recoverable: the generation is rebuilt.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic recovered: %v", e.Value) }

// Recovery converts handler panics into errors so the loop survives them.
func Recovery() Middleware {
	return func(next HandleFunc) HandleFunc {
		return func(ctx context.Context, msg *Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Logging logs every handled message at debug level with its duration.
func Logging(logger *xlog.Logger) Middleware {
	return func(next HandleFunc) HandleFunc {
		if logger == nil {
			return next
		}
		return func(ctx context.Context, msg *Message) error {
			start := time.Now()
			err := next(ctx, msg)
			ev := logger.Debug().
				Str("kind", msg.Kind().String()).
				Str("origin", msg.Origin().String()).
				Dur("took", time.Since(start))
			if err != nil {
				ev = ev.Err(err)
			}
			ev.Msg("xrail: handled")
			return err
		}
	}
}

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxAttempts counts the first execution too.
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	// RetryIf selects retryable errors. Nil retries database errors only.
	RetryIf func(err error) bool
	Jitter  time.Duration
}

// Retry re-runs a handler on transient failures. It sleeps on the loop
// goroutine, so keep MaxAttempts and Backoff small.
func Retry(cfg RetryConfig) Middleware {
	return func(next HandleFunc) HandleFunc {
		attempts := cfg.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
		shouldRetry := cfg.RetryIf
		if shouldRetry == nil {
			shouldRetry = func(err error) bool {
				var de *DatabaseError
				return errors.As(err, &de)
			}
		}
		return func(ctx context.Context, msg *Message) error {
			var lastErr error
			for i := 1; i <= attempts; i++ {
				lastErr = next(ctx, msg)
				if lastErr == nil || ctx.Err() != nil {
					return lastErr
				}
				if i == attempts || !shouldRetry(lastErr) {
					return lastErr
				}
				if cfg.Backoff == nil {
					continue
				}
				wait := cfg.Backoff(i)
				if cfg.Jitter > 0 {
					wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
				}
				select {
				case <-ctx.Done():
					return lastErr
				case <-time.After(wait):
				}
			}
			return lastErr
		}
	}
}

// Chain wraps h so that mws[0] is the outermost layer.
func Chain(h HandleFunc, mws ...Middleware) HandleFunc {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
