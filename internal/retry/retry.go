// Package retry provides a bounded retry decorator for flaky external calls.
//
// A Retrier runs an operation up to MaxAttempts times. The wait before
// attempt n+1 is n*BaseDelay, so with the defaults (3 attempts, 1s) a
// failing call waits 1s and then 2s before the last error is returned
// unchanged. Each Do call owns its attempt counter; the Retrier only keeps a
// running total of retries for callers that want to observe or reset it.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Defaults applied when a Retrier is built with zero values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Retrier wraps operations with bounded, linearly increasing backoff.
// It is safe for concurrent use.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// newTimer is nil in production; tests swap in a timer that fires at once.
	newTimer func() backoff.Timer

	mu      sync.Mutex
	retries int
}

// New returns a Retrier. Non-positive arguments fall back to the defaults.
func New(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Retrier{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err
// immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached. The last error from op is returned as is.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	step := r.BaseDelay
	if step <= 0 {
		step = DefaultBaseDelay
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linear{step: step}, uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	notify := func(err error, wait time.Duration) {
		r.mu.Lock()
		r.retries++
		r.mu.Unlock()
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying failed call")
	}

	var t backoff.Timer
	if r.newTimer != nil {
		t = r.newTimer()
	}
	return backoff.RetryNotifyWithTimer(func() error {
		attempt++
		return op(ctx)
	}, b, notify, t)
}

// Retries reports how many retries have been scheduled since the last Reset.
func (r *Retrier) Retries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

// Reset clears the accumulated retry count. Use it between unrelated
// operations that share one Retrier.
func (r *Retrier) Reset() {
	r.mu.Lock()
	r.retries = 0
	r.mu.Unlock()
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// linear is a backoff.BackOff yielding step, 2*step, 3*step, ...
type linear struct {
	step time.Duration
	n    int64
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linear) Reset() { l.n = 0 }
