package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// instantTimer records requested waits and fires immediately.
type instantTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func newTestRetrier() (*Retrier, *instantTimer) {
	tm := &instantTimer{}
	r := New(3, time.Second)
	r.newTimer = func() backoff.Timer { return tm }
	return r, tm
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	r, tm := newTestRetrier()
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
	if len(tm.waits) != 2 || tm.waits[0] != time.Second || tm.waits[1] != 2*time.Second {
		t.Fatalf("waits = %v; want [1s 2s]", tm.waits)
	}
	if r.Retries() != 2 {
		t.Fatalf("Retries = %d; want 2", r.Retries())
	}
}

type kindErr struct{ msg string }

func (e *kindErr) Error() string { return e.msg }

func TestDo_ExhaustedReturnsLastErrorUnchanged(t *testing.T) {
	r, tm := newTestRetrier()
	calls := 0
	var last error
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		last = &kindErr{msg: "boom"}
		return last
	})
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
	if err != last {
		t.Fatalf("err = %v; want the last error instance", err)
	}
	var ke *kindErr
	if !errors.As(err, &ke) || ke.msg != "boom" {
		t.Fatalf("error kind not preserved: %T %v", err, err)
	}
	if len(tm.waits) != 2 || tm.waits[0] != time.Second || tm.waits[1] != 2*time.Second {
		t.Fatalf("waits = %v; want [1s 2s]", tm.waits)
	}
}

func TestDo_FirstSuccessDoesNotWait(t *testing.T) {
	r, tm := newTestRetrier()
	if err := r.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(tm.waits) != 0 || r.Retries() != 0 {
		t.Fatalf("unexpected waits=%v retries=%d", tm.waits, r.Retries())
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	r, _ := newTestRetrier()
	sentinel := errors.New("bad input")
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v; want sentinel", err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	r, _ := newTestRetrier()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("calls = %d; want 1 after cancel", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}

func TestRetries_AccumulateAndReset(t *testing.T) {
	r, _ := newTestRetrier()
	fail := func(context.Context) error { return errors.New("x") }

	_ = r.Do(context.Background(), fail)
	_ = r.Do(context.Background(), fail)
	if r.Retries() != 4 {
		t.Fatalf("Retries = %d; want 4", r.Retries())
	}
	r.Reset()
	if r.Retries() != 0 {
		t.Fatalf("Retries after Reset = %d", r.Retries())
	}

	// Each Do has its own attempt budget regardless of the running total.
	calls := 0
	_ = r.Do(context.Background(), func(context.Context) error { calls++; return errors.New("x") })
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}

func TestValue_ReturnsResult(t *testing.T) {
	r, _ := newTestRetrier()
	n := 0
	got, err := Value(context.Background(), r, func(context.Context) (string, error) {
		n++
		if n == 1 {
			return "", errors.New("once")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Value = %q, %v", got, err)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(0, 0)
	if r.MaxAttempts != DefaultMaxAttempts || r.BaseDelay != DefaultBaseDelay {
		t.Fatalf("defaults not applied: %+v", r)
	}
}
