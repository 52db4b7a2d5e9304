package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetry_4xxAbortsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), testLogger())
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}

	_, err := Retry(context.Background(), policy, func(ctx context.Context) ([]byte, error) {
		return c.Send(ctx, testPayload(false))
	})

	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", calls.Load())
	}
}

func TestRetry_RecoversAfter5xxWithLinearBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), testLogger())
	base := 20 * time.Millisecond
	var delays []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   base,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			delays = append(delays, delay)
		},
	}

	start := time.Now()
	body, err := Retry(context.Background(), policy, func(ctx context.Context) ([]byte, error) {
		return c.Send(ctx, testPayload(false))
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body %s", body)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 upstream calls, got %d", calls.Load())
	}
	if elapsed < 3*base {
		t.Errorf("expected at least %v of backoff, got %v", 3*base, elapsed)
	}
	if len(delays) != 2 || delays[0] != base || delays[1] != 2*base {
		t.Errorf("expected delays [%v %v], got %v", base, 2*base, delays)
	}
}

func TestRetry_ExhaustionReturnsLastError(t *testing.T) {
	orig := sleep
	sleep = func(context.Context, time.Duration) error { return nil }
	defer func() { sleep = orig }()

	var calls int
	_, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, func(ctx context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 500 + calls}
	})

	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != 503 {
		t.Fatalf("expected the last error (503), got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_NoSleepAfterLastAttempt(t *testing.T) {
	orig := sleep
	var slept []time.Duration
	sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	defer func() { sleep = orig }()

	Retry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, func(ctx context.Context) (int, error) {
		return 0, &TimeoutError{Op: "request", Err: context.DeadlineExceeded}
	})

	if len(slept) != 2 {
		t.Errorf("expected 2 sleeps for 3 attempts, got %v", slept)
	}
}

func TestRetry_UnknownErrorNotRetried(t *testing.T) {
	var calls int
	_, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrCircuitOpen
	})
	if !errors.Is(err, ErrCircuitOpen) || calls != 1 {
		t.Errorf("expected single call returning ErrCircuitOpen, got %d calls, err %v", calls, err)
	}
}

func TestRetry_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int

	start := time.Now()
	_, err := Retry(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, &TransportError{Op: "request", Err: errors.New("connection reset")}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Error("backoff sleep was not cut short by cancellation")
	}
}
