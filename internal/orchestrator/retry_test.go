package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: 0.5}
	plain := errors.New("x")

	tests := []struct {
		name    string
		attempt int
		err     error
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 0, plain, 0, time.Second},
		{"first attempt full jitter", 0, plain, 1, 1500 * time.Millisecond},
		{"third attempt", 2, plain, 0, 4 * time.Second},
		{"capped", 4, plain, 0, 10 * time.Second},
		{"retry-after wins over backoff", 0, syncerr.RateLimitedAfter("fetch", 30*time.Second), 0, 30 * time.Second},
		{"smaller retry-after ignored", 2, syncerr.RateLimitedAfter("fetch", time.Second), 0, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RetryDelay(cfg, tt.attempt, tt.err, tt.random)
			if got != tt.want {
				t.Errorf("RetryDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	cfg := BackoffConfig{Base: time.Minute, Max: 5 * time.Minute}

	tests := []struct {
		current time.Duration
		want    time.Duration
	}{
		{0, time.Minute},
		{time.Minute, 2 * time.Minute},
		{2 * time.Minute, 4 * time.Minute},
		{4 * time.Minute, 5 * time.Minute},
		{5 * time.Minute, 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := NextBackoff(cfg, tt.current); got != tt.want {
			t.Errorf("NextBackoff(%v) = %v, want %v", tt.current, got, tt.want)
		}
	}
}

func TestAttemptBudget(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4}
	assert.Equal(t, 4, attemptBudget(cfg, syncerr.NetworkError))
	assert.Equal(t, 4, attemptBudget(cfg, syncerr.RateLimited))
	assert.Equal(t, 2, attemptBudget(cfg, syncerr.UnknownError))
	assert.Equal(t, 1, attemptBudget(RetryConfig{MaxAttempts: 1}, syncerr.UnknownError))
}

func TestLimiterBoundsConcurrentCalls(t *testing.T) {
	l := NewLimiter(VendorLimits{MaxConcurrent: 2}, nil)
	ctx := context.Background()

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, models.VendorGarmin)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestLimiterHonoursCancellation(t *testing.T) {
	l := NewLimiter(VendorLimits{MaxConcurrent: 1}, nil)
	release, err := l.Acquire(context.Background(), models.VendorFitbit)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, models.VendorFitbit)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Retry: RetryConfig{Jitter: 3}}.withDefaults()
	d := DefaultConfig()
	assert.Equal(t, d.Workers, cfg.Workers)
	assert.Equal(t, d.Retry.MaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1.0, cfg.Retry.Jitter)
	assert.Equal(t, d.AlertAfterFailures, cfg.AlertAfterFailures)
}
