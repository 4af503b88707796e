// ABOUTME: Retry of adapter calls with capped exponential backoff and upward jitter.
// ABOUTME: Also computes the schedule backoff applied between failed runs.
package orchestrator

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/harperreed/healthsync/internal/metrics"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
)

// errAborted stops a run's remaining calls after a disconnect or auth failure.
var errAborted = errors.New("sync aborted")

// unknownErrorAttempts is the budget for unclassified failures: the call plus one retry.
const unknownErrorAttempts = 2

// RetryDelay returns the wait before retry number attempt (0-based) of a call that failed
// with err. The delay is base*2^attempt plus up to jitter of itself, capped at MaxDelay;
// a larger Retry-After hint wins over the cap.
func RetryDelay(cfg RetryConfig, attempt int, err error, random float64) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	d *= 1 + cfg.Jitter*random
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	delay := time.Duration(d)
	if after := syncerr.RetryAfterOf(err); after > delay {
		delay = after
	}
	return delay
}

// NextBackoff doubles the schedule backoff after a failed run, starting at Base and capped
// at Max.
func NextBackoff(cfg BackoffConfig, current time.Duration) time.Duration {
	if current <= 0 {
		return cfg.Base
	}
	next := current * 2
	if next > cfg.Max || next <= 0 {
		return cfg.Max
	}
	return next
}

func attemptBudget(cfg RetryConfig, kind syncerr.Kind) int {
	if kind == syncerr.UnknownError && cfg.MaxAttempts > unknownErrorAttempts {
		return unknownErrorAttempts
	}
	return cfg.MaxAttempts
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// call runs fn under the vendor limiter with a per-call timeout, retrying transient
// failures. It returns the number of attempts made.
func (o *Orchestrator) call(ctx context.Context, r *run, vendor models.Vendor, op string, fn func(context.Context) error) (int, error) {
	var prev time.Duration
	for attempt := 0; ; attempt++ {
		if r != nil && r.isAborted() {
			return attempt, errAborted
		}

		err := o.callOnce(ctx, vendor, fn)
		if err == nil {
			return attempt + 1, nil
		}
		kind := syncerr.KindOf(err)
		if ctx.Err() != nil {
			return attempt + 1, err
		}
		if !syncerr.IsTransient(kind) || attempt+1 >= attemptBudget(o.cfg.Retry, kind) {
			return attempt + 1, err
		}

		delay := RetryDelay(o.cfg.Retry, attempt, err, o.random())
		if delay < prev {
			delay = prev
		}
		prev = delay
		metrics.RetriesTotal.WithLabelValues(string(vendor), string(kind)).Inc()
		o.logger.Debug("retrying adapter call",
			zap.String("vendor", string(vendor)),
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := o.sleep(ctx, delay); err != nil {
			return attempt + 1, err
		}
	}
}

// callOnce runs fn once under the vendor limiter with the per-call timeout.
func (o *Orchestrator) callOnce(ctx context.Context, vendor models.Vendor, fn func(context.Context) error) error {
	release, err := o.limiter.Acquire(ctx, vendor)
	if err != nil {
		return err
	}
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := fn(callCtx); err != nil {
		metrics.AdapterCallsTotal.WithLabelValues(string(vendor), string(syncerr.KindOf(err))).Inc()
		return err
	}
	metrics.AdapterCallsTotal.WithLabelValues(string(vendor), "ok").Inc()
	return nil
}
