package blockstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/metrics"
)

// RetryPolicy configures the capped exponential backoff applied to
// transient StoreUnavailable failures (spec §4.1, §7).
type RetryPolicy struct {
	MaxAttempts   int
	BaseBackoffMS int
}

// DefaultRetryPolicy matches the config defaults in spec §6.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseBackoffMS: 200}
}

// withRetry runs fn, retrying on StoreUnavailable errors with capped
// exponential backoff. NotFound/Conflict/Malformed are never retried.
// op names the RPC for the store-latency histogram and retry counter
// (spec §2 ambient metrics).
func withRetry(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(p.BaseBackoffMS) * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by MaxAttempts instead of wall-clock
	bctx := backoff.WithContext(b, ctx)

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreRequestDuration, op)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.StoreRetries.WithLabelValues(op).Inc()
		}
		err := fn()
		if err == nil {
			return nil
		}
		if kind, ok := arkeerr.KindOf(err); ok && kind == arkeerr.StoreUnavailable {
			if attempt >= p.MaxAttempts {
				return backoff.Permanent(err)
			}
			return err
		}
		return backoff.Permanent(err)
	}, bctx)
}
