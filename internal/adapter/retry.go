package adapter

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/daybridge/daybridge/internal/model"
)

// RetryPolicy configures exponential backoff for transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter widens each delay by up to ±Jitter fraction (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryPolicy matches the pacing the scripting bridge tolerates.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Retrier wraps an Adapter with retry-on-transient and a shared rate
// limiter, so concurrent workers cannot overwhelm the bridge. Permanent
// and not-found errors pass through untouched.
type Retrier struct {
	inner   Adapter
	policy  RetryPolicy
	limiter *rate.Limiter
}

// NewRetrier wraps inner. A nil limiter disables rate limiting.
func NewRetrier(inner Adapter, policy RetryPolicy, limiter *rate.Limiter) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Retrier{inner: inner, policy: policy, limiter: limiter}
}

func (r *Retrier) System() string { return r.inner.System() }

func (r *Retrier) FetchChanges(ctx context.Context, since Cursor) ([]RemoteRecord, Cursor, error) {
	var records []RemoteRecord
	var next Cursor
	err := r.do(ctx, func() error {
		var err error
		records, next, err = r.inner.FetchChanges(ctx, since)
		return err
	})
	return records, next, err
}

func (r *Retrier) Create(ctx context.Context, p model.Payload) (string, error) {
	var id string
	err := r.do(ctx, func() error {
		var err error
		id, err = r.inner.Create(ctx, p)
		return err
	})
	return id, err
}

func (r *Retrier) Update(ctx context.Context, externalID string, p model.Payload) error {
	return r.do(ctx, func() error {
		return r.inner.Update(ctx, externalID, p)
	})
}

func (r *Retrier) Delete(ctx context.Context, externalID string) error {
	return r.do(ctx, func() error {
		return r.inner.Delete(ctx, externalID)
	})
}

func (r *Retrier) do(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		lastErr = call()
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, r.policy.delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
