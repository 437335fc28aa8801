package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/daybridge/daybridge/internal/model"
)

// fakeAdapter returns canned errors per call, counting attempts.
type fakeAdapter struct {
	errs  []error
	calls int
}

func (f *fakeAdapter) System() string { return "fake" }

func (f *fakeAdapter) next() error {
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

func (f *fakeAdapter) FetchChanges(ctx context.Context, since Cursor) ([]RemoteRecord, Cursor, error) {
	return nil, since, f.next()
}
func (f *fakeAdapter) Create(ctx context.Context, p model.Payload) (string, error) {
	return "x-1", f.next()
}
func (f *fakeAdapter) Update(ctx context.Context, externalID string, p model.Payload) error {
	return f.next()
}
func (f *fakeAdapter) Delete(ctx context.Context, externalID string) error {
	return f.next()
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrierRetriesTransient(t *testing.T) {
	inner := &fakeAdapter{errs: []error{
		&TransientError{Op: "update", Err: errors.New("busy")},
		&TransientError{Op: "update", Err: errors.New("busy")},
	}}
	r := NewRetrier(inner, fastPolicy(4), nil)

	if err := r.Update(context.Background(), "x-1", model.Payload{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", inner.calls)
	}
}

func TestRetrierExhaustsTransient(t *testing.T) {
	busy := &TransientError{Op: "update", Err: errors.New("busy")}
	inner := &fakeAdapter{errs: []error{busy, busy, busy, busy, busy}}
	r := NewRetrier(inner, fastPolicy(3), nil)

	err := r.Update(context.Background(), "x-1", model.Payload{})
	if !IsTransient(err) {
		t.Fatalf("err = %v, want the last transient error", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want exactly MaxAttempts", inner.calls)
	}
}

func TestRetrierPassesThroughNonTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"not found", &NotFoundError{ExternalID: "x-1"}},
		{"permanent", &PermanentError{Op: "update", Err: errors.New("denied")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inner := &fakeAdapter{errs: []error{tc.err}}
			r := NewRetrier(inner, fastPolicy(4), nil)

			err := r.Update(context.Background(), "x-1", model.Payload{})
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v unmodified", err, tc.err)
			}
			if inner.calls != 1 {
				t.Errorf("calls = %d, non-transient errors must not retry", inner.calls)
			}
		})
	}
}

func TestRetrierHonorsContext(t *testing.T) {
	busy := &TransientError{Op: "fetch", Err: errors.New("busy")}
	inner := &fakeAdapter{errs: []error{busy, busy, busy, busy}}
	r := NewRetrier(inner, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := r.FetchChanges(ctx, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded from the backoff sleep", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 before the canceled sleep", inner.calls)
	}
}

func TestRetryPolicyDelayGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.delay(attempt)
		if d < prev {
			t.Errorf("delay(%d) = %v shrank from %v", attempt, d, prev)
		}
		if d > p.MaxDelay {
			t.Errorf("delay(%d) = %v exceeds cap %v", attempt, d, p.MaxDelay)
		}
		prev = d
	}
	if got := p.delay(6); got != p.MaxDelay {
		t.Errorf("delay(6) = %v, want cap %v", got, p.MaxDelay)
	}
}

func TestErrorTaxonomyWrapped(t *testing.T) {
	wrapped := errors.New("outer")
	err := error(&TransientError{Op: "fetch", Err: wrapped})
	if !IsTransient(err) || IsPermanent(err) || IsNotFound(err) {
		t.Error("transient classification wrong")
	}
	if !errors.Is(err, wrapped) {
		t.Error("Unwrap lost the cause")
	}
}
