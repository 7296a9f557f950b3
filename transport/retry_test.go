package transport

import (
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffRetryPolicyDoubles(t *testing.T) {
	t.Parallel()
	p := ExponentialBackoffRetryPolicy{MaxAttempts: 5, Base: 10 * time.Millisecond, Cap: time.Second}

	cases := []struct {
		attempt  int
		wantWait time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
	}
	for _, c := range cases {
		decision, delay := p.Decide(RetryInfo{Attempt: c.attempt, Error: errors.New("boom")})
		if decision != RetryNow {
			t.Fatalf("attempt %d: expected RetryNow", c.attempt)
		}
		if delay != c.wantWait {
			t.Fatalf("attempt %d: expected delay %v, got %v", c.attempt, c.wantWait, delay)
		}
	}
}

func TestExponentialBackoffRetryPolicyCapsDelay(t *testing.T) {
	t.Parallel()
	p := ExponentialBackoffRetryPolicy{MaxAttempts: 20, Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond}

	_, delay := p.Decide(RetryInfo{Attempt: 10})
	if delay != 50*time.Millisecond {
		t.Fatalf("expected delay capped at 50ms, got %v", delay)
	}
}

func TestExponentialBackoffRetryPolicyStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()
	p := ExponentialBackoffRetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Cap: time.Second}

	decision, _ := p.Decide(RetryInfo{Attempt: 1})
	if decision != RetryNow {
		t.Fatal("attempt 1 of 3 should still retry")
	}
	decision, _ = p.Decide(RetryInfo{Attempt: 2})
	if decision != DontRetry {
		t.Fatal("attempt 2 of 3 (i.e. the 3rd attempt) must not retry further")
	}
}
