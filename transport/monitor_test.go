package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMonitorMaxN(t *testing.T) {
	t.Parallel()
	cases := []struct {
		upperBound time.Duration
		want       int
	}{
		{upperBound: 10 * time.Millisecond, want: 0},
		{upperBound: monitorBaseDelay, want: 0},
		{upperBound: monitorBaseDelay * 2, want: 1},
		{upperBound: monitorBaseDelay * 4, want: 2},
		{upperBound: monitorBaseDelay*4 + time.Millisecond, want: 2},
	}
	for _, c := range cases {
		if got := monitorMaxN(c.upperBound); got != c.want {
			t.Fatalf("monitorMaxN(%v) = %d, want %d", c.upperBound, got, c.want)
		}
	}
}

func TestMonitorSucceedsOnFirstPing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	upCalled := make(chan struct{})

	Monitor(ctx, InetAddr{IP: "10.0.0.1", Port: 9042}, time.Millisecond, time.Second,
		func() error { return nil },
		func() { close(upCalled) },
	)

	select {
	case <-upCalled:
	default:
		t.Fatal("onUp must be called when ping succeeds")
	}
}

func TestMonitorRetriesUntilPingSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	attempts := 0
	upCalled := make(chan struct{})

	Monitor(ctx, InetAddr{IP: "10.0.0.1", Port: 9042}, time.Millisecond, 20*time.Millisecond,
		func() error {
			attempts++
			if attempts < 3 {
				return errors.New("unreachable")
			}
			return nil
		},
		func() { close(upCalled) },
	)

	select {
	case <-upCalled:
	default:
		t.Fatal("onUp must eventually be called")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 ping attempts, got %d", attempts)
	}
}

func TestMonitorExitsOnContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pinged := false
	upCalled := false
	Monitor(ctx, InetAddr{IP: "10.0.0.1", Port: 9042}, time.Millisecond, time.Second,
		func() error { pinged = true; return nil },
		func() { upCalled = true },
	)

	if pinged || upCalled {
		t.Fatal("Monitor must return promptly on a cancelled context without pinging")
	}
}
