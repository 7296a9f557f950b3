package transport

import (
	"context"
	"math"
	"time"
)

const monitorBaseDelay = 50 * time.Millisecond

// monitorMaxN resolves the Open Question of spec.md §4.8: maxN is the
// largest exponent such that base*2^maxN does not exceed upperBound,
// i.e. floor(log2(upperBound/base)).
func monitorMaxN(upperBound time.Duration) int {
	if upperBound <= monitorBaseDelay {
		return 0
	}
	return int(math.Floor(math.Log2(float64(upperBound) / float64(monitorBaseDelay))))
}

// Monitor is the exponentially backed-off reachability probe of spec.md
// §4.8: sleep initial, then loop `delay = 2^min(n,maxN) * 50ms; sleep
// delay; ping; on success emit HostUp and exit; on failure n++`. It is
// designed to run as a JobsRegistry task, keyed by the host's address, so
// a subsequent Up event or monitor reschedule (replace=true) cancels it
// via ctx.
func Monitor(ctx context.Context, addr InetAddr, initial, upperBound time.Duration, ping func() error, onUp func()) {
	if err := sleepCtx(ctx, initial); err != nil {
		return
	}

	maxN := monitorMaxN(upperBound)
	for n := 0; ; n++ {
		exp := n
		if exp > maxN {
			exp = maxN
		}
		delay := monitorBaseDelay * time.Duration(int64(1)<<uint(exp))

		if err := sleepCtx(ctx, delay); err != nil {
			return
		}

		if ctx.Err() != nil {
			return
		}
		if err := ping(); err == nil {
			onUp()
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
