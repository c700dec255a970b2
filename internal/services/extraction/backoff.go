package extraction

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays as base*2^attempt plus random jitter, capped at Max.
// The jitter window never exceeds base*2^attempt, so delays are non-decreasing in attempt
// whatever the random source returns.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	// Rand returns a value in [0, n). Defaults to math/rand.
	Rand func(n int64) int64
}

// Delay returns the wait before retry number attempt (0-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if b.Base <= 0 {
		return 0
	}

	exp := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && exp >= b.Max {
			return b.Max
		}
		exp *= 2
	}

	delay := exp
	window := b.Jitter
	if window > exp {
		window = exp
	}
	if window > 0 {
		random := b.Rand
		if random == nil {
			random = rand.Int63n
		}
		delay += time.Duration(random(int64(window)))
	}

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// sleep waits for d or until ctx is done, reporting false on cancellation
func sleep(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
		return true
	}
}
