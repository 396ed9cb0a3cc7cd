package realtime

import (
	"math"
	"math/rand"
	"time"

	retry "github.com/sethvargo/go-retry"
)

// Schedule is the reconnect delay policy.
type Schedule struct {
	// Base is the delay before the first reconnect attempt. It doubles per attempt.
	Base time.Duration
	// Max caps every delay, jitter included.
	Max time.Duration
	// Jitter is the upper bound of the random delay added to each step.
	Jitter time.Duration
	// Attempts bounds the reconnect attempts before the client goes offline.
	Attempts int
}

const (
	defaultBase     = time.Second
	defaultMax      = 30 * time.Second
	defaultJitter   = time.Second
	defaultAttempts = 10
)

func (s Schedule) withDefaults() Schedule {
	if s.Base <= 0 {
		s.Base = defaultBase
	}
	if s.Max <= 0 {
		s.Max = defaultMax
	}
	if s.Jitter < 0 {
		s.Jitter = 0
	}
	if s.Attempts <= 0 {
		s.Attempts = defaultAttempts
	}
	return s
}

// Backoff returns a fresh schedule: the delay before attempt k is
// 2^(k-1)*Base plus a uniform jitter in [0, Jitter], capped at Max, and the
// schedule stops after Attempts delays.
func (s Schedule) Backoff() retry.Backoff {
	return s.backoff(rand.Int63n)
}

func (s Schedule) backoff(random func(int64) int64) retry.Backoff {
	s = s.withDefaults()
	b := retry.NewExponential(s.Base)
	b = retry.WithMaxRetries(uint64(s.Attempts), b)
	b = withPositiveJitter(s.Jitter, random, b)
	return retry.WithCappedDuration(s.Max, b)
}

// withPositiveJitter adds a random duration in [0, j] so no delay drops below
// its exponential step.
func withPositiveJitter(j time.Duration, random func(int64) int64, next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		if j > 0 && d <= math.MaxInt64-j {
			d += time.Duration(random(int64(j) + 1))
		}
		return d, false
	})
}
