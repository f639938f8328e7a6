package queue

import "time"

// Backoff computes bounded exponential retry delays for failed batch sends.
type Backoff struct {
	// Base is the delay before the first retry (default 1s).
	Base time.Duration

	// Max caps the delay (default 30s).
	Max time.Duration
}

// DefaultBackoff returns min(1s * 2^retry, 30s) backoff.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before retry number retry (0-based).
func (b Backoff) Delay(retry int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if retry < 0 {
		retry = 0
	}

	d := base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
