package pool

import "time"

// Backoff returns the delay before reconnect attempt n (zero-based):
// min(base * 2^n, max).
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := base
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
