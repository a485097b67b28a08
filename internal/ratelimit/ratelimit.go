// Package ratelimit provides token-bucket admission control in front of
// engine calls, shared by every worker in the process.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket with capacity tokens refilled at refillRate
// tokens per second. The nil Limiter is the unconfigured case and admits
// everything immediately.
type Limiter struct {
	lim *rate.Limiter
}

// New builds a limiter, or returns nil when refillRate is not positive.
func New(refillRate float64, capacity int) *Limiter {
	if refillRate <= 0 {
		return nil
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(refillRate), capacity)}
}

// Acquire blocks until n tokens are available or ctx is done. Requests
// larger than the bucket are drawn down in bucket-sized chunks, so n may
// exceed capacity.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if l == nil || l.lim == nil || n <= 0 {
		return nil
	}
	for n > 0 {
		chunk := n
		if burst := l.lim.Burst(); chunk > burst {
			chunk = burst
		}
		if err := l.lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
