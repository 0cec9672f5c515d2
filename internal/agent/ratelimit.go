package agent

import (
	"context"

	"golang.org/x/time/rate"
)

const (
	defaultRateBurst     = 5
	defaultRatePerMinute = 30.0
)

// RateLimiter is a token bucket for throttling decision-service calls.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = defaultRateBurst
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), maxBurst)}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

func (rl *RateLimiter) Burst() int { return rl.limiter.Burst() }

// PerMinute reports the refill rate.
func (rl *RateLimiter) PerMinute() float64 { return float64(rl.limiter.Limit()) * 60 }
