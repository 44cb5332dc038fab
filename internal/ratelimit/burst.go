package ratelimit

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/clanwyse/halo/internal/conf"
)

const defaultOverTime = time.Hour

// BurstLimiter wraps the golang.org/x/time/rate package.
type BurstLimiter struct {
	rl *rate.Limiter
}

// NewBurstLimiter returns a rate limiter configured using the given
// conf.Rate.
//
// The returned Limiter holds a token bucket of size r.Events refilled at a
// rate of 1 event per r.OverTime. For example:
//   - 1/10s  is 1 event per 10 seconds with burst of 1.
//   - 30/1m  is 1 event per minute with burst of 30.
func NewBurstLimiter(r conf.Rate) *BurstLimiter {
	d := r.OverTime
	if d <= 0 {
		d = defaultOverTime
	}

	e := r.Events
	if e <= 0 {
		e = 0
	}

	return &BurstLimiter{
		rl: rate.NewLimiter(rate.Every(d), int(e)),
	}
}

// Allow implements Limiter by calling AllowAt with the current time.
func (l *BurstLimiter) Allow() bool {
	return l.AllowAt(time.Now())
}

// AllowAt implements Limiter by calling the underlying x/time/rate.Limiter
// with the given time.
func (l *BurstLimiter) AllowAt(at time.Time) bool {
	return l.rl.AllowN(at, 1)
}
