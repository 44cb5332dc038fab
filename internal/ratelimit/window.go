package ratelimit

import (
	"time"

	"github.com/clanwyse/halo/internal/conf"
)

// Window is a sliding-window limit evaluated against persisted event
// timestamps. Unlike Limiter it carries no state of its own: the governance
// layer stores event times in the repository and replays them here, so the
// limit survives restarts and is enforced within each clan's serialised
// section.
type Window struct {
	Size  time.Duration
	Limit int
}

// WindowFor builds a Window from a configured rate.
func WindowFor(r conf.Rate) Window {
	return Window{Size: r.OverTime, Limit: int(r.Events)}
}

// Cutoff returns the start of the window ending at the given time.
func (w Window) Cutoff(at time.Time) time.Time {
	return at.Add(-w.Size)
}

// Allow reports whether one more event fits given the events already inside
// the window. When it does not, retryAfter is how long until the oldest
// in-window event slides out.
func (w Window) Allow(events []time.Time, at time.Time) (ok bool, retryAfter time.Duration) {
	cutoff := w.Cutoff(at)
	var oldest time.Time
	n := 0
	for _, e := range events {
		if !e.After(cutoff) {
			continue
		}
		if n == 0 || e.Before(oldest) {
			oldest = e
		}
		n++
	}
	if n < w.Limit {
		return true, 0
	}
	return false, oldest.Add(w.Size).Sub(at)
}
