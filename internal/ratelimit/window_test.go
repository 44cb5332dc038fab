package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwyse/halo/internal/conf"
)

func TestWindowFor(t *testing.T) {
	var r conf.Rate
	require.NoError(t, r.Decode("3/24h"))

	w := WindowFor(r)
	assert.Equal(t, 24*time.Hour, w.Size)
	assert.Equal(t, 3, w.Limit)
}

func TestWindowAllow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Size: 24 * time.Hour, Limit: 3}

	ok, _ := w.Allow(nil, now)
	assert.True(t, ok)

	events := []time.Time{
		now.Add(-23 * time.Hour),
		now.Add(-2 * time.Hour),
	}
	ok, _ = w.Allow(events, now)
	assert.True(t, ok)

	events = append(events, now.Add(-time.Hour))
	ok, retryAfter := w.Allow(events, now)
	assert.False(t, ok)
	// the oldest in-window event slides out after one more hour
	assert.Equal(t, time.Hour, retryAfter)
}

func TestWindowAllowIgnoresExpiredEvents(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Size: 24 * time.Hour, Limit: 2}

	events := []time.Time{
		now.Add(-25 * time.Hour),
		now.Add(-30 * time.Hour),
		now.Add(-time.Hour),
	}
	ok, _ := w.Allow(events, now)
	assert.True(t, ok)
}
