package sync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a settable Clock for deterministic timing tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestCalibrator_Adjust(t *testing.T) {
	t.Parallel()

	local := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	server := local.Add(5 * time.Second)

	clock := newFakeClock(local)
	cal := NewCalibrator(clock, server)

	assert.Equal(t, local.Add(5*time.Second), cal.Adjust(local))
}

func TestCalibrator_Now(t *testing.T) {
	t.Parallel()

	local := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	server := local.Add(-2 * time.Second)

	clock := newFakeClock(local)
	cal := NewCalibrator(clock, server)

	assert.Equal(t, local.Add(-2*time.Second), cal.Now())
}

func TestCalibrator_IsFutureDated(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	cal := NewCalibrator(clock, now) // zero offset

	assert.False(t, cal.IsFutureDated(now.Add(30*time.Second)))
	assert.True(t, cal.IsFutureDated(now.Add(2*time.Minute)))
}

func TestCalibrator_LocalNewer(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	cal := NewCalibrator(clock, now)

	serverTime := now.Add(-ClockSkewBuffer - time.Second)
	assert.True(t, cal.LocalNewer(now, serverTime))

	withinBuffer := now.Add(-ClockSkewBuffer + time.Second)
	assert.False(t, cal.LocalNewer(now, withinBuffer))
}

func TestNewCalibrator_NilClockDefaultsToReal(t *testing.T) {
	t.Parallel()

	cal := NewCalibrator(nil, time.Now())
	assert.NotNil(t, cal)
}
