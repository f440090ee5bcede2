package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func TestNextStamp(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, t0.Add(time.Second), NextStamp(fixedClock(t0.Add(time.Second)), t0))
	assert.Equal(t, t0.Add(time.Microsecond), NextStamp(fixedClock(t0), t0))
	assert.Equal(t, t0.Add(time.Microsecond), NextStamp(fixedClock(t0.Add(-time.Hour)), t0))
	assert.Equal(t, t0, NextStamp(fixedClock(t0.Add(999*time.Nanosecond)), time.Time{}))
}

func TestSystemClockMatchesStoredPrecision(t *testing.T) {
	now := SystemClock{}.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Equal(t, now.Truncate(time.Microsecond), now)
}
