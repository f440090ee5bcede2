package application

import "time"

// Clock is injected so services can be tested with fixed time.
type Clock interface {
	Now() time.Time
}

// SystemClock returns time.Now in UTC at microsecond precision, the
// precision records are stored with.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// NextStamp returns a timestamp strictly after prev at the microsecond
// precision records are stored with.
func NextStamp(c Clock, prev time.Time) time.Time {
	now := c.Now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}
