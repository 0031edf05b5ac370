package scan

import "time"

// activeClock tracks how long a session has spent Active across
// pause/resume cycles. The zero value is ready to use. Not safe for
// concurrent use.
type activeClock struct {
	active      bool
	since       time.Time
	accumulated time.Duration
}

// set records an on/off transition at now.
func (c *activeClock) set(active bool, now time.Time) {
	if active == c.active {
		return
	}
	if active {
		c.since = now
	} else {
		c.accumulated += now.Sub(c.since)
	}
	c.active = active
}

// total returns the accumulated active time including the ongoing period.
func (c *activeClock) total(now time.Time) time.Duration {
	if c.active {
		return c.accumulated + now.Sub(c.since)
	}
	return c.accumulated
}
