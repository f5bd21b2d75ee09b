package core

import "time"

// Clock measures seconds elapsed since Start.
type Clock struct {
	start   time.Time
	elapsed time.Duration
	now     func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Update refreshes the elapsed time. Should be called just before reading Elapsed.
// Has no effect on non-started clocks.
func (c *Clock) Update() {
	if !c.start.IsZero() {
		c.elapsed = c.now().Sub(c.start)
	}
}

// Start resets the elapsed time.
func (c *Clock) Start() {
	c.start = c.now()
	c.elapsed = 0
}

// Stop does not reset the elapsed time.
func (c *Clock) Stop() {
	c.start = time.Time{}
}

// Elapsed returns seconds.
func (c *Clock) Elapsed() float64 {
	return c.elapsed.Seconds()
}
