package engine

import (
	"fmt"
	"math"
	"sync"
)

// SimClock is the simulation's time-of-day provider. Sim time advances by
// the tick's dt; DayLength time units make one 24-hour day.
type SimClock struct {
	mu        sync.RWMutex
	hour      float64
	day       uint64
	dayLength float64
}

// NewSimClock creates a clock starting at startHour on day 1.
func NewSimClock(startHour, dayLength float64) *SimClock {
	if dayLength <= 0 {
		dayLength = 1440
	}
	c := &SimClock{dayLength: dayLength, day: 1}
	c.hour = math.Mod(math.Max(startHour, 0), 24)
	return c
}

// Advance moves the clock forward by dt time units.
func (c *SimClock) Advance(dt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hour += dt * 24 / c.dayLength
	for c.hour >= 24 {
		c.hour -= 24
		c.day++
	}
}

// CurrentTimeOfDay returns the hour of day in [0,24).
func (c *SimClock) CurrentTimeOfDay() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hour
}

// Day returns the 1-based day counter.
func (c *SimClock) Day() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.day
}

// String renders the clock as "Day N, HH:MM".
func (c *SimClock) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SimTime(c.day, c.hour)
}

// SimTime returns a human-readable simulation time string.
func SimTime(day uint64, hour float64) string {
	h := int(hour)
	m := int((hour - float64(h)) * 60)
	return fmt.Sprintf("Day %d, %d:%02d", day, h, m)
}
