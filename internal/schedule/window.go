// Package schedule provides recurring time-of-day windows described by cron
// expressions, such as meal times and agents' active hours.
package schedule

import (
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"
)

// anchor is the date sim hours are projected onto. Only the minute and hour
// fields of an expression matter; day fields are evaluated against this date.
var anchor = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Window is active for Span after every activation of its cron expression.
type Window struct {
	Expr  string
	Span  time.Duration
	sched cron.Schedule
}

// Parse builds a window from a five-field cron expression and a span.
func Parse(expr string, span time.Duration) (*Window, error) {
	if span <= 0 {
		return nil, fmt.Errorf("schedule %q: span must be positive, got %s", expr, span)
	}
	if span > 24*time.Hour {
		return nil, fmt.Errorf("schedule %q: span %s is longer than a day", expr, span)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	return &Window{Expr: expr, Span: span, sched: sched}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string, span time.Duration) *Window {
	w, err := Parse(expr, span)
	if err != nil {
		panic(err)
	}
	return w
}

// Active reports whether hour (0..24) falls inside the window.
func (w *Window) Active(hour float64) bool {
	t := At(hour)
	next := w.sched.Next(t.Add(-w.Span))
	return !next.After(t)
}

// At projects an hour of day onto the anchor date.
func At(hour float64) time.Time {
	hour = math.Mod(hour, 24)
	if hour < 0 {
		hour += 24
	}
	return anchor.Add(time.Duration(hour * float64(time.Hour)))
}

// NextStart returns the hour of the next activation after hour.
func (w *Window) NextStart(hour float64) float64 {
	next := w.sched.Next(At(hour))
	return float64(next.Hour()) + float64(next.Minute())/60
}

func (w *Window) String() string {
	return fmt.Sprintf("%s for %s", w.Expr, w.Span)
}
