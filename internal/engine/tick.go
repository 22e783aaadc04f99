// Package engine provides the tick-based simulation loop and the simulation
// registry that advances agents, resources and conversations each tick.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTicksPerHour is how often the periodic callback fires by default.
const DefaultTicksPerHour = 60

// Engine drives the simulation forward.
type Engine struct {
	Interval     time.Duration // Base tick interval at speed 1
	TicksPerHour uint64        // Ticks between OnHour callbacks

	// Callbacks populated during setup.
	OnTick func(tick uint64) // Every tick
	OnHour func(tick uint64) // Every TicksPerHour ticks

	tick    atomic.Uint64
	running atomic.Bool

	mu    sync.Mutex
	speed float64 // 1.0 = real-time, 0 = paused
	stop  chan struct{}
}

// NewEngine creates an engine ticking once per interval at speed 1.
func NewEngine(interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Engine{
		Interval:     interval,
		TicksPerHour: DefaultTicksPerHour,
		speed:        1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	if speed < 0 {
		speed = 0
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
}

// CurrentTick returns the last tick stepped.
func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

// SetTick sets the tick counter, e.g. to continue a journal run.
func (e *Engine) SetTick(tick uint64) { e.tick.Store(tick) }

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Run steps the simulation until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.CurrentTick(), "speed", e.Speed())

	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond
		start := time.Now()
		if speed > 0 {
			e.Step()
			wait = time.Duration(float64(e.Interval)/speed) - time.Since(start)
		}

		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", e.CurrentTick(), "reason", ctx.Err())
			return
		case <-stop:
			slog.Info("simulation engine stopped", "tick", e.CurrentTick())
			return
		case <-time.After(max(wait, 0)):
		}
	}
}

// Stop halts a running loop. Calling it when the loop is not running is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Step advances the simulation by one tick.
func (e *Engine) Step() {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		e.OnTick(tick)
	}
	if e.TicksPerHour > 0 && tick%e.TicksPerHour == 0 && e.OnHour != nil {
		e.OnHour(tick)
	}
}
