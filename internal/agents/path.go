package agents

import (
	"github.com/talgya/townsfolk/internal/world"
)

// PathFollower is the fixed-path locomotion sub-mode. It walks a normalized
// position back and forth along a zone's path, keeping to a lane on the side
// of the path that matches its direction.
type PathFollower struct {
	P       float64 // Normalized position along the path, 0..1
	Forward bool
	Offset  float64 // Lateral lane offset

	paused     bool
	memP       float64
	memForward bool
	resuming   bool // heading back to the raw path point, lane not yet applied
}

// NewPathFollower starts at the beginning of the path, heading forward.
func NewPathFollower(offset float64) *PathFollower {
	return &PathFollower{Forward: true, Offset: offset}
}

// Advance moves P by speed/length·dt in the current direction. Reaching
// either end clamps P and reverses direction.
func (f *PathFollower) Advance(speed, length, dt float64) {
	if length <= 0 || f.paused {
		return
	}
	step := speed / length * dt
	if f.Forward {
		f.P += step
		if f.P >= 1 {
			f.P = 1
			f.Forward = false
		}
		return
	}
	f.P -= step
	if f.P <= 0 {
		f.P = 0
		f.Forward = true
	}
}

// Pause memorizes the current position and direction. Pausing twice keeps the first memory.
func (f *PathFollower) Pause() {
	if f.paused {
		return
	}
	f.paused = true
	f.memP = f.P
	f.memForward = f.Forward
}

// Paused reports whether the follower is interrupted.
func (f *PathFollower) Paused() bool { return f.paused }

// Resume restores the memorized position and direction. Until the agent
// physically reaches that point again, Target omits the lane offset.
func (f *PathFollower) Resume() {
	if !f.paused {
		return
	}
	f.paused = false
	f.P = f.memP
	f.Forward = f.memForward
	f.resuming = true
}

// Rejoin makes the agent walk onto the path at P before lane keeping starts.
func (f *PathFollower) Rejoin() {
	f.resuming = true
}

// Resuming reports whether the follower is walking back onto the path.
func (f *PathFollower) Resuming() bool { return f.resuming }

// Target returns the physical point the agent should head for.
func (f *PathFollower) Target(area Area, zone world.ZoneID) (world.Vec2, bool) {
	if area == nil {
		return world.Vec2{}, false
	}
	pos, tangent, ok := area.EvaluatePath(zone, f.P)
	if !ok {
		return world.Vec2{}, false
	}
	if f.resuming {
		return pos, true
	}
	side := 1.0
	if !f.Forward {
		side = -1
	}
	return pos.Add(tangent.Normalize().Perp().Scale(f.Offset * side)), true
}
