package engine

import (
	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/world"
)

// AgentFrame is what an animation, audio or HUD sink needs to render one agent.
type AgentFrame struct {
	ID        agents.AgentID `json:"id"`
	State     agents.State   `json:"state"`
	Flags     agents.Flags   `json:"flags"`
	Position  world.Vec2     `json:"position"`
	Facing    world.Vec2     `json:"facing"`
	Velocity  float64        `json:"velocity"`
	SpeedHint float64        `json:"speed_hint"`
	NeedRatio float64        `json:"need_ratio"`
}

// Frame is the per-tick presentation payload.
type Frame struct {
	Tick      uint64       `json:"tick"`
	TimeOfDay float64      `json:"time_of_day"`
	Agents    []AgentFrame `json:"agents"`
}

// PresentationSink receives a frame every tick. Present is called with the
// simulation locked and must not block.
type PresentationSink interface {
	Present(Frame)
}

// DialogueEngine is notified when agents start and stop talking. The
// simulation never reads anything back from it.
type DialogueEngine interface {
	TalkStarted(a, b agents.Snapshot)
	TalkEnded(a, b agents.Snapshot)
}

// Stepper advances a locomotion service after the agents have set their destinations.
type Stepper interface {
	Step(dt float64)
}

func (s *Simulation) frame(tick uint64) Frame {
	f := Frame{Tick: tick, Agents: make([]AgentFrame, 0, len(s.agents))}
	if s.clock != nil {
		f.TimeOfDay = s.clock.CurrentTimeOfDay()
	}
	for _, a := range s.agents {
		f.Agents = append(f.Agents, AgentFrame{
			ID:        a.ID,
			State:     a.State(),
			Flags:     a.Flags(),
			Position:  a.Position(),
			Facing:    a.Facing(),
			Velocity:  a.Velocity(),
			SpeedHint: a.SpeedHint(),
			NeedRatio: a.Needs().Ratio(),
		})
	}
	return f
}
