package agents

import (
	"github.com/talgya/townsfolk/internal/world"
)

// Snapshot is a read-only view of an agent for the HUD and tooling.
type Snapshot struct {
	ID        AgentID      `json:"id"`
	Name      string       `json:"name"`
	State     State        `json:"state"`
	Mode      Mode         `json:"mode"`
	Zone      world.ZoneID `json:"zone"`
	Trading   bool         `json:"trading"`
	Position  world.Vec2   `json:"position"`
	Facing    world.Vec2   `json:"facing"`
	Velocity  float64      `json:"velocity"`
	Need      float64      `json:"need"`
	NeedRatio float64      `json:"need_ratio"`
	Flags     Flags        `json:"flags"`
	Frozen    bool         `json:"frozen"`
	Target    *ResourceID  `json:"target,omitempty"`
	Current   *ResourceID  `json:"current,omitempty"`
	QueuedAt  *ResourceID  `json:"queued_at,omitempty"`
	Partner   *AgentID     `json:"partner,omitempty"`
	PathP     *float64     `json:"path_p,omitempty"`
}

// Snapshot captures the agent's current state and need ratio.
func (a *Agent) Snapshot() Snapshot {
	s := Snapshot{
		ID:        a.ID,
		Name:      a.Name,
		State:     a.state,
		Mode:      a.Mode,
		Zone:      a.Zone,
		Trading:   a.Caps.Has(CapTrading),
		Facing:    a.facing,
		Need:      a.needs.Level(),
		NeedRatio: a.needs.Ratio(),
		Flags:     a.flags,
		Frozen:    a.frozen,
	}
	if a.spawned {
		s.Position = a.Position()
		s.Velocity = a.Velocity()
	}
	if r := a.needs.target; r != nil {
		id := r.ID
		s.Target = &id
	}
	if r := a.needs.current; r != nil {
		id := r.ID
		s.Current = &id
	}
	if r := a.queuedAt; r != nil {
		id := r.ID
		s.QueuedAt = &id
	}
	if a.partner != nil {
		id := a.partner.ID
		s.Partner = &id
	}
	if a.path != nil {
		p := a.path.P
		s.PathP = &p
	}
	return s
}
