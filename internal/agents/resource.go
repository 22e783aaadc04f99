package agents

import (
	"errors"
	"fmt"

	"github.com/talgya/townsfolk/internal/world"
)

// ResourceID identifies a shared resource. IDs are issued in registration order.
type ResourceID uint32

// Kind is the capacity type of a shared resource.
type Kind uint8

const (
	KindSeat       Kind = iota // Single-occupant chair or bed
	KindStand                  // One user at a time, e.g. a food stand
	KindConsumable             // Used once, then respawns
)

func (k Kind) String() string {
	switch k {
	case KindStand:
		return "stand"
	case KindConsumable:
		return "consumable"
	default:
		return "seat"
	}
}

// MarshalText renders the kind name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind parses a capacity type name.
func ParseKind(raw string) (Kind, error) {
	switch raw {
	case "seat", "chair", "bed", "":
		return KindSeat, nil
	case "stand":
		return KindStand, nil
	case "consumable", "item":
		return KindConsumable, nil
	default:
		return KindSeat, fmt.Errorf("unknown resource kind %q", raw)
	}
}

// Admission errors.
var (
	ErrQueueFull     = errors.New("resource queue is full")
	ErrAlreadyQueued = errors.New("agent already holds a place at this resource")
	ErrWrongCategory = errors.New("agent does not need this resource")
	ErrUnavailable   = errors.New("resource is depleted")
)

// ResourceSpec describes a shared resource at zone setup.
type ResourceSpec struct {
	Name           string
	Category       Category
	Kind           Kind
	Position       world.Vec2
	Facing         world.Vec2   // Orientation; queue slots extend along it
	Zone           world.ZoneID // 0 makes the resource visible from every zone
	QueueLimit     int
	Duration       float64 // Minimum usage time
	Recovery       float64 // Need restored over one full Duration, on top of the agent's own recovery
	RespawnDelay   float64 // Consumables only
	OverstayFactor float64 // Multiple of Duration after which a satisfied-or-not occupant yields to a waiting queue
}

// SharedResource is a capacity-limited, location-bound object agents compete for.
// Only its own admission, service, and withdrawal methods mutate its queue and occupant.
type SharedResource struct {
	ID     ResourceID
	spec   ResourceSpec
	env    *Env
	params *Params

	queue          []*Agent // FIFO; when occupantQueued, queue[0] is the occupant
	occupant       *Agent
	occupantQueued bool
	usage          float64 // remaining usage timer
	used           float64 // time the occupant has spent in use
	respawn        float64 // remaining depletion time for consumables
}

// Name returns the resource's display name.
func (r *SharedResource) Name() string { return r.spec.Name }

// Category returns the need category the resource satisfies.
func (r *SharedResource) Category() Category { return r.spec.Category }

// Kind returns the capacity type.
func (r *SharedResource) Kind() Kind { return r.spec.Kind }

// Position returns the resource's location.
func (r *SharedResource) Position() world.Vec2 { return r.spec.Position }

// Spec returns the resource's setup parameters.
func (r *SharedResource) Spec() ResourceSpec { return r.spec }

// Occupant returns the agent using the resource, if any.
func (r *SharedResource) Occupant() *Agent { return r.occupant }

// QueueLen returns the number of places held in the queue.
func (r *SharedResource) QueueLen() int { return len(r.queue) }

// Waiting returns the agents waiting to use the resource, head first.
func (r *SharedResource) Waiting() []*Agent {
	return append([]*Agent(nil), r.waiting()...)
}

func (r *SharedResource) waiting() []*Agent {
	if r.occupantQueued {
		return r.queue[1:]
	}
	return r.queue
}

// Available reports whether the resource can be used; depleted consumables cannot.
func (r *SharedResource) Available() bool {
	return r.respawn <= 0
}

// VisibleFrom reports whether agents in zone can find the resource.
func (r *SharedResource) VisibleFrom(zone world.ZoneID) bool {
	return r.spec.Zone == 0 || r.spec.Zone == zone
}

func (r *SharedResource) facing() world.Vec2 {
	f := r.spec.Facing.Normalize()
	if f == (world.Vec2{}) {
		return world.Vec2{X: 0, Y: 1}
	}
	return f
}

// SlotPosition returns the marker for the i-th waiting place.
func (r *SharedResource) SlotPosition(i int) world.Vec2 {
	return r.spec.Position.Add(r.facing().Scale(r.params.SlotSpacing * float64(i+1)))
}

// ExitPoint returns where a released occupant is placed.
func (r *SharedResource) ExitPoint() world.Vec2 {
	return r.spec.Position.Add(r.facing().Perp().Scale(r.params.ExitDistance))
}

func (r *SharedResource) indexOf(a *Agent) int {
	for i, q := range r.queue {
		if q == a {
			return i
		}
	}
	return -1
}

// Admit runs the admission protocol for an agent that has reached the resource.
//
// An unused resource with an empty queue is granted at once. Otherwise the agent
// joins the tail of the queue if there is room. A full queue rejects the agent and
// blacklists the resource for it; the error is ErrQueueFull.
func (r *SharedResource) Admit(a *Agent) error {
	if r.occupant == a || r.indexOf(a) >= 0 {
		return ErrAlreadyQueued
	}
	if a.queuedAt != nil || a.needs.current != nil {
		panic(fmt.Sprintf("agent %d admitted to %q while holding a place at another resource", a.ID, r.spec.Name))
	}
	if a.seeking != r.spec.Category {
		return ErrWrongCategory
	}
	if !r.Available() {
		return ErrUnavailable
	}

	if r.occupant == nil && len(r.queue) == 0 {
		r.promote(a, false)
		return nil
	}

	if len(r.queue) < r.spec.QueueLimit {
		r.queue = append(r.queue, a)
		a.enterQueue(r)
		r.reslot()
		r.env.notify(Note{Kind: NoteAdmitted, Agent: a, Resource: r})
		return nil
	}

	a.needs.Blacklist(r, r.params.Need.Blacklist)
	r.env.notify(Note{Kind: NoteRejected, Agent: a, Resource: r})
	return ErrQueueFull
}

// Service runs once per tick: counts down timers, releases a finished occupant,
// then promotes the queue head into the free slot in the same call.
func (r *SharedResource) Service(dt float64) {
	if r.respawn > 0 {
		r.respawn -= dt
		if r.respawn <= 0 {
			r.respawn = 0
			r.env.notify(Note{Kind: NoteRespawned, Resource: r})
		}
	}

	if occ := r.occupant; occ != nil {
		r.usage -= dt
		r.used += dt
		if r.usage <= 0 && (occ.needs.Satisfied(r, r.env.Clock) || r.overstayed()) {
			r.release()
		}
	}

	if r.occupant == nil && len(r.queue) > 0 && r.Available() {
		r.promote(r.queue[0], true)
		r.reslot()
	}
}

func (r *SharedResource) overstayed() bool {
	if len(r.waiting()) == 0 || r.spec.OverstayFactor <= 0 {
		return false
	}
	return r.used >= r.spec.OverstayFactor*r.spec.Duration
}

func (r *SharedResource) promote(a *Agent, fromQueue bool) {
	r.occupant = a
	r.occupantQueued = fromQueue
	r.usage = r.spec.Duration
	r.used = 0
	a.beginUse(r)
	r.env.notify(Note{Kind: NotePromoted, Agent: a, Resource: r})
}

func (r *SharedResource) release() {
	occ := r.occupant
	if r.occupantQueued {
		r.queue = r.queue[1:]
	}
	r.occupant = nil
	r.occupantQueued = false
	r.usage = 0
	r.used = 0
	if r.spec.Kind == KindConsumable && r.spec.RespawnDelay > 0 {
		r.respawn = r.spec.RespawnDelay
	}
	occ.endUse(r)
	r.reslot()
	r.env.notify(Note{Kind: NoteReleased, Agent: occ, Resource: r})
}

// Withdraw removes a from the queue or the occupant slot without running the
// leave protocol. It reports whether a held a place here.
func (r *SharedResource) Withdraw(a *Agent) bool {
	i := r.indexOf(a)
	if r.occupant != a && i < 0 {
		return false
	}
	if r.occupant == a {
		r.occupant = nil
		r.occupantQueued = false
		r.usage = 0
		r.used = 0
		a.needs.current = nil
	}
	if i >= 0 {
		r.queue = append(r.queue[:i], r.queue[i+1:]...)
	}
	a.queuedAt = nil
	r.reslot()
	r.env.notify(Note{Kind: NoteWithdrawn, Agent: a, Resource: r})
	return true
}

// reslot hands every waiting agent its slot marker and a movement priority that
// rises toward the head of the queue.
func (r *SharedResource) reslot() {
	waiting := r.waiting()
	for i, a := range waiting {
		a.assignSlot(i, r.SlotPosition(i), len(waiting)-i)
	}
}

// ResourceSnapshot is a read-only view of a resource for tools and the HUD.
type ResourceSnapshot struct {
	ID         ResourceID `json:"id"`
	Name       string     `json:"name"`
	Category   Category   `json:"category"`
	Kind       Kind       `json:"kind"`
	Position   world.Vec2 `json:"position"`
	Occupant   *AgentID   `json:"occupant,omitempty"`
	Queue      []AgentID  `json:"queue"`
	QueueLimit int        `json:"queue_limit"`
	Available  bool       `json:"available"`
	UsageLeft  float64    `json:"usage_left"`
}

// Snapshot returns the resource's current occupancy and queue.
func (r *SharedResource) Snapshot() ResourceSnapshot {
	snap := ResourceSnapshot{
		ID:         r.ID,
		Name:       r.spec.Name,
		Category:   r.spec.Category,
		Kind:       r.spec.Kind,
		Position:   r.spec.Position,
		Queue:      make([]AgentID, 0, len(r.queue)),
		QueueLimit: r.spec.QueueLimit,
		Available:  r.Available(),
		UsageLeft:  r.usage,
	}
	if r.occupant != nil {
		id := r.occupant.ID
		snap.Occupant = &id
	}
	for _, a := range r.waiting() {
		snap.Queue = append(snap.Queue, a.ID)
	}
	return snap
}
