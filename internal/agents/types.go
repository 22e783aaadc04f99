// Package agents provides the agent data model, the per-agent state machine,
// the need controller, fixed-path locomotion, and the shared resources agents
// queue for.
package agents

import (
	"fmt"
	"strings"

	"github.com/talgya/townsfolk/internal/world"
)

// AgentID is a unique identifier for an agent. IDs are issued in registration order.
type AgentID uint64

// State is the agent's current behavioral state.
type State uint8

const (
	StateIdle State = iota
	StateSitting
	StateSleeping
	StateEating
	StateTalking
	StateRoaming
	StateMovingToward
	StateFollowingPath
	StateWaitingInQueue
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateSitting:        "sitting",
	StateSleeping:       "sleeping",
	StateEating:         "eating",
	StateTalking:        "talking",
	StateRoaming:        "roaming",
	StateMovingToward:   "moving_toward",
	StateFollowingPath:  "following_path",
	StateWaitingInQueue: "waiting_in_queue",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Mode selects how an agent moves when it has nothing else to do.
type Mode uint8

const (
	ModeFreeRoam  Mode = iota // Random destinations inside a zone
	ModeFixedPath             // Ping-pong traversal of a zone's path
)

func (m Mode) String() string {
	if m == ModeFixedPath {
		return "fixed_path"
	}
	return "free_roam"
}

// MarshalText renders the mode name in JSON payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode parses a locomotion mode name.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "free_roam", "roam", "free":
		return ModeFreeRoam, nil
	case "fixed_path", "path", "patrol":
		return ModeFixedPath, nil
	default:
		return ModeFreeRoam, fmt.Errorf("unknown locomotion mode %q", raw)
	}
}

// Category is the kind of need a resource satisfies.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryFood
	CategoryRest
	CategorySeating
)

func (c Category) String() string {
	switch c {
	case CategoryFood:
		return "food"
	case CategoryRest:
		return "rest"
	case CategorySeating:
		return "seating"
	default:
		return "none"
	}
}

// MarshalText renders the category name in JSON payloads.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseCategory parses a need category name.
func ParseCategory(raw string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "food", "eat":
		return CategoryFood, nil
	case "rest", "bed", "sleep":
		return CategoryRest, nil
	case "seating", "seat", "sit":
		return CategorySeating, nil
	default:
		return CategoryNone, fmt.Errorf("unknown need category %q", raw)
	}
}

// activeState is the state an occupant of a resource of this category is in.
func (c Category) activeState() State {
	switch c {
	case CategoryFood:
		return StateEating
	case CategoryRest:
		return StateSleeping
	default:
		return StateSitting
	}
}

// Capabilities is an optional set of agent abilities, composed in at spawn.
type Capabilities uint8

const (
	CapTrading Capabilities = 1 << iota
)

// Has reports whether every capability in c2 is present.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

// Flags are the presentation-facing booleans an animation or audio sink reads.
type Flags struct {
	Walking  bool `json:"walking"`
	Sitting  bool `json:"sitting"`
	Sleeping bool `json:"sleeping"`
	Eating   bool `json:"eating"`
	Talking  bool `json:"talking"`
	Waiting  bool `json:"waiting"`
	Idle     bool `json:"idle"`
}

func flagsFor(s State) Flags {
	switch s {
	case StateSitting:
		return Flags{Sitting: true}
	case StateSleeping:
		return Flags{Sleeping: true}
	case StateEating:
		return Flags{Eating: true}
	case StateTalking:
		return Flags{Talking: true}
	case StateWaitingInQueue:
		return Flags{Waiting: true, Walking: true}
	case StateIdle:
		return Flags{Idle: true}
	default:
		return Flags{Walking: true}
	}
}

// Params are the locomotion and behavior parameters shared by all agents.
type Params struct {
	Speed         float64 // Walk speed, world units per time unit
	SlowFactor    float64 // Speed multiplier after an admission rejection
	RestRadius    float64 // Arrival tolerance for destinations and queue slots
	ContactRadius float64 // Distance at which a resource's admission is attempted
	RoamRecheck   float64 // Time between roaming destination checks
	IdleRetry     float64 // Time between Idle recovery attempts
	IdleExitRatio float64 // Need ratio at which Idle returns home
	ResearchDelay float64 // Delay before searching again after a rejection
	ExitDistance  float64 // Distance from a resource an occupant is released to
	SlotSpacing   float64 // Distance between queue slot markers
	LaneOffset    float64 // Lateral offset from a fixed path, mirrored by direction
	StallTimeout  float64 // Time without progress before a destination is abandoned

	Need   NeedParams
	Social SocialParams
}

// SocialParams configure the peer conversation handshake.
type SocialParams struct {
	Range     float64 // Max distance between partners
	Threshold float64 // Need level an agent must exceed to be available
	Cost      float64 // Need consumed from each partner
	Duration  float64 // Length of one exchange
	Cooldown  float64 // Per-pair wait before the same two agents talk again
}

// DefaultParams returns parameters tuned for a small tavern floor.
func DefaultParams() Params {
	return Params{
		Speed:         1.4,
		SlowFactor:    0.5,
		RestRadius:    0.25,
		ContactRadius: 1.5,
		RoamRecheck:   3,
		IdleRetry:     2,
		IdleExitRatio: 0.75,
		ResearchDelay: 1,
		ExitDistance:  1.2,
		SlotSpacing:   0.9,
		LaneOffset:    0.4,
		StallTimeout:  3,
		Need:          DefaultNeedParams(),
		Social: SocialParams{
			Range:     2,
			Threshold: 40,
			Cost:      5,
			Duration:  6,
			Cooldown:  60,
		},
	}
}

// Area supplies destinations inside zones and points along fixed paths.
type Area interface {
	RandomPointInZone(zone world.ZoneID) (world.Vec2, bool)
	EvaluatePath(zone world.ZoneID, t float64) (pos, tangent world.Vec2, ok bool)
	PathLength(zone world.ZoneID) float64
}

// Locomotion moves agent bodies over the walkable surface.
type Locomotion interface {
	Place(id world.BodyID, p world.Vec2) bool
	Remove(id world.BodyID)
	SetDestination(id world.BodyID, p world.Vec2)
	Position(id world.BodyID) world.Vec2
	OnWalkableSurface(id world.BodyID) bool
	SetSpeed(id world.BodyID, speed float64)
	SetStopped(id world.BodyID, stopped bool)
	SetPriority(id world.BodyID, priority int)
	Velocity(id world.BodyID) float64
}

// Clock reports the time of day in hours, cycling over [0,24).
type Clock interface {
	CurrentTimeOfDay() float64
}

// Window is a recurring time-of-day interval.
type Window interface {
	Active(hour float64) bool
}

// NoteKind classifies a Note.
type NoteKind uint8

const (
	NoteState NoteKind = iota
	NoteAdmitted
	NoteRejected
	NotePromoted
	NoteReleased
	NoteWithdrawn
	NotePlacement
	NoteRespawned
	NoteTalkEnded
)

// Note reports something an agent or resource did, for event logs and tooling.
type Note struct {
	Kind     NoteKind
	Agent    *Agent
	Partner  *Agent
	Resource *SharedResource
	From, To State
}

// Env holds the collaborators an agent works through. It is shared by every
// agent of one simulation and injected at construction.
type Env struct {
	Area   Area       // nil disables roaming destination and path selection
	Loco   Locomotion // required
	Clock  Clock      // nil disables time-of-day needs
	Broker *Broker
	Notify func(Note) // optional
}

func (e *Env) notify(n Note) {
	if e.Notify != nil {
		e.Notify(n)
	}
}

func (e *Env) timeOfDay() (float64, bool) {
	if e.Clock == nil {
		return 0, false
	}
	return e.Clock.CurrentTimeOfDay(), true
}

// NewEnv wires the collaborators for one simulation and creates its broker.
func NewEnv(area Area, loco Locomotion, clock Clock, params *Params) *Env {
	e := &Env{Area: area, Loco: loco, Clock: clock}
	e.Broker = NewBroker(e, params)
	return e
}
