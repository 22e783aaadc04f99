// Simulation ties the agent registry, the resource broker, conversations and
// the external collaborators together and runs them each tick.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/world"
)

// ErrNoLocomotion is returned when a simulation is created without a locomotion service.
var ErrNoLocomotion = errors.New("engine: a locomotion service is required")

// Options are the construction-time parameters and collaborators of a Simulation.
// Every collaborator except Loco is optional; a missing one disables its subsystem.
type Options struct {
	Params      agents.Params
	TickSeconds float64 // dt per tick in sim time units

	Area     agents.Area
	Loco     agents.Locomotion
	Stepper  Stepper // advanced after agents and resources each tick
	Clock    *SimClock
	Sink     PresentationSink
	Dialogue DialogueEngine

	CheckInvariants bool // verify broker and agent invariants after every tick; panics on violation
}

// Simulation holds the complete simulation state.
type Simulation struct {
	mu sync.RWMutex

	params      *agents.Params
	env         *agents.Env
	tickSeconds float64
	clock       *SimClock
	stepper     Stepper
	sink        PresentationSink
	dialogue    DialogueEngine
	check       bool

	agents        []*agents.Agent // registration order
	index         map[agents.AgentID]*agents.Agent
	nextID        agents.AgentID
	conversations []*Conversation

	lastTick uint64
	pending  []Event // produced during the current tick
	recent   []Event // last maxRecentEvents events
	unsaved  []Event // events not yet drained by the journal
	subs     map[int]chan Event
	nextSub  int

	stats Stats
}

// Stats are aggregate counters refreshed every tick.
type Stats struct {
	Agents        int                  `json:"agents"`
	Resources     int                  `json:"resources"`
	Occupied      int                  `json:"occupied"`
	Queued        int                  `json:"queued"`
	Conversations int                  `json:"conversations"`
	ByState       map[agents.State]int `json:"by_state"`
	AvgNeedRatio  float64              `json:"avg_need_ratio"`
	Rejections    uint64               `json:"rejections"`
	Placements    uint64               `json:"placement_failures"`
	TalksFinished uint64               `json:"talks_finished"`
}

// NewSimulation wires a simulation from opts.
func NewSimulation(opts Options) (*Simulation, error) {
	if opts.Loco == nil {
		return nil, ErrNoLocomotion
	}
	if opts.TickSeconds <= 0 {
		return nil, fmt.Errorf("engine: tick length must be positive, got %v", opts.TickSeconds)
	}

	params := opts.Params
	s := &Simulation{
		params:      &params,
		tickSeconds: opts.TickSeconds,
		clock:       opts.Clock,
		stepper:     opts.Stepper,
		sink:        opts.Sink,
		dialogue:    opts.Dialogue,
		check:       opts.CheckInvariants,
		index:       make(map[agents.AgentID]*agents.Agent),
		nextID:      1,
		subs:        make(map[int]chan Event),
	}

	var clock agents.Clock
	if opts.Clock != nil {
		clock = opts.Clock
	} else {
		slog.Warn("no clock configured; time-of-day needs and active hours disabled")
	}
	if opts.Area == nil {
		slog.Warn("no area provider configured; roaming destinations and fixed paths disabled")
	}
	if opts.Stepper == nil {
		slog.Warn("no locomotion stepper configured; bodies are expected to move on their own")
	}
	if opts.Sink == nil {
		slog.Warn("no presentation sink configured; frames disabled")
	}
	if opts.Dialogue == nil {
		slog.Info("no dialogue engine configured; conversations run silently")
	}
	if params.Social.Range <= 0 {
		slog.Warn("social range is zero; conversations disabled")
	}

	s.env = agents.NewEnv(opts.Area, opts.Loco, clock, s.params)
	s.env.Notify = s.onNote
	return s, nil
}

// Params returns the shared agent parameters.
func (s *Simulation) Params() agents.Params { return *s.params }

// TickSeconds returns the sim time units per tick.
func (s *Simulation) TickSeconds() float64 { return s.tickSeconds }

// Clock returns the simulation clock, or nil.
func (s *Simulation) Clock() *SimClock { return s.clock }

// CurrentTick returns the most recently processed tick.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

// Register spawns a new agent at pos and adds it to the end of the registration order.
func (s *Simulation) Register(spec agents.Spec, pos world.Vec2) *agents.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := agents.New(s.nextID, spec, s.params, s.env)
	s.nextID++
	s.agents = append(s.agents, a)
	s.index[a.ID] = a
	a.Spawn(pos)

	s.emit(Event{
		Tick:        s.lastTick,
		Category:    CategoryLifecycle,
		Agent:       a.ID,
		Description: fmt.Sprintf("%s spawned as %s (%s)", a.Name, a.State(), a.Mode),
	})
	slog.Debug("agent registered", "agent", a.ID, "name", a.Name, "mode", a.Mode, "zone", a.Zone)
	return a
}

// Deregister despawns an agent. It reports whether the agent existed.
func (s *Simulation) Deregister(id agents.AgentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.index[id]
	if !ok {
		return false
	}
	a.Despawn()
	delete(s.index, id)
	for i, other := range s.agents {
		if other == a {
			s.agents = append(s.agents[:i], s.agents[i+1:]...)
			break
		}
	}
	s.emit(Event{
		Tick:        s.lastTick,
		Category:    CategoryLifecycle,
		Agent:       id,
		Description: fmt.Sprintf("%s despawned", a.Name),
	})
	s.flush()
	slog.Debug("agent deregistered", "agent", id, "name", a.Name)
	return true
}

// RegisterResource adds a shared resource to the broker.
func (s *Simulation) RegisterResource(spec agents.ResourceSpec) (*agents.SharedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.env.Broker.Register(spec)
	if err != nil {
		return nil, fmt.Errorf("register resource: %w", err)
	}
	return r, nil
}

// Step runs one tick: clock, agents, resources, conversations, locomotion,
// presentation, then event delivery.
func (s *Simulation) Step(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := s.tickSeconds
	s.lastTick = tick
	if s.clock != nil {
		s.clock.Advance(dt)
	}

	for _, a := range s.agents {
		a.Tick(dt)
	}
	s.env.Broker.Service(dt)
	s.stepSocial()
	if s.stepper != nil {
		s.stepper.Step(dt)
	}
	if s.sink != nil {
		s.sink.Present(s.frame(tick))
	}
	if s.check {
		if err := s.checkInvariants(); err != nil {
			panic(fmt.Sprintf("tick %d: %v", tick, err))
		}
	}
	s.updateStats()
	s.flush()
}

// onNote receives agent and resource notes while the simulation is locked.
func (s *Simulation) onNote(n agents.Note) {
	switch n.Kind {
	case agents.NoteRejected:
		s.stats.Rejections++
		slog.Debug("admission rejected", "agent", n.Agent.ID, "resource", n.Resource.Name())
	case agents.NotePlacement:
		s.stats.Placements++
		slog.Warn("placement failure", "agent", n.Agent.ID, "name", n.Agent.Name)
	case agents.NoteTalkEnded:
		s.stats.TalksFinished++
		s.endConversation(n.Agent, n.Partner)
	case agents.NoteState:
		slog.Debug("state change", "agent", n.Agent.ID, "from", n.From, "to", n.To)
	}
	if ev, ok := eventFromNote(s.lastTick, n); ok {
		s.emit(ev)
	}
}

func (s *Simulation) emit(ev Event) {
	s.pending = append(s.pending, ev)
}

// flush delivers pending events to subscribers, the recent buffer and the journal queue.
func (s *Simulation) flush() {
	if len(s.pending) == 0 {
		return
	}
	for _, ev := range s.pending {
		for _, ch := range s.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	s.recent = append(s.recent, s.pending...)
	if len(s.recent) > maxRecentEvents {
		s.recent = s.recent[len(s.recent)-maxRecentEvents:]
	}
	s.unsaved = append(s.unsaved, s.pending...)
	s.pending = s.pending[:0]
}

// Subscribe returns a channel receiving every event from now on. Events are
// dropped when the channel's buffer is full.
func (s *Simulation) Subscribe(buffer int) (int, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, buffer)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (s *Simulation) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// DrainEvents returns events not yet drained and clears the queue.
func (s *Simulation) DrainEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.unsaved
	s.unsaved = nil
	return out
}

// RecentEvents returns up to n of the most recent events, oldest first,
// optionally filtered by category.
func (s *Simulation) RecentEvents(n int, category string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, min(n, len(s.recent)))
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		if category == "" || s.recent[i].Category == category {
			out = append(out, s.recent[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Simulation) updateStats() {
	st := Stats{
		Agents:        len(s.agents),
		Resources:     len(s.env.Broker.Resources()),
		Conversations: len(s.conversations),
		ByState:       make(map[agents.State]int),
		Rejections:    s.stats.Rejections,
		Placements:    s.stats.Placements,
		TalksFinished: s.stats.TalksFinished,
	}
	for _, r := range s.env.Broker.Resources() {
		if r.Occupant() != nil {
			st.Occupied++
		}
		st.Queued += len(r.Waiting())
	}
	var total float64
	for _, a := range s.agents {
		st.ByState[a.State()]++
		total += a.Needs().Ratio()
	}
	if len(s.agents) > 0 {
		st.AvgNeedRatio = total / float64(len(s.agents))
	}
	s.stats = st
}

// Stats returns the aggregate counters as of the last tick.
func (s *Simulation) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.ByState = make(map[agents.State]int, len(s.stats.ByState))
	for k, v := range s.stats.ByState {
		st.ByState[k] = v
	}
	return st
}

// Agents returns snapshots of every agent in registration order.
func (s *Simulation) Agents() []agents.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agents.Snapshot, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Snapshot())
	}
	return out
}

// Agent returns a snapshot of one agent.
func (s *Simulation) Agent(id agents.AgentID) (agents.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.index[id]
	if !ok {
		return agents.Snapshot{}, false
	}
	return a.Snapshot(), true
}

// Resources returns occupancy and queue snapshots of every resource.
func (s *Simulation) Resources() []agents.ResourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env.Broker.Snapshots()
}

// Resource returns a snapshot of one resource.
func (s *Simulation) Resource(id agents.ResourceID) (agents.ResourceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.env.Broker.Resource(id)
	if !ok {
		return agents.ResourceSnapshot{}, false
	}
	return r.Snapshot(), true
}

// CheckInvariants verifies single occupancy, queue bounds, one place per agent,
// and conversation symmetry.
func (s *Simulation) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkInvariants()
}

func (s *Simulation) checkInvariants() error {
	if err := s.env.Broker.CheckInvariants(); err != nil {
		return err
	}
	for _, a := range s.agents {
		if a.QueuedAt() != nil && a.Needs().Current() != nil {
			return fmt.Errorf("agent %d is both queued and occupying", a.ID)
		}
		if p := a.Partner(); p != nil && p.Partner() != a {
			return fmt.Errorf("agent %d talks to %d, which does not talk back", a.ID, p.ID)
		}
		switch a.State() {
		case agents.StateSitting, agents.StateEating, agents.StateSleeping, agents.StateTalking, agents.StateIdle:
			if !a.Frozen() {
				return fmt.Errorf("agent %d is %s but not frozen", a.ID, a.State())
			}
		}
	}
	return nil
}
