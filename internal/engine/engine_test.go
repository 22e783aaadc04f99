package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/world"
)

type recordingSink struct {
	frames []Frame
}

func (s *recordingSink) Present(f Frame) { s.frames = append(s.frames, f) }

type recordingDialogue struct {
	started, ended [][2]agents.AgentID
}

func (d *recordingDialogue) TalkStarted(a, b agents.Snapshot) {
	d.started = append(d.started, [2]agents.AgentID{a.ID, b.ID})
}

func (d *recordingDialogue) TalkEnded(a, b agents.Snapshot) {
	d.ended = append(d.ended, [2]agents.AgentID{a.ID, b.ID})
}

func testParams() agents.Params {
	p := agents.DefaultParams()
	p.Need.RestStart, p.Need.RestEnd = 0, 0
	p.Need.Recovery = 40
	return p
}

func newTestSim(t *testing.T, params agents.Params, sink PresentationSink, dialogue DialogueEngine) *Simulation {
	t.Helper()
	zones := []world.Zone{{ID: 1, Min: world.Vec2{X: 0, Y: 0}, Max: world.Vec2{X: 20, Y: 20}}}
	nav := world.NewNavigator(nil, zones, 1)
	sim, err := NewSimulation(Options{
		Params:          params,
		TickSeconds:     0.5,
		Area:            nav,
		Loco:            nav,
		Stepper:         nav,
		Sink:            sink,
		Dialogue:        dialogue,
		CheckInvariants: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sim
}

func TestNewSimulationRequiresLocomotion(t *testing.T) {
	_, err := NewSimulation(Options{Params: agents.DefaultParams(), TickSeconds: 1})
	if !errors.Is(err, ErrNoLocomotion) {
		t.Fatalf("expected ErrNoLocomotion, got %v", err)
	}
}

func TestStepWithoutAreaOrClock(t *testing.T) {
	path, err := world.NewPath([]world.Vec2{{X: 2, Y: 15}, {X: 18, Y: 15}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	zones := []world.Zone{
		{ID: 1, Min: world.Vec2{X: 0, Y: 0}, Max: world.Vec2{X: 20, Y: 10}},
		{ID: 2, Min: world.Vec2{X: 0, Y: 12}, Max: world.Vec2{X: 20, Y: 18}, Path: path},
	}
	nav := world.NewNavigator(nil, zones, 1)
	sim, err := NewSimulation(Options{
		Params:          agents.DefaultParams(),
		TickSeconds:     0.5,
		Loco:            nav,
		Stepper:         nav,
		CheckInvariants: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.Register(agents.Spec{Name: "wanderer", Mode: agents.ModeFreeRoam, Zone: 1}, world.Vec2{X: 5, Y: 5})
	sim.Register(agents.Spec{Name: "watchman", Mode: agents.ModeFixedPath, Zone: 2}, world.Vec2{X: 2, Y: 15})

	for tick := uint64(1); tick <= 2000; tick++ {
		sim.Step(tick)
	}
	st := sim.Stats()
	if st.Agents != 2 || st.Placements != 0 {
		t.Fatalf("expected both agents running without placement failures, got %+v", st)
	}
	for _, a := range sim.Agents() {
		if a.NeedRatio < 0 || a.NeedRatio > 1 {
			t.Fatalf("expected need ratio in [0,1] for %s, got %v", a.Name, a.NeedRatio)
		}
	}
	if sim.CurrentTick() != 2000 {
		t.Fatalf("expected tick 2000, got %d", sim.CurrentTick())
	}
}

func TestSimulationQueuesAndEmitsEvents(t *testing.T) {
	sink := &recordingSink{}
	sim := newTestSim(t, testParams(), sink, nil)
	seat, err := sim.RegisterResource(agents.ResourceSpec{
		Name:       "stool",
		Category:   agents.CategorySeating,
		Position:   world.Vec2{X: 10, Y: 10},
		QueueLimit: 2,
		Duration:   5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sim.RegisterResource(agents.ResourceSpec{Name: "broken", Duration: 1}); err == nil {
		t.Fatalf("expected error for a resource without a category")
	}

	_, events := sim.Subscribe(256)
	var registered []*agents.Agent
	for _, name := range []string{"A", "B", "C"} {
		a := sim.Register(agents.Spec{Name: name, Zone: 1}, world.Vec2{X: 10, Y: 10.5})
		a.Needs().SetLevel(10)
		registered = append(registered, a)
	}

	for tick := uint64(1); tick <= 2; tick++ {
		sim.Step(tick)
	}
	snap, ok := sim.Resource(seat.ID)
	if !ok {
		t.Fatalf("expected resource snapshot")
	}
	if snap.Occupant == nil || *snap.Occupant != registered[0].ID {
		t.Fatalf("expected A to occupy, got %v", snap.Occupant)
	}
	if len(snap.Queue) != 2 || snap.Queue[0] != registered[1].ID || snap.Queue[1] != registered[2].ID {
		t.Fatalf("expected B and C queued, got %v", snap.Queue)
	}

	stats := sim.Stats()
	if stats.Occupied != 1 || stats.Queued != 2 || stats.ByState[agents.StateWaitingInQueue] != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(sink.frames) != 2 || len(sink.frames[1].Agents) != 3 {
		t.Fatalf("expected one frame per tick with every agent, got %d frames", len(sink.frames))
	}
	if !sink.frames[1].Agents[0].Flags.Sitting {
		t.Fatalf("expected sitting flag in presentation frame")
	}

	seen := map[string]bool{}
	for len(events) > 0 {
		ev := <-events
		seen[ev.Category] = true
	}
	for _, cat := range []string{CategoryLifecycle, CategoryState, CategoryAdmission} {
		if !seen[cat] {
			t.Fatalf("expected a %s event, saw %v", cat, seen)
		}
	}

	drained := sim.DrainEvents()
	if len(drained) == 0 {
		t.Fatalf("expected events queued for the journal")
	}
	if again := sim.DrainEvents(); len(again) != 0 {
		t.Fatalf("expected drain to clear the queue, got %d", len(again))
	}
	if recent := sim.RecentEvents(5, CategoryAdmission); len(recent) == 0 || recent[len(recent)-1].Category != CategoryAdmission {
		t.Fatalf("expected filtered recent admission events, got %v", recent)
	}
}

func TestDeregisterFreesResource(t *testing.T) {
	sim := newTestSim(t, testParams(), nil, nil)
	seat, _ := sim.RegisterResource(agents.ResourceSpec{
		Name:       "stool",
		Category:   agents.CategorySeating,
		Position:   world.Vec2{X: 10, Y: 10},
		QueueLimit: 2,
		Duration:   50,
	})
	a := sim.Register(agents.Spec{Name: "A", Zone: 1}, world.Vec2{X: 10, Y: 10.5})
	b := sim.Register(agents.Spec{Name: "B", Zone: 1}, world.Vec2{X: 10, Y: 10.5})
	a.Needs().SetLevel(10)
	b.Needs().SetLevel(10)
	sim.Step(1)
	sim.Step(2)
	if seat.Occupant() != a {
		t.Fatalf("expected A to occupy")
	}

	if !sim.Deregister(a.ID) {
		t.Fatalf("expected deregister to succeed")
	}
	if sim.Deregister(a.ID) {
		t.Fatalf("expected second deregister to report a missing agent")
	}
	if _, ok := sim.Agent(a.ID); ok {
		t.Fatalf("expected A to be gone")
	}
	sim.Step(3)
	if seat.Occupant() != b {
		t.Fatalf("expected B promoted after A left, got %v", seat.Occupant())
	}
	if err := sim.CheckInvariants(); err != nil {
		t.Fatalf("unexpected invariant error: %v", err)
	}
}

func TestSocialPairsFirstEligibleInRegistrationOrder(t *testing.T) {
	params := testParams()
	params.Social.Duration = 2
	params.Social.Cooldown = 30
	dialogue := &recordingDialogue{}
	sim := newTestSim(t, params, nil, dialogue)

	a := sim.Register(agents.Spec{Name: "A", Zone: 1}, world.Vec2{X: 5, Y: 5})
	b := sim.Register(agents.Spec{Name: "B", Zone: 1}, world.Vec2{X: 5.5, Y: 5})
	c := sim.Register(agents.Spec{Name: "C", Zone: 1}, world.Vec2{X: 5, Y: 5.5})

	sim.Step(1)
	if a.State() != agents.StateTalking || b.State() != agents.StateTalking {
		t.Fatalf("expected A and B talking, got %s and %s", a.State(), b.State())
	}
	if c.State() == agents.StateTalking {
		t.Fatalf("expected C left out")
	}
	if len(sim.Conversations()) != 1 || len(dialogue.started) != 1 {
		t.Fatalf("expected one conversation reported to the dialogue engine")
	}
	if dialogue.started[0] != [2]agents.AgentID{a.ID, b.ID} {
		t.Fatalf("expected A to start with B, got %v", dialogue.started[0])
	}
	sim.Deregister(c.ID)

	for tick := uint64(2); tick <= 10 && a.State() == agents.StateTalking; tick++ {
		sim.Step(tick)
	}
	if a.State() == agents.StateTalking || b.State() == agents.StateTalking {
		t.Fatalf("expected the conversation to end")
	}
	if len(dialogue.ended) != 1 || len(sim.Conversations()) > 1 {
		t.Fatalf("expected the end to be reported, got %v", dialogue.ended)
	}
	if !a.OnCooldownWith(b) || !b.OnCooldownWith(a) {
		t.Fatalf("expected a cooldown in both directions")
	}
	if sim.Stats().TalksFinished != 1 {
		t.Fatalf("expected one finished talk, got %d", sim.Stats().TalksFinished)
	}
}

func TestEngineStepFiresCallbacks(t *testing.T) {
	e := NewEngine(time.Millisecond)
	e.TicksPerHour = 3
	var ticks, hours int
	e.OnTick = func(uint64) { ticks++ }
	e.OnHour = func(uint64) { hours++ }
	for i := 0; i < 7; i++ {
		e.Step()
	}
	if ticks != 7 || hours != 2 {
		t.Fatalf("expected 7 ticks and 2 hours, got %d and %d", ticks, hours)
	}
	if e.CurrentTick() != 7 {
		t.Fatalf("expected tick 7, got %d", e.CurrentTick())
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	e := NewEngine(time.Millisecond)
	e.SetSpeed(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for e.CurrentTick() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Run to return after cancel")
	}
	if e.CurrentTick() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", e.CurrentTick())
	}
	if e.Running() {
		t.Fatalf("expected engine to report stopped")
	}
}

func TestSimClockWrapsDays(t *testing.T) {
	c := NewSimClock(22, 24)
	c.Advance(3)
	if math.Abs(c.CurrentTimeOfDay()-1) > 1e-9 || c.Day() != 2 {
		t.Fatalf("expected day 2 at 01:00, got day %d at %.3f", c.Day(), c.CurrentTimeOfDay())
	}
	if got := c.String(); got != "Day 2, 1:00" {
		t.Fatalf("unexpected clock string %q", got)
	}
}

func TestSpawnerPopulatesZone(t *testing.T) {
	sim := newTestSim(t, testParams(), nil, nil)
	zones := []world.Zone{{ID: 1, Min: world.Vec2{X: 0, Y: 0}, Max: world.Vec2{X: 20, Y: 20}}}
	sp := NewSpawner(7, world.NewNavigator(nil, zones, 7))
	got := sp.Populate(sim, Group{Count: 5, Zone: 1, Trading: 1, MinNeed: 40, MaxNeed: 60})
	if len(got) != 5 || len(sim.Agents()) != 5 {
		t.Fatalf("expected 5 agents, got %d", len(got))
	}
	for _, a := range got {
		if !a.Caps.Has(agents.CapTrading) {
			t.Fatalf("expected trading capability on %s", a.Name)
		}
		if lvl := a.Needs().Level(); lvl < 40 || lvl > 60 {
			t.Fatalf("expected starting need in [40,60], got %v", lvl)
		}
		if a.Name == "" {
			t.Fatalf("expected a generated name")
		}
	}
}
