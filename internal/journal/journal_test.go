package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/engine"
	"github.com/talgya/townsfolk/internal/world"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", "x"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), DriverPostgres, ""); err == nil {
		t.Fatalf("expected error for empty postgres dsn")
	}
}

func TestSQLitePragmasApplied(t *testing.T) {
	j := openTemp(t)
	var mode string
	if err := j.conn.Get(&mode, "PRAGMA journal_mode"); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
	var timeout int
	if err := j.conn.Get(&timeout, "PRAGMA busy_timeout"); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("expected busy timeout 5000, got %d", timeout)
	}
}

func TestEventsRoundTripPerRun(t *testing.T) {
	ctx := context.Background()
	j := openTemp(t)

	first, err := j.BeginRun(ctx, 42, "tavern")
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if first == uuid.Nil || j.Run() != first {
		t.Fatalf("expected a run id, got %v", j.Run())
	}
	err = j.SaveEvents(ctx, []engine.Event{
		{Tick: 1, Category: engine.CategoryLifecycle, Agent: 1, Description: "A spawned"},
		{Tick: 2, Category: engine.CategoryAdmission, Agent: 1, Resource: 3, Description: "A occupied stool"},
		{Tick: 3, Category: engine.CategoryReject, Agent: 2, Resource: 3, Description: "B turned away"},
	})
	if err != nil {
		t.Fatalf("save events: %v", err)
	}

	got, err := j.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(got) != 2 || got[0].Tick != 2 || got[1].Tick != 3 {
		t.Fatalf("expected ticks 2 and 3 oldest first, got %+v", got)
	}
	if got[0].Resource != 3 || got[0].Category != engine.CategoryAdmission {
		t.Fatalf("expected columns to scan back, got %+v", got[0])
	}

	if _, err := j.BeginRun(ctx, 43, "tavern"); err != nil {
		t.Fatalf("begin second run: %v", err)
	}
	got, err = j.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected a fresh run to start empty, got %d events", len(got))
	}
}

func TestRecorderFlushesOnSchedule(t *testing.T) {
	ctx := context.Background()
	j := openTemp(t)
	if _, err := j.BeginRun(ctx, 1, "test"); err != nil {
		t.Fatalf("begin run: %v", err)
	}

	zones := []world.Zone{{ID: 1, Min: world.Vec2{}, Max: world.Vec2{X: 10, Y: 10}}}
	nav := world.NewNavigator(nil, zones, 1)
	sim, err := engine.NewSimulation(engine.Options{
		Params:      agents.DefaultParams(),
		TickSeconds: 1,
		Area:        nav,
		Loco:        nav,
		Stepper:     nav,
	})
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	a := sim.Register(agents.Spec{Name: "Greta Voss", Zone: 1}, world.Vec2{X: 5, Y: 5})

	rec := &Recorder{Journal: j, Sim: sim, FlushEvery: 3}
	for tick := uint64(1); tick <= 3; tick++ {
		sim.Step(tick)
		rec.OnTick(ctx, tick)
		if tick < 3 {
			if events, _ := j.RecentEvents(ctx, 10); len(events) != 0 {
				t.Fatalf("expected nothing written before tick 3, got %d at tick %d", len(events), tick)
			}
		}
	}

	events, err := j.RecentEvents(ctx, 100)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) == 0 || events[0].Agent != a.ID {
		t.Fatalf("expected journaled events for the agent, got %+v", events)
	}
	history, err := j.AgentHistory(ctx, a.ID)
	if err != nil {
		t.Fatalf("agent history: %v", err)
	}
	if len(history) != 1 || history[0].Tick != 3 || history[0].Name != "Greta Voss" {
		t.Fatalf("expected one snapshot at tick 3, got %+v", history)
	}
	if len(sim.DrainEvents()) != 0 {
		t.Fatalf("expected the recorder to drain the event queue")
	}
}
