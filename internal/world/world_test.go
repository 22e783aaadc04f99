package world

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPathEvaluateByArcLength(t *testing.T) {
	path, err := NewPath([]Vec2{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(path.Length(), 20) {
		t.Fatalf("expected length 20, got %.3f", path.Length())
	}

	pos, tangent := path.Evaluate(0.25)
	if !approx(pos.X, 5) || !approx(pos.Y, 0) {
		t.Fatalf("expected (5,0) at t=0.25, got %+v", pos)
	}
	if !approx(tangent.X, 1) || !approx(tangent.Y, 0) {
		t.Fatalf("expected +X tangent, got %+v", tangent)
	}

	pos, tangent = path.Evaluate(0.75)
	if !approx(pos.X, 10) || !approx(pos.Y, 5) {
		t.Fatalf("expected (10,5) at t=0.75, got %+v", pos)
	}
	if !approx(tangent.Y, 1) {
		t.Fatalf("expected +Y tangent on second segment, got %+v", tangent)
	}

	end, _ := path.Evaluate(3)
	if !approx(end.X, 10) || !approx(end.Y, 10) {
		t.Fatalf("expected t to clamp to the end point, got %+v", end)
	}
}

func TestNewPathRejectsDegenerateInput(t *testing.T) {
	if _, err := NewPath([]Vec2{{X: 1, Y: 1}}); err == nil {
		t.Fatalf("expected error for single point path")
	}
	if _, err := NewPath([]Vec2{{X: 1, Y: 1}, {X: 1, Y: 1}}); err == nil {
		t.Fatalf("expected error for zero length path")
	}
}

func TestGridWithoutClutterIsOpen(t *testing.T) {
	g := NewGrid(GridConfig{Width: 8, Height: 4, CellSize: 1})
	if g.WalkableCount() != g.CellCount() || g.CellCount() != 32 {
		t.Fatalf("expected 32 open cells, got %d/%d", g.WalkableCount(), g.CellCount())
	}
	if g.Walkable(Vec2{X: -1, Y: 0}) {
		t.Fatalf("expected out-of-bounds point to be unwalkable")
	}
	g.SetWalkable(Vec2{X: 2.5, Y: 2.5}, false)
	if g.Walkable(Vec2{X: 2.2, Y: 2.9}) {
		t.Fatalf("expected blocked cell to be unwalkable")
	}
}

func TestGridClutterIsDeterministic(t *testing.T) {
	cfg := GridConfig{Width: 32, Height: 32, CellSize: 1, Seed: 7, Clutter: 0.45, Scale: 0.2}
	a := NewGrid(cfg)
	b := NewGrid(cfg)
	if a.WalkableCount() != b.WalkableCount() {
		t.Fatalf("expected identical grids for the same seed, got %d and %d", a.WalkableCount(), b.WalkableCount())
	}
	if a.WalkableCount() == a.CellCount() {
		t.Fatalf("expected clutter to block at least one cell")
	}
	for i := range a.walkable {
		if a.walkable[i] != b.walkable[i] {
			t.Fatalf("cell %d differs between identical seeds", i)
		}
	}
}

func TestNavigatorStepsTowardDestination(t *testing.T) {
	n := NewNavigator(NewGrid(GridConfig{Width: 20, Height: 20, CellSize: 1}), nil, 1)
	n.Place(1, Vec2{X: 1, Y: 1})
	n.SetSpeed(1, 2)
	n.SetDestination(1, Vec2{X: 11, Y: 1})

	n.Step(1)
	if pos := n.Position(1); !approx(pos.X, 3) {
		t.Fatalf("expected x=3 after one step, got %+v", pos)
	}
	if v := n.Velocity(1); !approx(v, 2) {
		t.Fatalf("expected velocity 2, got %.3f", v)
	}

	n.SetStopped(1, true)
	n.Step(1)
	if pos := n.Position(1); !approx(pos.X, 3) {
		t.Fatalf("expected stopped body to stay at x=3, got %+v", pos)
	}
	if n.Velocity(1) != 0 {
		t.Fatalf("expected zero velocity while stopped")
	}

	n.SetStopped(1, false)
	for i := 0; i < 10; i++ {
		n.Step(1)
	}
	if pos := n.Position(1); !approx(pos.X, 11) {
		t.Fatalf("expected body to snap onto destination, got %+v", pos)
	}
}

func TestNavigatorLowPriorityYields(t *testing.T) {
	n := NewNavigator(nil, nil, 1)
	n.Place(1, Vec2{X: 0, Y: 0})
	n.Place(2, Vec2{X: 0, Y: 0.2})
	for _, id := range []BodyID{1, 2} {
		n.SetSpeed(id, 1)
		n.SetDestination(id, Vec2{X: 10, Y: n.Position(id).Y})
	}
	n.SetPriority(1, 5)
	n.SetPriority(2, 1)

	n.Step(0.1)
	if v1, v2 := n.Velocity(1), n.Velocity(2); !(v2 < v1) {
		t.Fatalf("expected lower priority body to yield, got v1=%.3f v2=%.3f", v1, v2)
	}
}

func TestNavigatorAreaQueries(t *testing.T) {
	path, _ := NewPath([]Vec2{{X: 0, Y: 5}, {X: 10, Y: 5}})
	zones := []Zone{
		{ID: 1, Min: Vec2{X: 2, Y: 2}, Max: Vec2{X: 4, Y: 4}},
		{ID: 2, Min: Vec2{X: 0, Y: 0}, Max: Vec2{X: 10, Y: 10}, Path: path},
	}
	n := NewNavigator(NewGrid(GridConfig{Width: 10, Height: 10, CellSize: 1}), zones, 3)

	for i := 0; i < 20; i++ {
		p, ok := n.RandomPointInZone(1)
		if !ok || !zones[0].Contains(p) {
			t.Fatalf("expected random point inside zone 1, got %+v ok=%v", p, ok)
		}
	}
	if _, ok := n.RandomPointInZone(99); ok {
		t.Fatalf("expected unknown zone to fail")
	}

	pos, _, ok := n.EvaluatePath(2, 0.5)
	if !ok || !approx(pos.X, 5) || !approx(pos.Y, 5) {
		t.Fatalf("expected path midpoint (5,5), got %+v ok=%v", pos, ok)
	}
	if _, _, ok := n.EvaluatePath(1, 0.5); ok {
		t.Fatalf("expected region zone to have no path")
	}
	if !approx(n.PathLength(2), 10) {
		t.Fatalf("expected path length 10, got %.3f", n.PathLength(2))
	}
}
