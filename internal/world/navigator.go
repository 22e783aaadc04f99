package world

import (
	"math/rand"
	"sort"
)

// BodyID identifies a body steered by the Navigator.
type BodyID uint64

// yieldRadius is the distance under which a lower-priority body slows for a higher one.
const yieldRadius = 0.6

type body struct {
	id       BodyID
	pos      Vec2
	dest     Vec2
	hasDest  bool
	speed    float64
	stopped  bool
	priority int
	velocity float64
}

// Navigator is a reference area provider and locomotion service.
// It steers bodies in straight lines toward their destinations over a Grid.
type Navigator struct {
	grid   *Grid
	zones  map[ZoneID]Zone
	rng    *rand.Rand
	bodies map[BodyID]*body
	order  []BodyID // insertion order; Step sorts a copy by priority
}

// NewNavigator creates a navigator over grid with the given zones.
func NewNavigator(grid *Grid, zones []Zone, seed int64) *Navigator {
	n := &Navigator{
		grid:   grid,
		zones:  make(map[ZoneID]Zone, len(zones)),
		rng:    rand.New(rand.NewSource(seed + 500)),
		bodies: make(map[BodyID]*body),
	}
	for _, z := range zones {
		n.zones[z.ID] = z
	}
	return n
}

// Zone returns the zone registered under id.
func (n *Navigator) Zone(id ZoneID) (Zone, bool) {
	z, ok := n.zones[id]
	return z, ok
}

// RandomPointInZone samples a walkable point inside the zone's bounds.
func (n *Navigator) RandomPointInZone(id ZoneID) (Vec2, bool) {
	z, ok := n.zones[id]
	if !ok {
		return Vec2{}, false
	}
	for attempt := 0; attempt < 32; attempt++ {
		p := Vec2{
			X: z.Min.X + n.rng.Float64()*(z.Max.X-z.Min.X),
			Y: z.Min.Y + n.rng.Float64()*(z.Max.Y-z.Min.Y),
		}
		if n.grid == nil || n.grid.Walkable(p) {
			return p, true
		}
	}
	return Vec2{}, false
}

// EvaluatePath returns position and tangent at normalized t along the zone's path.
func (n *Navigator) EvaluatePath(id ZoneID, t float64) (Vec2, Vec2, bool) {
	z, ok := n.zones[id]
	if !ok || z.Path == nil {
		return Vec2{}, Vec2{}, false
	}
	pos, tangent := z.Path.Evaluate(t)
	return pos, tangent, true
}

// PathLength returns the arc length of the zone's path, or 0 when it has none.
func (n *Navigator) PathLength(id ZoneID) float64 {
	z, ok := n.zones[id]
	if !ok || z.Path == nil {
		return 0
	}
	return z.Path.Length()
}

func (n *Navigator) get(id BodyID) *body {
	return n.bodies[id]
}

// Place warps a body to p, creating it if needed. It reports whether p is walkable.
func (n *Navigator) Place(id BodyID, p Vec2) bool {
	b := n.bodies[id]
	if b == nil {
		b = &body{id: id}
		n.bodies[id] = b
		n.order = append(n.order, id)
	}
	b.pos = p
	b.dest = p
	b.hasDest = false
	b.velocity = 0
	return n.walkable(p)
}

// Remove drops a body.
func (n *Navigator) Remove(id BodyID) {
	if _, ok := n.bodies[id]; !ok {
		return
	}
	delete(n.bodies, id)
	for i, o := range n.order {
		if o == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// SetDestination sets the point a body steers toward.
func (n *Navigator) SetDestination(id BodyID, p Vec2) {
	if b := n.get(id); b != nil {
		b.dest = p
		b.hasDest = true
	}
}

// Position returns a body's current position.
func (n *Navigator) Position(id BodyID) Vec2 {
	if b := n.get(id); b != nil {
		return b.pos
	}
	return Vec2{}
}

// OnWalkableSurface reports whether the body stands on an open cell.
func (n *Navigator) OnWalkableSurface(id BodyID) bool {
	b := n.get(id)
	if b == nil {
		return false
	}
	return n.walkable(b.pos)
}

// SetSpeed sets a body's travel speed in world units per time unit.
func (n *Navigator) SetSpeed(id BodyID, speed float64) {
	if b := n.get(id); b != nil {
		b.speed = speed
	}
}

// SetStopped freezes or unfreezes a body in place.
func (n *Navigator) SetStopped(id BodyID, stopped bool) {
	if b := n.get(id); b != nil {
		b.stopped = stopped
		if stopped {
			b.velocity = 0
		}
	}
}

// SetPriority sets the movement priority hint; higher values move first and never yield.
func (n *Navigator) SetPriority(id BodyID, priority int) {
	if b := n.get(id); b != nil {
		b.priority = priority
	}
}

// Velocity returns the magnitude of the body's last step velocity.
func (n *Navigator) Velocity(id BodyID) float64 {
	if b := n.get(id); b != nil {
		return b.velocity
	}
	return 0
}

// Step moves every body toward its destination by speed·dt.
// Bodies are stepped by descending priority; a body within yieldRadius of an
// already-stepped higher-priority body moves at half speed.
func (n *Navigator) Step(dt float64) {
	if dt <= 0 {
		return
	}
	ordered := make([]*body, 0, len(n.order))
	for _, id := range n.order {
		ordered = append(ordered, n.bodies[id])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].priority > ordered[j].priority
	})

	for i, b := range ordered {
		if b.stopped || !b.hasDest || b.speed <= 0 {
			b.velocity = 0
			continue
		}
		speed := b.speed
		for _, other := range ordered[:i] {
			if other.priority > b.priority && other.pos.Dist(b.pos) < yieldRadius {
				speed *= 0.5
				break
			}
		}
		next, ok := n.advance(b.pos, b.dest, speed*dt)
		if !ok {
			b.velocity = 0
			continue
		}
		b.velocity = next.Dist(b.pos) / dt
		b.pos = next
	}
}

// advance moves from toward dest by step, sliding along one axis when the
// straight move would enter a blocked cell. Bodies already off the walkable
// surface move freely.
func (n *Navigator) advance(from, dest Vec2, step float64) (Vec2, bool) {
	next := from.MoveToward(dest, step)
	if n.walkable(next) || !n.walkable(from) {
		return next, true
	}
	for _, slide := range []Vec2{{X: next.X, Y: from.Y}, {X: from.X, Y: next.Y}} {
		if slide != from && n.walkable(slide) {
			return slide, true
		}
	}
	return from, false
}

func (n *Navigator) walkable(p Vec2) bool {
	if n.grid == nil {
		return true
	}
	return n.grid.Walkable(p)
}
