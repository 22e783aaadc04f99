// NeedController models one depleting need (stamina) and decides when and
// where an agent should go to recover it.
package agents

import (
	"golang.org/x/exp/constraints"

	"github.com/talgya/townsfolk/internal/world"
)

// NeedParams configure a NeedController.
type NeedParams struct {
	Max           float64
	Initial       float64
	Depletion     float64 // Lost per time unit while roaming or following a path
	Recovery      float64 // Gained per time unit while using a resource
	IdleRecovery  float64 // Gained per time unit while Idle
	Threshold     float64 // Fraction of Max below which stamina is low
	MealThreshold float64 // Fraction of Max below which food is sought in a meal window
	AdequateRatio float64 // Fraction of Max at which an occupant may leave
	Blacklist     float64 // Cool-off after a resource refuses admission
	Grace         float64 // Post-satisfaction window during which no need is reported
	RestStart     float64 // Hour rest time begins; equal to RestEnd disables rest time
	RestEnd       float64 // Hour rest time ends
	MealWindows   []Window
}

// DefaultNeedParams returns the stock stamina model.
func DefaultNeedParams() NeedParams {
	return NeedParams{
		Max:           100,
		Initial:       100,
		Depletion:     0.8,
		Recovery:      4,
		IdleRecovery:  1,
		Threshold:     0.3,
		MealThreshold: 0.6,
		AdequateRatio: 0.8,
		Blacklist:     20,
		Grace:         10,
		RestStart:     23,
		RestEnd:       6,
	}
}

// NeedController tracks an agent's stamina, the resource it is heading for,
// the resource it is using, and resources that recently turned it away.
type NeedController struct {
	params *NeedParams

	level   float64
	target  *SharedResource
	current *SharedResource

	blacklist map[*SharedResource]float64 // remaining cool-off per resource
	grace     float64
}

// NewNeedController creates a controller starting at params.Initial.
func NewNeedController(params *NeedParams) *NeedController {
	n := &NeedController{
		params:    params,
		blacklist: make(map[*SharedResource]float64),
	}
	n.level = clamp(params.Initial, 0, params.Max)
	return n
}

func clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Level returns the current need level.
func (n *NeedController) Level() float64 { return n.level }

// Max returns the maximum need level.
func (n *NeedController) Max() float64 { return n.params.Max }

// Ratio returns Level/Max.
func (n *NeedController) Ratio() float64 {
	if n.params.Max <= 0 {
		return 0
	}
	return n.level / n.params.Max
}

// Target returns the resource being traveled to, if any.
func (n *NeedController) Target() *SharedResource { return n.target }

// Current returns the resource being used, if any.
func (n *NeedController) Current() *SharedResource { return n.current }

// SetLevel overrides the need level, clamped to [0, Max].
func (n *NeedController) SetLevel(v float64) {
	n.level = clamp(v, 0, n.params.Max)
}

// Deplete applies roaming depletion for dt.
func (n *NeedController) Deplete(dt float64) {
	n.SetLevel(n.level - n.params.Depletion*dt)
}

// Recover adds amount to the level.
func (n *NeedController) Recover(amount float64) {
	n.SetLevel(n.level + amount)
}

// Consume removes cost if the level covers it.
func (n *NeedController) Consume(cost float64) bool {
	if n.level < cost {
		return false
	}
	n.SetLevel(n.level - cost)
	return true
}

// Update counts down the grace window and blacklist entries.
func (n *NeedController) Update(dt float64) {
	if n.grace > 0 {
		n.grace -= dt
		if n.grace < 0 {
			n.grace = 0
		}
	}
	for r, remaining := range n.blacklist {
		remaining -= dt
		if remaining <= 0 {
			delete(n.blacklist, r)
			continue
		}
		n.blacklist[r] = remaining
	}
}

// StartGrace opens the post-satisfaction window.
func (n *NeedController) StartGrace() {
	n.grace = n.params.Grace
}

// InGrace reports whether the post-satisfaction window is open.
func (n *NeedController) InGrace() bool {
	return n.grace > 0
}

// Blacklist excludes r from searches for window time units.
func (n *NeedController) Blacklist(r *SharedResource, window float64) {
	if window <= 0 {
		return
	}
	n.blacklist[r] = window
}

// Blacklisted reports whether r is currently excluded.
func (n *NeedController) Blacklisted(r *SharedResource) bool {
	return n.blacklist[r] > 0
}

// restTime reports whether hour falls inside the configured rest time.
func (n *NeedController) restTime(hour float64) bool {
	start, end := n.params.RestStart, n.params.RestEnd
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (n *NeedController) mealWindow(hour float64) bool {
	for _, w := range n.params.MealWindows {
		if w.Active(hour) {
			return true
		}
	}
	return false
}

// Category returns which kind of resource the agent needs right now, or CategoryNone.
// Rest time outranks meal-window hunger, which outranks generic low stamina.
func (n *NeedController) Category(clock Clock) Category {
	meal := false
	if clock != nil {
		hour := clock.CurrentTimeOfDay()
		if n.restTime(hour) {
			return CategoryRest
		}
		meal = n.mealWindow(hour)
	}
	if meal {
		if n.level < n.params.MealThreshold*n.params.Max {
			return CategoryFood
		}
		return CategoryNone
	}
	if n.level < n.params.Threshold*n.params.Max {
		return CategorySeating
	}
	return CategoryNone
}

// NeedsAttention reports whether any need is active.
func (n *NeedController) NeedsAttention(clock Clock) bool {
	return n.Category(clock) != CategoryNone
}

// Satisfied reports whether an occupant of r has recovered enough to leave.
// Rest resources additionally hold their occupant until rest time is over.
func (n *NeedController) Satisfied(r *SharedResource, clock Clock) bool {
	if n.Ratio() < n.params.AdequateRatio {
		return false
	}
	if r.Category() == CategoryRest && clock != nil && n.restTime(clock.CurrentTimeOfDay()) {
		return false
	}
	return true
}

// FindRecoveryResource returns the nearest resource of category cat visible from
// zone that is available and not blacklisted. Ties keep registration order.
func (n *NeedController) FindRecoveryResource(from world.Vec2, zone world.ZoneID, cat Category, broker *Broker) *SharedResource {
	if broker == nil || cat == CategoryNone {
		return nil
	}
	var best *SharedResource
	bestDist := 0.0
	for _, r := range broker.Resources() {
		if r.Category() != cat || !r.VisibleFrom(zone) || !r.Available() || n.Blacklisted(r) {
			continue
		}
		d := from.Dist(r.Position())
		if best == nil || d < bestDist {
			best = r
			bestDist = d
		}
	}
	return best
}
