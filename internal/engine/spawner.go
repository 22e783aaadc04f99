// Population spawning: names, starting positions and starting stamina.
package engine

import (
	"math/rand"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/world"
)

// Group describes a batch of agents sharing a mode and a zone.
type Group struct {
	Count       int
	Mode        agents.Mode
	Zone        world.ZoneID
	Trading     float64 // Fraction of the group given the trading capability
	ActiveHours agents.Window
	MinNeed     float64 // Starting stamina is drawn from [MinNeed, MaxNeed]
	MaxNeed     float64
}

// Spawner creates agents for the simulation.
type Spawner struct {
	rng  *rand.Rand
	area agents.Area
}

// NewSpawner creates a spawner with the given seed. area may be nil, in which
// case every agent starts at the origin.
func NewSpawner(seed int64, area agents.Area) *Spawner {
	return &Spawner{
		rng:  rand.New(rand.NewSource(seed + 300)),
		area: area,
	}
}

// Populate registers g.Count agents with sim.
func (sp *Spawner) Populate(sim *Simulation, g Group) []*agents.Agent {
	out := make([]*agents.Agent, 0, g.Count)
	for i := 0; i < g.Count; i++ {
		spec := agents.Spec{
			Name:        sp.Name(),
			Mode:        g.Mode,
			Zone:        g.Zone,
			ActiveHours: g.ActiveHours,
		}
		if sp.rng.Float64() < g.Trading {
			spec.Caps |= agents.CapTrading
		}
		a := sim.Register(spec, sp.startPosition(g))
		if g.MaxNeed > 0 {
			sim.mu.Lock()
			a.Needs().SetLevel(g.MinNeed + sp.rng.Float64()*(g.MaxNeed-g.MinNeed))
			sim.mu.Unlock()
		}
		out = append(out, a)
	}
	return out
}

func (sp *Spawner) startPosition(g Group) world.Vec2 {
	if sp.area == nil {
		return world.Vec2{}
	}
	if g.Mode == agents.ModeFixedPath {
		if p, _, ok := sp.area.EvaluatePath(g.Zone, sp.rng.Float64()); ok {
			return p
		}
	}
	if p, ok := sp.area.RandomPointInZone(g.Zone); ok {
		return p
	}
	return world.Vec2{}
}

// Name generates a random first and last name.
func (sp *Spawner) Name() string {
	var firsts []string
	if sp.rng.Intn(2) == 0 {
		firsts = maleNames
	} else {
		firsts = femaleNames
	}
	first := firsts[sp.rng.Intn(len(firsts))]
	last := lastNames[sp.rng.Intn(len(lastNames))]
	return first + " " + last
}

// Name pools for procedural generation.
var maleNames = []string{
	"Aldric", "Bram", "Cedric", "Doran", "Erik", "Finn", "Gareth",
	"Halvard", "Ivan", "Jasper", "Kael", "Leif", "Magnus", "Nils",
	"Oswin", "Per", "Quinn", "Rowan", "Stellan", "Theron", "Ulric",
}

var femaleNames = []string{
	"Astrid", "Brenna", "Calla", "Daria", "Elara", "Freya", "Greta",
	"Helene", "Iris", "Juno", "Kira", "Lena", "Mira", "Nessa",
	"Olwen", "Petra", "Runa", "Senna", "Thea", "Una", "Vera",
}

var lastNames = []string{
	"Voss", "Thornwood", "Ashford", "Dunmore", "Greenvale", "Millward",
	"Copperfield", "Deepwell", "Brightwater", "Redforge", "Marshwood",
	"Holloway", "Farrow", "Thatcher", "Briar", "Harper", "Mercer", "Ward",
}
