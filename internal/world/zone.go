package world

import (
	"errors"
	"fmt"
	"sort"
)

// ZoneID identifies a roaming region or a fixed path.
type ZoneID uint32

// Zone is either a bounding region agents roam inside, or a fixed path they traverse.
// A zone with a non-nil Path is a path zone; Min/Max still bound it for placement.
type Zone struct {
	ID   ZoneID
	Min  Vec2
	Max  Vec2
	Path *Path
}

// Contains reports whether p lies inside the zone's bounding region.
func (z Zone) Contains(p Vec2) bool {
	return p.X >= z.Min.X && p.X <= z.Max.X && p.Y >= z.Min.Y && p.Y <= z.Max.Y
}

// Path is a polyline evaluated by normalized arc length t in [0,1].
type Path struct {
	points []Vec2
	cum    []float64 // cumulative length at each point
	length float64
}

// ErrDegeneratePath is returned for paths with fewer than two distinct points.
var ErrDegeneratePath = errors.New("path needs at least two distinct points")

// NewPath builds a path through the given points.
func NewPath(points []Vec2) (*Path, error) {
	if len(points) < 2 {
		return nil, ErrDegeneratePath
	}
	p := &Path{
		points: append([]Vec2(nil), points...),
		cum:    make([]float64, len(points)),
	}
	for i := 1; i < len(points); i++ {
		p.cum[i] = p.cum[i-1] + points[i].Dist(points[i-1])
	}
	p.length = p.cum[len(points)-1]
	if p.length == 0 {
		return nil, fmt.Errorf("%w: zero length", ErrDegeneratePath)
	}
	return p, nil
}

// Length returns the total arc length.
func (p *Path) Length() float64 {
	return p.length
}

// Points returns a copy of the control points.
func (p *Path) Points() []Vec2 {
	return append([]Vec2(nil), p.points...)
}

// Evaluate returns the position and unit tangent at normalized arc length t.
// t is clamped to [0,1].
func (p *Path) Evaluate(t float64) (Vec2, Vec2) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	d := t * p.length

	// First segment whose end lies at or beyond d.
	i := sort.SearchFloat64s(p.cum, d)
	if i == 0 {
		i = 1
	}
	if i >= len(p.points) {
		i = len(p.points) - 1
	}
	a, b := p.points[i-1], p.points[i]
	seg := p.cum[i] - p.cum[i-1]
	tangent := b.Sub(a).Normalize()
	if seg == 0 {
		return a, tangent
	}
	return a.Lerp(b, (d-p.cum[i-1])/seg), tangent
}
