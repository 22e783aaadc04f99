// Package world provides planar geometry, zones, parametric paths, the walkability
// grid, and a reference navigator that agents steer through.
package world

import "math"

// Vec2 is a point or direction on the walkable plane.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns v scaled by f.
func (v Vec2) Scale(f float64) Vec2 {
	return Vec2{X: v.X * f, Y: v.Y * f}
}

// Len returns the Euclidean length of v.
func (v Vec2) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// Dist returns the straight-line distance between v and o.
func (v Vec2) Dist(o Vec2) float64 {
	return v.Sub(o).Len()
}

// Normalize returns a unit vector in the direction of v. The zero vector stays zero.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{X: v.X / l, Y: v.Y / l}
}

// Perp returns v rotated a quarter turn counter-clockwise.
func (v Vec2) Perp() Vec2 {
	return Vec2{X: -v.Y, Y: v.X}
}

// Lerp interpolates between v and o by t.
func (v Vec2) Lerp(o Vec2, t float64) Vec2 {
	return Vec2{X: v.X + (o.X-v.X)*t, Y: v.Y + (o.Y-v.Y)*t}
}

// MoveToward steps from v toward target by at most step, snapping when close enough.
func (v Vec2) MoveToward(target Vec2, step float64) Vec2 {
	d := target.Sub(v)
	l := d.Len()
	if l <= step || l == 0 {
		return target
	}
	return v.Add(d.Scale(step / l))
}
