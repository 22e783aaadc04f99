// Walkability grid generation using layered simplex noise.
// Clutter (crates, stalls, rubble) is carved out of an otherwise open floor.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GridConfig holds walkability grid parameters.
type GridConfig struct {
	Width    float64 // World extent along X
	Height   float64 // World extent along Y
	CellSize float64 // Edge length of one grid cell
	Seed     int64   // Noise seed
	Clutter  float64 // 0 disables; higher values carve more unwalkable cells (0.0–1.0)
	Scale    float64 // Noise frequency per world unit
}

// DefaultGridConfig returns an open 64×64 floor with light clutter.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		Width:    64,
		Height:   64,
		CellSize: 1,
		Seed:     42,
		Clutter:  0.08,
		Scale:    0.15,
	}
}

// Grid marks which cells of the floor can be stood on.
type Grid struct {
	cols, rows int
	cellSize   float64
	width      float64
	height     float64
	walkable   []bool
}

// NewGrid generates a grid. Cells whose noise value exceeds 1-Clutter are blocked.
func NewGrid(cfg GridConfig) *Grid {
	if cfg.CellSize <= 0 {
		cfg.CellSize = 1
	}
	cols := int(math.Ceil(cfg.Width / cfg.CellSize))
	rows := int(math.Ceil(cfg.Height / cfg.CellSize))
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	g := &Grid{
		cols:     cols,
		rows:     rows,
		cellSize: cfg.CellSize,
		width:    cfg.Width,
		height:   cfg.Height,
		walkable: make([]bool, cols*rows),
	}

	var noise opensimplex.Noise
	if cfg.Clutter > 0 {
		noise = opensimplex.NewNormalized(cfg.Seed)
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 0.15
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			open := true
			if noise != nil {
				cx := (float64(col) + 0.5) * cfg.CellSize
				cy := (float64(row) + 0.5) * cfg.CellSize
				open = octaveNoise(noise, cx, cy, 3, scale, 0.5) <= 1-cfg.Clutter
			}
			g.walkable[row*cols+col] = open
		}
	}
	return g
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func (g *Grid) locate(p Vec2) (int, int, bool) {
	if p.X < 0 || p.Y < 0 || p.X > g.width || p.Y > g.height {
		return 0, 0, false
	}
	col := int(p.X / g.cellSize)
	row := int(p.Y / g.cellSize)
	if col >= g.cols {
		col = g.cols - 1
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row, true
}

// Walkable reports whether p is inside the floor and on an open cell.
func (g *Grid) Walkable(p Vec2) bool {
	col, row, ok := g.locate(p)
	if !ok {
		return false
	}
	return g.walkable[row*g.cols+col]
}

// SetWalkable opens or blocks the cell containing p. Points outside the floor are ignored.
func (g *Grid) SetWalkable(p Vec2, open bool) {
	col, row, ok := g.locate(p)
	if !ok {
		return
	}
	g.walkable[row*g.cols+col] = open
}

// WalkableCount returns the number of open cells.
func (g *Grid) WalkableCount() int {
	n := 0
	for _, w := range g.walkable {
		if w {
			n++
		}
	}
	return n
}

// CellCount returns the total number of cells.
func (g *Grid) CellCount() int {
	return len(g.walkable)
}

// Clear opens every cell whose center lies within radius of center.
func (g *Grid) Clear(center Vec2, radius float64) {
	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			c := Vec2{X: (float64(col) + 0.5) * g.cellSize, Y: (float64(row) + 0.5) * g.cellSize}
			if c.Dist(center) <= radius {
				g.walkable[row*g.cols+col] = true
			}
		}
	}
}
