// Package heightfield keeps a dense grid of the highest material
// deposited over the print area.
//
// Cells only ever grow: every write is a point-wise max, so beads may
// overlap or self-intersect freely. Queries outside the grid are clamped
// to the nearest edge cell.
package heightfield

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	simerrors "vrprinter-go/pkg/errors"
)

// Query tolerances in millimeters.
const (
	// ThicknessEpsilon hides material at the query height from HeightAt.
	ThicknessEpsilon = 0.001
	// DanglingMargin is added to the printable thickness before a cell
	// counts as too low to support the nozzle.
	DanglingMargin = 0.05
	// OverlapMargin is how far below the query height a cell may sit
	// and still count as already filled.
	OverlapMargin = 0.01

	maxCells = 1 << 28
)

// Box is the planar extent covered by a field.
type Box struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Width returns the extent along X.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Depth returns the extent along Y.
func (b Box) Depth() float64 { return b.MaxY - b.MinY }

// Field is a grid of float32 heights with a fixed cell size.
type Field struct {
	box    Box
	step   float64
	nx, ny int
	cells  []float32
	top    float32 // highest cell
}

// Allocate creates a zero-filled field covering box at step mm per cell.
// Each axis gets at least one cell.
func Allocate(box Box, step float64) (*Field, error) {
	if !(step > 0) {
		return nil, simerrors.HeightFieldError("cell size must be positive").
			SetContext("step", step)
	}
	if box.Width() < 0 || box.Depth() < 0 {
		return nil, simerrors.HeightFieldError("empty bounding box").
			SetContext("box", box)
	}
	nx := max(1, int(math.Ceil(box.Width()/step)))
	ny := max(1, int(math.Ceil(box.Depth()/step)))
	if nx*ny > maxCells {
		return nil, simerrors.HeightFieldError("height field too large").
			SetContext("cells", nx*ny).
			SetContext("step", step)
	}
	return &Field{
		box:   box,
		step:  step,
		nx:    nx,
		ny:    ny,
		cells: make([]float32, nx*ny),
	}, nil
}

// Box returns the covered extent.
func (f *Field) Box() Box { return f.box }

// Step returns the cell size in millimeters.
func (f *Field) Step() float64 { return f.step }

// Size returns the grid dimensions in cells.
func (f *Field) Size() (nx, ny int) { return f.nx, f.ny }

// Bytes returns the memory held by the cells.
func (f *Field) Bytes() int { return len(f.cells) * 4 }

// Fill sets every cell to v.
func (f *Field) Fill(v float32) {
	for i := range f.cells {
		f.cells[i] = v
	}
	f.top = v
}

// Max returns the highest cell value. It is tracked on every write, so
// the call does not scan the grid.
func (f *Field) Max() float32 { return f.top }

// At returns the cell (i, j), clamped to the grid.
func (f *Field) At(i, j int) float32 {
	return f.cells[f.offset(i, j)]
}

func (f *Field) offset(i, j int) int {
	i = min(max(i, 0), f.nx-1)
	j = min(max(j, 0), f.ny-1)
	return j*f.nx + i
}

// cell returns the grid index nearest to (x, y), unclamped.
func (f *Field) cell(x, y float64) (int, int) {
	return int(math.Round((x - f.box.MinX) / f.step)),
		int(math.Round((y - f.box.MinY) / f.step))
}

// cellsIn returns the neighborhood radius in cells for r millimeters.
func (f *Field) cellsIn(r float64) int {
	return int(math.Round(r / f.step))
}

// disk visits every cell strictly closer than n cells to (ci, cj), edge
// cells repeated where the disk leaves the grid. With rim set, cells at
// exactly n cells are visited too. n = 0 visits nothing unless rim is
// set.
func (f *Field) disk(ci, cj, n int, rim bool, fn func(k int)) {
	r2 := n * n
	if rim {
		r2++
	}
	for dj := -n; dj <= n; dj++ {
		for di := -n; di <= n; di++ {
			if di*di+dj*dj < r2 {
				fn(f.offset(ci+di, cj+dj))
			}
		}
	}
}

// HeightAt returns the highest material within r of p that lies
// strictly below p.Z. Material at p.Z itself is ignored so a bead does
// not support itself. The neighborhood includes its rim, so r = 0 still
// reads the cells around p.
func (f *Field) HeightAt(p r3.Vec, r float64) float64 {
	ci, cj := f.cell(p.X, p.Y)
	limit := p.Z - ThicknessEpsilon
	h := 0.0
	f.disk(ci, cj, max(1, f.cellsIn(r)), true, func(k int) {
		if v := float64(f.cells[k]); v < limit {
			h = math.Max(h, v)
		}
	})
	return h
}

// RasterizeDisk raises every cell within r of (x, y) to at least z.
func (f *Field) RasterizeDisk(x, y, z, r float64) {
	ci, cj := f.cell(x, y)
	n := f.cellsIn(r)
	z32 := float32(z)
	f.disk(ci, cj, n, false, func(k int) {
		if f.cells[k] < z32 {
			f.cells[k] = z32
		}
	})
	if n > 0 && z32 > f.top {
		f.top = z32
	}
}

// RasterizeSegment rasterizes disks of radius r every cell step from a
// towards b, at the interpolated height. A segment without planar
// extent becomes a single disk at the higher end.
func (f *Field) RasterizeSegment(a, b r3.Vec, r float64) {
	d := r3.Sub(b, a)
	length := math.Hypot(d.X, d.Y)
	if length < 1e-6 {
		f.RasterizeDisk(a.X, a.Y, math.Max(a.Z, b.Z), r)
		return
	}
	dir := r3.Scale(f.step/length, d)
	cur := a
	for l := 0.0; l < length; l += f.step {
		f.RasterizeDisk(cur.X, cur.Y, cur.Z, r)
		cur = r3.Add(cur, dir)
	}
}

// fraction returns the share of cells within r of p for which pred holds.
func (f *Field) fraction(p r3.Vec, r float64, pred func(v float64) bool) float64 {
	ci, cj := f.cell(p.X, p.Y)
	hit, total := 0, 0
	f.disk(ci, cj, max(1, f.cellsIn(r)), false, func(k int) {
		if pred(float64(f.cells[k])) {
			hit++
		}
		total++
	})
	return float64(hit) / float64(total)
}

// DanglingFractionAt returns the share of cells within r of p that are
// more than maxThickness below p.Z, too far for a bead to bridge.
func (f *Field) DanglingFractionAt(maxThickness float64, p r3.Vec, r float64) float64 {
	return f.fraction(p, r, func(v float64) bool {
		return v+maxThickness+DanglingMargin < p.Z
	})
}

// OverlapFractionAt returns the share of cells within r of p already at
// or above p.Z.
func (f *Field) OverlapFractionAt(p r3.Vec, r float64) float64 {
	return f.fraction(p, r, func(v float64) bool {
		return v+OverlapMargin > p.Z
	})
}
