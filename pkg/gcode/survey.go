package gcode

import (
	"math"

	"vrprinter-go/pkg/log"
)

// Bounds is an axis-aligned box over waypoint positions.
type Bounds struct {
	Min, Max [3]float64
}

// EmptyBounds returns a box that contains nothing.
func EmptyBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{
		Min: [3]float64{inf, inf, inf},
		Max: [3]float64{-inf, -inf, -inf},
	}
}

// Empty reports whether no point was added.
func (b Bounds) Empty() bool { return b.Min[0] > b.Max[0] }

// Add grows the box to include p.
func (b *Bounds) Add(p [3]float64) {
	for i := range p {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
}

// Extent returns the size of the box along each axis.
func (b Bounds) Extent() [3]float64 {
	if b.Empty() {
		return [3]float64{}
	}
	return [3]float64{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

// Translate shifts the box by d.
func (b *Bounds) Translate(d [3]float64) {
	if b.Empty() {
		return
	}
	for i := range d {
		b.Min[i] += d[i]
		b.Max[i] += d[i]
	}
}

// Summary is what a full pass over a G-code text reveals.
type Summary struct {
	Bounds           Bounds
	Lines            int
	Waypoints        int
	Extruders        []int
	FilamentDiameter float64
	Err              error // first parse error, if any
}

// Survey runs an interpreter over the whole text and returns its
// summary. The survey stops at the first parse error; Bounds and Lines
// then cover the text up to it.
func Survey(text string, opts Options) Summary {
	in := NewInterpreter(opts)
	in.Start(text)

	s := Summary{Bounds: EmptyBounds()}
	for in.Advance() {
		p := in.Waypoint().Pos
		s.Bounds.Add([3]float64{p.X, p.Y, p.Z})
		s.Waypoints++
	}
	s.Lines = in.Line()
	s.Extruders = in.ExtruderIDs()
	s.FilamentDiameter = in.FilamentDiameter()
	s.Err = in.Err()

	in.logger.WithFields(log.Fields{
		"lines":     s.Lines,
		"waypoints": s.Waypoints,
		"extruders": len(s.Extruders),
	}).Debug("surveyed gcode")
	return s
}
