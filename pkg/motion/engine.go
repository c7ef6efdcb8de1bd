// Package motion turns discrete G-code waypoints into a continuous,
// time-stepped nozzle trajectory.
package motion

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"vrprinter-go/pkg/gcode"
)

// Epsilon is the length and extrusion tolerance below which a move
// component is considered zero.
const Epsilon = 1e-6

// Source supplies waypoints. *gcode.Interpreter satisfies it.
type Source interface {
	Advance() bool
	Waypoint() gcode.Waypoint
	FeedRate() float64
}

// Engine sub-steps from the current position towards the source's
// pending waypoint. It never moves past a waypoint within one Step.
type Engine struct {
	src              Source
	filamentDiameter float64

	cur    gcode.Position // interpolated position
	prev   gcode.Position // last waypoint reached
	travel bool
	ratio  float64 // extrusion per unit of distance
}

// NewEngine creates an engine reading from src.
func NewEngine(src Source) *Engine {
	return &Engine{src: src, filamentDiameter: gcode.DefaultFilamentDiameter}
}

// Start resets the engine and pulls the first waypoint.
func (m *Engine) Start(filamentDiameter float64) bool {
	m.Reset(filamentDiameter)
	return m.src.Advance()
}

// Reset places the engine on the source's current waypoint without
// pulling a new one.
func (m *Engine) Reset(filamentDiameter float64) {
	m.filamentDiameter = filamentDiameter
	m.travel = false
	m.ratio = 0
	m.cur = m.src.Waypoint().Pos
	m.prev = m.cur
}

// Position returns the interpolated nozzle position.
func (m *Engine) Position() gcode.Position { return m.cur }

// ExtrusionRatio returns filament length per unit of distance for the
// segment being executed.
func (m *Engine) ExtrusionRatio() float64 { return m.ratio }

// IsTravel reports whether the segment being executed extrudes nothing.
func (m *Engine) IsTravel() bool { return m.travel }

// FilamentDiameter returns the diameter used for flow computations.
func (m *Engine) FilamentDiameter() float64 { return m.filamentDiameter }

// Flow returns the volumetric flow of the segment being executed in
// mm³/ms. It uses the commanded feed rate, not the sub-stepped one.
func (m *Engine) Flow() float64 {
	feed := m.src.FeedRate()
	if feed < 1 {
		return 0
	}
	target := m.src.Waypoint().Pos
	length := r3.Norm(r3.Sub(xyz(target), xyz(m.prev)))
	seconds := length / feed
	if seconds < Epsilon {
		return 0
	}
	volume := (target.E - m.prev.E) * CrossSection(m.filamentDiameter)
	return volume / seconds / 1000
}

// CrossSection returns the area of a filament of diameter d.
func CrossSection(d float64) float64 {
	return math.Pi * d * d / 4
}

// segmentRatio is Δe/|Δxyz| from the last waypoint reached to the target.
func (m *Engine) segmentRatio(target gcode.Position) float64 {
	length := r3.Norm(r3.Sub(xyz(target), xyz(m.prev)))
	if length < Epsilon {
		return 0
	}
	return (target.E - m.prev.E) / length
}

// Step advances by at most budgetMs milliseconds of motion. It returns
// the time actually consumed, which is less than the budget when a
// waypoint is reached, and whether the source is exhausted.
func (m *Engine) Step(budgetMs float64) (consumedMs float64, done bool) {
	wp := m.src.Waypoint()
	target := wp.Pos
	feed := m.src.FeedRate()

	delta := r3.Sub(xyz(target), xyz(m.cur))
	length := r3.Norm(delta)
	deltaE := target.E - m.cur.E

	m.ratio = m.segmentRatio(target)
	m.travel = math.Abs(deltaE) < Epsilon

	reached := false
	consumedMs = budgetMs
	var step r3.Vec
	var stepE float64

	switch {
	case feed <= Epsilon:
		// no speed, nothing to integrate
		reached = true
		consumedMs = 0

	case length < Epsilon && math.Abs(deltaE) > Epsilon:
		// stationary nozzle, filament only
		stepLen := budgetMs * feed / 1000
		if stepLen > math.Abs(deltaE) {
			reached = true
			consumedMs = math.Abs(deltaE) * 1000 / feed
			stepLen = math.Abs(deltaE)
		}
		stepE = math.Copysign(stepLen, deltaE)

	case length >= Epsilon:
		stepLen := budgetMs * feed / 1000
		if stepLen > length {
			reached = true
			consumedMs = length * 1000 / feed
			stepLen = length
		}
		step = r3.Scale(stepLen, r3.Unit(delta))
		stepE = stepLen * m.ratio

	default:
		reached = true
		consumedMs = 0
	}

	if reached {
		m.cur = target
		m.prev = target
		return consumedMs, !m.src.Advance()
	}
	m.cur.X += step.X
	m.cur.Y += step.Y
	m.cur.Z += step.Z
	m.cur.E += stepE
	return consumedMs, false
}

// Status returns a snapshot for status reporting.
func (m *Engine) Status() map[string]interface{} {
	return map[string]interface{}{
		"position":        []float64{m.cur.X, m.cur.Y, m.cur.Z, m.cur.E},
		"travel":          m.travel,
		"extrusion_ratio": m.ratio,
		"flow":            m.Flow(),
	}
}

func xyz(p gcode.Position) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}
