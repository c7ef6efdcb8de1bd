package deposition

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Defect kinds, as reported to observers.
const (
	KindDangling = "dangling"
	KindOverlap  = "overlap"
)

// run is the two-state machine behind each defect kind.
type run struct {
	active bool
	start  float64 // odometer at entry

	// dangling only
	anchored   bool // entered straight from a supported print move
	trajectory []Sample
}

func (r *run) enter(odometer float64) {
	r.active = true
	r.start = odometer
	r.trajectory = r.trajectory[:0]
}

// exit closes the run and returns its length.
func (r *run) exit(odometer float64) float64 {
	r.active = false
	return odometer - r.start
}

func (r *run) reset() {
	*r = run{trajectory: r.trajectory[:0]}
}

// IsBridge reports whether every sample lies within tolerance of the
// straight line through the first and last sample, measured in the XY
// plane. Runs with fewer than two samples, or that end where they
// started, are not bridges.
func IsBridge(samples []Sample, tolerance float64) bool {
	if len(samples) < 2 {
		return false
	}
	first := planar(samples[0].Pos)
	chord := r3.Sub(planar(samples[len(samples)-1].Pos), first)
	length := r3.Norm(chord)
	if length < 1e-6 {
		return false
	}
	dir := r3.Scale(1/length, chord)
	for _, s := range samples {
		d := r3.Cross(dir, r3.Sub(planar(s.Pos), first))
		if math.Abs(d.Z) > tolerance {
			return false
		}
	}
	return true
}

func planar(p r3.Vec) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y}
}
