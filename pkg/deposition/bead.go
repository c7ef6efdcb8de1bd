package deposition

import "math"

// DiskArea returns the area of a disk of radius r.
func DiskArea(r float64) float64 {
	return math.Pi * r * r
}

// CapArea returns the area of the circular segment of height h cut from
// the top of a disk of radius r.
func CapArea(r, h float64) float64 {
	return r*r*math.Acos((r-h)/r) - (r-h)*math.Sqrt(2*r*h-h*h)
}

// SquashedRadius returns the radius of a disk that, once clipped to a
// band of half-height h around its center, keeps the area of a round
// bead of radius r. Beads pressed onto the layer below widen this way.
func SquashedRadius(r, h float64) float64 {
	target := DiskArea(r)
	lo, hi := 0.0, 10*r
	for math.Abs(lo-hi) > 1e-6 {
		m := (lo + hi) / 2
		if DiskArea(m)-2*CapArea(m, m-h) > target {
			hi = m
		} else {
			lo = m
		}
	}
	return hi
}
