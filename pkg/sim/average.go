package sim

import "gonum.org/v1/gonum/stat"

// AverageWindow is the number of ticks flow and speed are averaged over.
const AverageWindow = 32

// rolling keeps the last AverageWindow values.
type rolling struct {
	values [AverageWindow]float64
	next   int
	n      int
}

func (r *rolling) add(v float64) {
	r.values[r.next] = v
	r.next = (r.next + 1) % AverageWindow
	if r.n < AverageWindow {
		r.n++
	}
}

func (r *rolling) mean() float64 {
	if r.n == 0 {
		return 0
	}
	return stat.Mean(r.values[:r.n], nil)
}

func (r *rolling) reset() { *r = rolling{} }
