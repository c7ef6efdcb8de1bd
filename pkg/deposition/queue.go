package deposition

import (
	"gonum.org/v1/gonum/spatial/r3"

	"vrprinter-go/pkg/heightfield"
)

// Segment is a printed bead waiting to be written into the height field.
type Segment struct {
	A, B      r3.Vec
	DepLength float64 // odometer reading when the bead was laid
	Radius    float64
}

// Queue holds segments in print order. Segments are appended at the
// back and committed from the front only.
type Queue struct {
	items []Segment
	head  int
}

// Push appends s.
func (q *Queue) Push(s Segment) {
	q.items = append(q.items, s)
}

// Len returns the number of pending segments.
func (q *Queue) Len() int { return len(q.items) - q.head }

// Front returns the oldest pending segment. It panics on an empty queue.
func (q *Queue) Front() Segment { return q.items[q.head] }

// PopFront drops the oldest pending segment.
func (q *Queue) PopFront() {
	q.items[q.head] = Segment{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}

// Clear drops every pending segment.
func (q *Queue) Clear() {
	q.items = q.items[:0]
	q.head = 0
}

// Commit rasterizes segments from the front while ready reports true
// and returns how many were written. It stops at the first segment that
// is not ready: Z only grows along the print, so later segments cannot
// be ready either.
func (q *Queue) Commit(f *heightfield.Field, ready func(Segment) bool) int {
	n := 0
	for q.Len() > 0 {
		s := q.Front()
		if !ready(s) {
			break
		}
		f.RasterizeSegment(s.A, s.B, s.Radius)
		q.PopFront()
		n++
	}
	return n
}
