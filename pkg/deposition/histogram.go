package deposition

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"vrprinter-go/pkg/pool"
)

// BucketWidth is the run-length quantum of the histograms, in mm.
const BucketWidth = 0.1

// Bucket is one histogram bin. Index is the run length in BucketWidth
// units, or the rank of the bin after filtering.
type Bucket struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Histogram counts defect runs by quantized length.
type Histogram struct {
	name    string
	counts  map[int]int
	lengths []float64
}

// NewHistogram creates an empty histogram.
func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, counts: make(map[int]int)}
}

// Name returns the histogram's label.
func (h *Histogram) Name() string { return h.name }

// Add records one run and returns its bucket.
func (h *Histogram) Add(length float64) int {
	b := int(math.Round(length / BucketWidth))
	h.counts[b]++
	h.lengths = append(h.lengths, length)
	return b
}

// Total returns the number of runs recorded.
func (h *Histogram) Total() int { return len(h.lengths) }

// Count returns the number of runs in bucket b.
func (h *Histogram) Count(b int) int { return h.counts[b] }

// Reset forgets every run.
func (h *Histogram) Reset() {
	h.counts = make(map[int]int)
	h.lengths = h.lengths[:0]
}

// Buckets returns the non-empty buckets in increasing order.
func (h *Histogram) Buckets() []Bucket {
	out := make([]Bucket, 0, len(h.counts))
	for b, n := range h.counts {
		out = append(out, Bucket{Index: b, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Filter keeps the buckets holding more than 1-keep of all runs and
// renumbers them 0, 1, 2... in order. keep=1 keeps every bucket.
func (h *Histogram) Filter(keep float64) []Bucket {
	all := h.Buckets()
	total := float64(h.Total())
	out := make([]Bucket, 0, len(all))
	for _, b := range all {
		if float64(b.Count)/total <= 1-keep {
			continue
		}
		out = append(out, Bucket{Index: len(out), Count: b.Count})
	}
	return out
}

// Stats summarizes run lengths in mm.
type Stats struct {
	Runs   int     `json:"runs"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// Stats computes summary statistics over the recorded runs.
func (h *Histogram) Stats() Stats {
	s := Stats{Runs: len(h.lengths)}
	if s.Runs == 0 {
		return s
	}
	sorted := pool.GetFloat64Slice(s.Runs)
	defer pool.PutFloat64Slice(sorted)
	copy(sorted, h.lengths)
	sort.Float64s(sorted)

	s.Total = floats.Sum(sorted)
	s.Max = floats.Max(sorted)
	s.Mean = stat.Mean(sorted, nil)
	if s.Runs > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	return s
}

// WriteText prints buckets as a bar chart, one line per bucket.
func WriteText(w io.Writer, buckets []Bucket) error {
	peak := 0
	for _, b := range buckets {
		peak = max(peak, b.Count)
	}
	for _, b := range buckets {
		bar := 0
		if peak > 0 {
			bar = int(math.Round(40 * float64(b.Count) / float64(peak)))
		}
		if _, err := fmt.Fprintf(w, "%4d | %-40s %d\n", b.Index, strings.Repeat("#", bar), b.Count); err != nil {
			return err
		}
	}
	return nil
}

// WriteTeX writes buckets as a pgfplots bar chart.
func WriteTeX(w io.Writer, buckets []Bucket, ylabel string) error {
	var sb strings.Builder
	sb.WriteString("\\begin{tikzpicture}\n")
	fmt.Fprintf(&sb, "\\begin{axis}[ybar, bar width=4pt, xlabel={run length}, ylabel={%s}, ymin=0]\n", ylabel)
	sb.WriteString("\\addplot coordinates {")
	for _, b := range buckets {
		fmt.Fprintf(&sb, " (%d,%d)", b.Index, b.Count)
	}
	sb.WriteString(" };\n")
	sb.WriteString("\\end{axis}\n\\end{tikzpicture}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
