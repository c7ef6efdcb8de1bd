package sim

import "vrprinter-go/pkg/deposition"

// Status is a point-in-time view of a session, safe to hand to other
// goroutines.
type Status struct {
	Line     int     `json:"line"`
	Lines    int     `json:"lines"`
	Progress float64 `json:"progress"`

	Position  [3]float64 `json:"position"`
	Extruder  int        `json:"extruder"`
	Extruders []int      `json:"extruders"`
	Travel    bool       `json:"travel"`

	Flow     float64 `json:"flow"`  // mm³/ms
	Speed    float64 `json:"speed"` // mm/s
	AvgFlow  float64 `json:"avg_flow"`
	AvgSpeed float64 `json:"avg_speed"`

	Thickness        float64 `json:"thickness"`
	Radius           float64 `json:"radius"`
	DepositionLength float64 `json:"deposition_length"`
	Pending          int     `json:"pending_beads"`
	MaxHeight        float64 `json:"max_height"`

	InDangling   bool `json:"in_dangling"`
	InOverlap    bool `json:"in_overlap"`
	DanglingRuns int  `json:"dangling_runs"`
	OverlapRuns  int  `json:"overlap_runs"`

	Paused    bool   `json:"paused"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// HistogramReport is one filtered defect histogram with its statistics.
type HistogramReport struct {
	Buckets []deposition.Bucket `json:"buckets"`
	Stats   deposition.Stats    `json:"stats"`
}

// Histograms holds both defect histograms.
type Histograms struct {
	Dangling HistogramReport `json:"dangling"`
	Overlap  HistogramReport `json:"overlap"`
}

func report(h *deposition.Histogram, keep float64) HistogramReport {
	return HistogramReport{Buckets: h.Filter(keep), Stats: h.Stats()}
}
