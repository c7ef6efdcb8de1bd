// Simulator metrics definitions
//
// Defines the metrics exported by the deposition simulator:
// - Move classification counters
// - Dangling / overlap run statistics
// - Progress gauges
// - Go runtime metrics
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// SimMetrics holds all simulator metrics
type SimMetrics struct {
	// Move metrics
	PrintMoves  *Counter
	TravelMoves *Counter

	// Defect metrics
	DanglingRuns   *Counter
	OverlapRuns    *Counter
	Bridges        *Counter
	Autopauses     *Counter
	DanglingRunLen *Histogram
	OverlapRunLen  *Histogram

	// Progress metrics
	GCodeLine        *Gauge
	DepositionLength *Gauge
	Flow             *Gauge
	Speed            *Gauge
	GCodeErrors      *Counter
	FrameTime        *Histogram

	// System metrics
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge
	Uptime       *Gauge

	startTime time.Time
	registry  *Registry
}

// NewSimMetrics creates and registers all simulator metrics
func NewSimMetrics() *SimMetrics {
	runBuckets := LinearBuckets(0.5, 0.5, 20)

	sm := &SimMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),

		PrintMoves: NewCounter("vrprinter_print_moves_total",
			"Simulation ticks classified as print moves"),
		TravelMoves: NewCounter("vrprinter_travel_moves_total",
			"Simulation ticks classified as travel moves"),

		DanglingRuns: NewCounter("vrprinter_dangling_runs_total",
			"Completed dangling (overhang) runs"),
		OverlapRuns: NewCounter("vrprinter_overlap_runs_total",
			"Completed overlap runs"),
		Bridges: NewCounter("vrprinter_bridges_total",
			"Dangling runs classified as bridges"),
		Autopauses: NewCounter("vrprinter_autopause_total",
			"Auto-pause requests by defect kind"),
		DanglingRunLen: NewHistogram("vrprinter_dangling_run_mm",
			"Length of dangling runs in millimeters", runBuckets),
		OverlapRunLen: NewHistogram("vrprinter_overlap_run_mm",
			"Length of overlap runs in millimeters", runBuckets),

		GCodeLine: NewGauge("vrprinter_gcode_line",
			"Line of G-code currently being simulated"),
		DepositionLength: NewGauge("vrprinter_deposition_length_mm",
			"Cumulative deposition length"),
		Flow: NewGauge("vrprinter_flow_mm3_per_ms",
			"Current volumetric flow"),
		Speed: NewGauge("vrprinter_speed_mm_s",
			"Current commanded feed rate"),
		GCodeErrors: NewCounter("vrprinter_gcode_errors_total",
			"G-code parse errors that stopped a session"),
		FrameTime: NewHistogram("vrprinter_frame_seconds",
			"Wall time spent simulating one frame", DefaultBuckets()),

		GoGoroutines: NewGauge("vrprinter_go_goroutines",
			"Number of goroutines"),
		GoMemoryHeap: NewGauge("vrprinter_go_memory_heap_bytes",
			"Heap memory in use"),
		Uptime: NewGauge("vrprinter_uptime_seconds",
			"Seconds since the simulator started"),
	}

	for _, m := range []Metric{
		sm.PrintMoves, sm.TravelMoves,
		sm.DanglingRuns, sm.OverlapRuns, sm.Bridges, sm.Autopauses,
		sm.DanglingRunLen, sm.OverlapRunLen,
		sm.GCodeLine, sm.DepositionLength, sm.Flow, sm.Speed, sm.GCodeErrors, sm.FrameTime,
		sm.GoGoroutines, sm.GoMemoryHeap, sm.Uptime,
	} {
		sm.registry.MustRegister(m)
	}
	return sm
}

// RecordMove counts one simulated tick
func (sm *SimMetrics) RecordMove(travel bool) {
	if travel {
		sm.TravelMoves.Inc(nil)
	} else {
		sm.PrintMoves.Inc(nil)
	}
}

// RecordRun records a completed dangling or overlap run. kind is
// "dangling" or "overlap".
func (sm *SimMetrics) RecordRun(kind string, length float64, bridge, autopause bool) {
	switch kind {
	case "dangling":
		sm.DanglingRuns.Inc(nil)
		sm.DanglingRunLen.Observe(nil, length)
		if bridge {
			sm.Bridges.Inc(nil)
		}
	case "overlap":
		sm.OverlapRuns.Inc(nil)
		sm.OverlapRunLen.Observe(nil, length)
	}
	if autopause {
		sm.Autopauses.Inc(Labels{"kind": kind})
	}
}

// RecordGCodeError counts a session-ending parse error
func (sm *SimMetrics) RecordGCodeError() {
	sm.GCodeErrors.Inc(nil)
}

// SetProgress updates the progress gauges
func (sm *SimMetrics) SetProgress(line int, depositionLength, flow, speed float64) {
	sm.GCodeLine.Set(nil, float64(line))
	sm.DepositionLength.Set(nil, depositionLength)
	sm.Flow.Set(nil, flow)
	sm.Speed.Set(nil, speed)
}

// FrameTimer starts timing one frame. Call the returned function when
// the frame is done.
func (sm *SimMetrics) FrameTimer() func() {
	return sm.FrameTime.Timer(nil)
}

// UpdateSystemMetrics updates Go runtime metrics
func (sm *SimMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	sm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	sm.GoMemoryHeap.Set(nil, float64(m.HeapInuse))
	sm.Uptime.Set(nil, time.Since(sm.startTime).Seconds())
}

// Gather returns all metrics in Prometheus text format
func (sm *SimMetrics) Gather() string {
	sm.UpdateSystemMetrics()
	return sm.registry.Gather()
}

// Registry returns the underlying registry
func (sm *SimMetrics) Registry() *Registry {
	return sm.registry
}

var (
	globalMetrics     *SimMetrics
	globalMetricsOnce sync.Once
)

// GlobalMetrics returns the process-wide simulator metrics
func GlobalMetrics() *SimMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewSimMetrics()
	})
	return globalMetrics
}
