// Package deposition simulates bead deposition along the nozzle
// trajectory and detects dangling (unsupported) and overlapping
// material.
//
// Every tick advances the motion engine, derives the bead geometry from
// the extrusion ratio and the height field below the nozzle, and runs
// the dangling and overlap state machines. Beads are written to the
// height field only after the nozzle has moved on, so a bead is never
// mistaken for its own support.
package deposition

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"vrprinter-go/pkg/heightfield"
	"vrprinter-go/pkg/log"
	"vrprinter-go/pkg/motion"
)

// Defaults and score thresholds.
const (
	// DefaultCommitDelayFactor scales max(nozzle, mm per frame) into the
	// deposition length a bead waits before it is committed.
	DefaultCommitDelayFactor = 4.0
	DefaultStatsMinHeight    = 1.2

	// ThicknessEpsilon is the smallest layer thickness taken at face
	// value; thinner readings reuse the previous thickness.
	ThicknessEpsilon = 0.001

	danglingFloor = 0.6
	overlapFloor  = 0.4

	minMoveLength = 1e-6
)

// Program is the instruction source as seen by the analyzer.
// *gcode.Interpreter satisfies it.
type Program interface {
	motion.Source
	CurrentExtruder() int
	ExtruderCount() int
	HasError() bool
	Line() int
}

// Offset is a planar translation in mm.
type Offset struct {
	X, Y float64
}

// Options configure an Analyzer.
type Options struct {
	NozzleDiameter float64
	// MmStep is the deposition length simulated per frame. Zero means
	// half the nozzle diameter.
	MmStep            float64
	StatsMinHeight    float64
	CommitDelayFactor float64
	MaxTicksPerFrame  int

	// Fixed replaces the computed bead thickness and radius.
	Fixed       bool
	FixedHeight float64
	FixedWidth  float64

	Autopause         bool
	AutopauseDangling float64 // mm
	AutopauseOverlap  float64 // mm

	// ExtruderOffsets apply when more than one extruder is in use.
	ExtruderOffsets map[int]Offset
	// Shift is added to every position, e.g. to move a centered bed's
	// origin to its corner.
	Shift Offset
}

// DefaultOptions returns options for a 0.4 mm nozzle.
func DefaultOptions() Options {
	return Options{
		NozzleDiameter:    0.4,
		StatsMinHeight:    DefaultStatsMinHeight,
		CommitDelayFactor: DefaultCommitDelayFactor,
		MaxTicksPerFrame:  100000,
	}
}

func (o Options) mmStep() float64 {
	if o.MmStep > 0 {
		return o.MmStep
	}
	return o.NozzleDiameter / 2
}

// Sample describes the nozzle at one print tick.
type Sample struct {
	Pos            r3.Vec  `json:"pos"`
	Thickness      float64 `json:"thickness"`
	Radius         float64 `json:"radius"`
	SquashedRadius float64 `json:"squashed_radius"`
	Dangling       float64 `json:"dangling"`
	Overlap        float64 `json:"overlap"`
	Bridge         bool    `json:"bridge"`
	Extruder       int     `json:"extruder"`
	Line           int     `json:"line"`
}

// Sink receives print samples. Consecutive samples form a bead; Close
// ends the current bead.
type Sink interface {
	AddSample(Sample)
	Close()
}

// Observer is told about every tick and every finished defect run.
type Observer interface {
	RecordMove(travel bool)
	RecordRun(kind string, length float64, bridge, autopause bool)
}

// TickInfo describes the last simulated tick.
type TickInfo struct {
	Pos      r3.Vec
	Travel   bool
	Flow     float64 // mm³/ms
	Speed    float64 // mm/s
	Line     int
	Extruder int
	Sample   Sample // valid when !Travel
}

// FrameResult reports what one Frame did.
type FrameResult struct {
	Ticks      int
	ConsumedMs float64
	Done       bool
	Paused     bool
}

type nopSink struct{}

func (nopSink) AddSample(Sample) {}
func (nopSink) Close()           {}

type nopObserver struct{}

func (nopObserver) RecordMove(bool)                       {}
func (nopObserver) RecordRun(string, float64, bool, bool) {}

// Analyzer runs the deposition simulation over a program.
type Analyzer struct {
	opts     Options
	prog     Program
	engine   *motion.Engine
	field    *heightfield.Field
	sink     Sink
	observer Observer
	logger   *log.Logger

	odometer  float64
	prevPos   r3.Vec
	prevTh    float64
	prevFree  bool // last tick was a travel or dangling
	queue     Queue
	dangling  run
	overlap   run
	paused    bool
	done      bool
	last      TickInfo
	danglingH *Histogram
	overlapH  *Histogram
}

// NewAnalyzer creates an analyzer over prog, stepping engine and writing
// into field.
func NewAnalyzer(prog Program, engine *motion.Engine, field *heightfield.Field, opts Options) *Analyzer {
	if opts.CommitDelayFactor <= 0 {
		opts.CommitDelayFactor = DefaultCommitDelayFactor
	}
	if opts.MaxTicksPerFrame <= 0 {
		opts.MaxTicksPerFrame = DefaultOptions().MaxTicksPerFrame
	}
	return &Analyzer{
		opts:      opts,
		prog:      prog,
		engine:    engine,
		field:     field,
		sink:      nopSink{},
		observer:  nopObserver{},
		logger:    log.GetLogger("deposition"),
		danglingH: NewHistogram(KindDangling),
		overlapH:  NewHistogram(KindOverlap),
	}
}

// SetSink routes print samples to s. A nil s discards them.
func (a *Analyzer) SetSink(s Sink) {
	if s == nil {
		s = nopSink{}
	}
	a.sink = s
}

// SetObserver reports ticks and runs to o. A nil o disables reporting.
func (a *Analyzer) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	a.observer = o
}

// Reset clears the odometer, pending beads, defect state and histograms.
// The engine, program and field are reset by their owner.
func (a *Analyzer) Reset() {
	a.odometer = 0
	a.prevPos = r3.Vec{}
	a.prevTh = 0
	a.prevFree = false
	a.queue.Clear()
	a.dangling.reset()
	a.overlap.reset()
	a.paused = false
	a.done = false
	a.last = TickInfo{}
	a.danglingH.Reset()
	a.overlapH.Reset()
}

// Options returns the analyzer's options.
func (a *Analyzer) Options() Options { return a.opts }

// Odometer returns the printed length so far, in mm.
func (a *Analyzer) Odometer() float64 { return a.odometer }

// Pending returns the number of beads not yet in the height field.
func (a *Analyzer) Pending() int { return a.queue.Len() }

// Dangling returns the dangling run histogram.
func (a *Analyzer) Dangling() *Histogram { return a.danglingH }

// Overlap returns the overlap run histogram.
func (a *Analyzer) Overlap() *Histogram { return a.overlapH }

// InDangling reports whether a dangling run is open.
func (a *Analyzer) InDangling() bool { return a.dangling.active }

// InOverlap reports whether an overlap run is open.
func (a *Analyzer) InOverlap() bool { return a.overlap.active }

// Paused reports whether ticking is suspended.
func (a *Analyzer) Paused() bool { return a.paused }

// Pause suspends ticking until Resume.
func (a *Analyzer) Pause() { a.paused = true }

// Resume lifts a pause.
func (a *Analyzer) Resume() { a.paused = false }

// Done reports whether the program has been fully simulated or stopped
// on an error.
func (a *Analyzer) Done() bool { return a.done }

// Last returns the last simulated tick.
func (a *Analyzer) Last() TickInfo { return a.last }

// Frame simulates up to mm of nozzle travel at the current feed rate.
// It stops early when the program ends, fails, or a pause is requested,
// and never runs more than MaxTicksPerFrame ticks.
func (a *Analyzer) Frame(mm float64) FrameResult {
	var res FrameResult
	if a.done {
		res.Done = true
		return res
	}
	feed := math.Max(a.prog.FeedRate(), 1)
	budget := mm / (feed / 1000)
	for budget > 0 && res.Ticks < a.opts.MaxTicksPerFrame {
		if a.paused {
			res.Paused = true
			break
		}
		used, done := a.Tick(budget)
		res.Ticks++
		res.ConsumedMs += used
		budget -= used
		if done {
			res.Done = true
			break
		}
	}
	return res
}

// Step runs one default-sized frame.
func (a *Analyzer) Step() FrameResult {
	return a.Frame(a.opts.mmStep())
}

// Tick performs one motion step of at most budgetMs and analyzes the
// resulting position. It reports whether the simulation is over.
func (a *Analyzer) Tick(budgetMs float64) (usedMs float64, done bool) {
	usedMs, done = a.engine.Step(budgetMs)
	if done || a.prog.HasError() {
		a.done = true
		a.sink.Close()
		return usedMs, true
	}

	pos := a.position()
	nozzle := a.opts.NozzleDiameter

	th := pos.Z - a.field.HeightAt(pos, nozzle/2)
	if th < ThicknessEpsilon {
		th = a.prevTh
	} else {
		a.prevTh = th
	}

	length := r3.Norm(r3.Sub(pos, a.prevPos))
	travel := a.engine.IsTravel()
	area := motion.CrossSection(a.engine.FilamentDiameter()) * a.engine.ExtrusionRatio()
	printing := length > minMoveLength && !travel && area > 0

	info := TickInfo{
		Pos:      pos,
		Travel:   !printing,
		Flow:     a.engine.Flow(),
		Speed:    a.prog.FeedRate(),
		Line:     a.prog.Line(),
		Extruder: a.prog.CurrentExtruder(),
	}

	var dangling, overlap float64
	if printing {
		s := a.bead(pos, th, area)
		dangling, overlap = s.Dangling, s.Overlap
		info.Sample = s

		a.odometer += length
		if a.dangling.active {
			a.dangling.trajectory = append(a.dangling.trajectory, s)
		}
		a.sink.AddSample(s)
		a.queue.Push(Segment{A: pos, B: a.prevPos, DepLength: a.odometer, Radius: s.SquashedRadius})
	} else {
		a.sink.Close()
	}
	a.observer.RecordMove(!printing)

	if a.dangling.active && dangling == 0 {
		a.closeDangling(travel)
	}
	if a.overlap.active && overlap == 0 {
		a.closeOverlap()
	}
	if !a.dangling.active && dangling > 0 {
		a.dangling.enter(a.odometer)
		a.dangling.trajectory = append(a.dangling.trajectory, info.Sample)
		a.dangling.anchored = !a.prevFree
	}
	if !a.overlap.active && overlap > 0 {
		a.overlap.enter(a.odometer)
	}

	a.commit(pos.Z)

	a.prevFree = travel || dangling > 0
	a.prevPos = pos
	a.last = info
	return usedMs, false
}

// position returns the engine position in bed coordinates.
func (a *Analyzer) position() r3.Vec {
	p := a.engine.Position()
	v := r3.Vec{X: p.X + a.opts.Shift.X, Y: p.Y + a.opts.Shift.Y, Z: p.Z}
	if a.prog.ExtruderCount() > 1 {
		off := a.opts.ExtruderOffsets[a.prog.CurrentExtruder()]
		v.X += off.X
		v.Y += off.Y
	}
	return v
}

// bead computes the bead laid at pos and scores it against the field.
// area is the bead cross-section.
func (a *Analyzer) bead(pos r3.Vec, th, area float64) Sample {
	nozzle := a.opts.NozzleDiameter
	r := math.Sqrt(area / math.Pi)
	squash := math.Min(th/2, r)
	rs := r
	if squash > ThicknessEpsilon {
		rs = SquashedRadius(r, squash)
	}
	maxTh := area / nozzle
	if a.opts.Fixed {
		th = a.opts.FixedHeight
		rs = a.opts.FixedWidth
	}

	s := Sample{
		Pos:            pos,
		Thickness:      th,
		Radius:         r,
		SquashedRadius: rs,
		Extruder:       a.prog.CurrentExtruder(),
		Line:           a.prog.Line(),
	}
	if pos.Z > a.opts.StatsMinHeight {
		erode := a.field.Step() * math.Sqrt2
		d := a.field.DanglingFractionAt(maxTh, pos, rs)
		o := a.field.OverlapFractionAt(pos, rs-erode)
		s.Dangling = math.Max(d-danglingFloor, 0) / (1 - danglingFloor)
		s.Overlap = math.Max(o-overlapFloor, 0) / (1 - overlapFloor)
	}
	return s
}

// closeDangling ends a dangling run. The run is a bridge when it was
// entered from a supported print move, ends on one, and stays straight.
func (a *Analyzer) closeDangling(travel bool) {
	length := a.dangling.exit(a.odometer)
	pause := a.opts.Autopause && length >= a.opts.AutopauseDangling
	a.danglingH.Add(length)

	bridge := !travel && a.dangling.anchored &&
		IsBridge(a.dangling.trajectory, a.opts.NozzleDiameter/10)
	if bridge {
		a.sink.Close()
		for _, s := range a.dangling.trajectory {
			s.Bridge = true
			s.Dangling, s.Overlap = 0, 0
			a.sink.AddSample(s)
		}
		a.sink.Close()
	}
	a.dangling.trajectory = a.dangling.trajectory[:0]

	a.observer.RecordRun(KindDangling, length, bridge, pause)
	if pause {
		a.requestPause(KindDangling, length)
	}
}

func (a *Analyzer) closeOverlap() {
	length := a.overlap.exit(a.odometer)
	pause := a.opts.Autopause && length >= a.opts.AutopauseOverlap
	a.overlapH.Add(length)
	a.observer.RecordRun(KindOverlap, length, false, pause)
	if pause {
		a.requestPause(KindOverlap, length)
	}
}

func (a *Analyzer) requestPause(kind string, length float64) {
	a.paused = true
	a.logger.WithFields(log.Fields{
		"kind":   kind,
		"length": length,
		"line":   a.prog.Line(),
	}).Warn("auto-pause")
}

// commit writes ready beads into the height field. A bead is ready once
// enough material has been laid after it, or once the nozzle has risen
// above it.
func (a *Analyzer) commit(z float64) {
	delay := math.Max(a.opts.NozzleDiameter, a.opts.mmStep()) * a.opts.CommitDelayFactor
	a.queue.Commit(a.field, func(s Segment) bool {
		return s.DepLength+delay < a.odometer || math.Max(s.A.Z, s.B.Z) < z
	})
}

// Flush commits every pending bead.
func (a *Analyzer) Flush() {
	a.queue.Commit(a.field, func(Segment) bool { return true })
}
