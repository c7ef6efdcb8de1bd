// Package sim owns one simulation session: the interpreter, motion
// engine, height field and deposition analyzer for a loaded G-code text,
// configured from a config.SimulatorConfig.
package sim

import (
	"context"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"vrprinter-go/pkg/config"
	"vrprinter-go/pkg/deposition"
	simerrors "vrprinter-go/pkg/errors"
	"vrprinter-go/pkg/gcode"
	"vrprinter-go/pkg/heightfield"
	"vrprinter-go/pkg/log"
	"vrprinter-go/pkg/metrics"
	"vrprinter-go/pkg/motion"
)

// Simulation is a single-threaded simulation session. None of its
// methods may be called concurrently; see Loop for a goroutine-safe
// wrapper.
type Simulation struct {
	cfg    *config.SimulatorConfig
	logger *log.Logger

	interp   *gcode.Interpreter
	engine   *motion.Engine
	field    *heightfield.Field
	analyzer *deposition.Analyzer
	summary  gcode.Summary

	text             string
	filamentDiameter float64
	shift            deposition.Offset
	sink             deposition.Sink
	metrics          *metrics.SimMetrics
	errReported      bool

	flow, speed rolling
}

// New creates an idle simulation. Start loads a text.
func New(cfg *config.SimulatorConfig) *Simulation {
	if cfg == nil {
		cfg = config.DefaultSimulatorConfig()
	}
	return &Simulation{
		cfg:    cfg,
		logger: log.GetLogger("sim"),
	}
}

// Config returns the configuration the session runs with.
func (s *Simulation) Config() *config.SimulatorConfig { return s.cfg }

// SetSink routes print samples to sink, from the next Start on and for
// the running session.
func (s *Simulation) SetSink(sink deposition.Sink) {
	s.sink = sink
	if s.analyzer != nil {
		s.analyzer.SetSink(sink)
	}
}

// SetMetrics reports moves, runs, progress and frame times to m.
func (s *Simulation) SetMetrics(m *metrics.SimMetrics) {
	s.metrics = m
	if s.analyzer != nil {
		s.analyzer.SetObserver(s.observer())
	}
}

func (s *Simulation) observer() deposition.Observer {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}

// Start loads text, sizes the height field from a survey of the whole
// file and rewinds to the configured start line.
func (s *Simulation) Start(text string) error {
	gopts := gcode.DefaultOptions()
	gopts.G92ExtruderLimit = s.cfg.Simulation.G92ExtruderLimit
	summary := gcode.Survey(text, gopts)
	if summary.Bounds.Empty() {
		if summary.Err != nil {
			return simerrors.Wrap(summary.Err, simerrors.ErrSession, "no motion before the first error")
		}
		return simerrors.SessionError("no motion commands in gcode")
	}

	p := s.cfg.Printer
	shift := deposition.Offset{}
	if p.BedCentered {
		shift = deposition.Offset{X: p.BedWidth / 2, Y: p.BedDepth / 2}
	}
	box := s.fieldBox(summary, shift)

	field, err := heightfield.Allocate(box, s.cfg.Simulation.Resolution)
	if err != nil {
		return err
	}

	s.text = text
	s.summary = summary
	s.shift = shift
	s.field = field
	s.filamentDiameter = p.FilamentDiameter
	if summary.FilamentDiameter != gcode.DefaultFilamentDiameter {
		s.filamentDiameter = summary.FilamentDiameter
	}

	s.interp = gcode.NewInterpreter(gopts)
	s.interp.Start(text)
	s.interp.SetExtruders(summary.Extruders)
	s.engine = motion.NewEngine(s.interp)
	s.analyzer = deposition.NewAnalyzer(s.interp, s.engine, field, s.analyzerOptions())
	s.analyzer.SetSink(s.sink)
	s.analyzer.SetObserver(s.observer())
	s.errReported = false

	nx, ny := field.Size()
	fields := log.Fields{
		"lines":      summary.Lines,
		"waypoints":  summary.Waypoints,
		"extruders":  summary.Extruders,
		"filament":   s.filamentDiameter,
		"cells":      nx * ny,
		"field_mb":   float64(field.Bytes()) / (1 << 20),
		"resolution": field.Step(),
	}
	if summary.Err != nil {
		s.logger.WithFields(fields).WithError(summary.Err).Warn("session started on gcode with errors")
	} else {
		s.logger.WithFields(fields).Info("session started")
	}

	return s.ResetToLine(s.cfg.ClampStartLine(summary.Lines))
}

// fieldBox returns the planar box the height field covers: the survey
// box in bed coordinates, grown by every extruder offset in use and by
// a nozzle-sized margin.
func (s *Simulation) fieldBox(summary gcode.Summary, shift deposition.Offset) heightfield.Box {
	b := summary.Bounds
	b.Translate([3]float64{shift.X, shift.Y, 0})

	grown := b
	if len(summary.Extruders) > 1 {
		for _, id := range summary.Extruders {
			off := s.cfg.Extruders[id]
			moved := b
			moved.Translate([3]float64{off.X, off.Y, 0})
			grown.Add(moved.Min)
			grown.Add(moved.Max)
		}
	}

	m := s.cfg.Printer.NozzleDiameter
	return heightfield.Box{
		MinX: grown.Min[0] - m,
		MinY: grown.Min[1] - m,
		MaxX: grown.Max[0] + m,
		MaxY: grown.Max[1] + m,
	}
}

func (s *Simulation) analyzerOptions() deposition.Options {
	c := s.cfg
	opts := deposition.DefaultOptions()
	opts.NozzleDiameter = c.Printer.NozzleDiameter
	opts.MmStep = c.MmPerFrame()
	opts.StatsMinHeight = c.Simulation.StatsMinHeight
	opts.CommitDelayFactor = c.Simulation.CommitDelayFactor
	opts.MaxTicksPerFrame = c.Simulation.MaxTicksPerFrame
	opts.Fixed = c.Deposition.Fixed
	opts.FixedHeight = c.Deposition.Height
	opts.FixedWidth = c.Deposition.Width
	opts.Autopause = c.Autopause.Enabled
	opts.AutopauseDangling = c.Autopause.DanglingLength
	opts.AutopauseOverlap = c.Autopause.OverlapLength
	opts.Shift = s.shift
	opts.ExtruderOffsets = make(map[int]deposition.Offset, len(c.Extruders))
	for id, off := range c.Extruders {
		opts.ExtruderOffsets[id] = deposition.Offset{X: off.X, Y: off.Y}
	}
	return opts
}

// Reconfigure switches to cfg and, when a text is loaded, starts it
// again under the new configuration.
func (s *Simulation) Reconfigure(cfg *config.SimulatorConfig) error {
	s.cfg = cfg
	if !s.Started() {
		return nil
	}
	return s.Start(s.text)
}

// Started reports whether a text is loaded.
func (s *Simulation) Started() bool { return s.analyzer != nil }

// ResetToLine rewinds the session and silently replays the program up to
// line n. The height field is filled with the lower of the last two
// distinct Z levels seen, standing in for the layers already printed.
func (s *Simulation) ResetToLine(n int) error {
	if !s.Started() {
		return simerrors.SessionError("no gcode loaded")
	}
	n = max(0, min(n, s.summary.Lines-1))

	s.interp.Reset()
	var prevZ, currZ float64
	for s.interp.Line() < n {
		if !s.interp.Advance() {
			break
		}
		if z := s.interp.Waypoint().Pos.Z; z != currZ {
			prevZ, currZ = currZ, z
		}
	}

	s.field.Fill(float32(prevZ))
	s.engine.Reset(s.filamentDiameter)
	s.analyzer.Reset()
	s.flow.reset()
	s.speed.reset()
	s.errReported = false

	s.logger.WithFields(log.Fields{
		"line":   s.interp.Line(),
		"fill_z": prevZ,
	}).Debug("reset to line")
	return nil
}

// Restart reloads the current text from the configured start line.
func (s *Simulation) Restart() error {
	if !s.Started() {
		return simerrors.SessionError("no gcode loaded")
	}
	return s.ResetToLine(s.cfg.Simulation.StartLine)
}

// Frame simulates one configured frame of deposition.
func (s *Simulation) Frame() deposition.FrameResult {
	return s.FrameMM(s.cfg.MmPerFrame())
}

// FrameMM simulates up to mm of nozzle travel.
func (s *Simulation) FrameMM(mm float64) deposition.FrameResult {
	if !s.Started() {
		return deposition.FrameResult{Done: true}
	}
	if s.metrics != nil {
		defer s.metrics.FrameTimer()()
	}
	res := s.analyzer.Frame(mm)

	if res.Ticks > 0 {
		last := s.analyzer.Last()
		s.flow.add(last.Flow)
		s.speed.add(last.Speed)
	}
	if s.interp.HasError() && !s.errReported {
		s.errReported = true
		s.logger.WithError(s.interp.Err()).Error("simulation stopped on gcode error")
		if s.metrics != nil {
			s.metrics.RecordGCodeError()
		}
	}
	if s.metrics != nil {
		last := s.analyzer.Last()
		s.metrics.SetProgress(s.interp.Line(), s.analyzer.Odometer(), last.Flow, last.Speed)
	}
	return res
}

// Run simulates to the end of the program. Auto-pauses are logged and
// resumed. progress, if set, is called every reportEvery frames.
func (s *Simulation) Run(ctx context.Context, reportEvery int, progress func(Status)) error {
	if !s.Started() {
		return simerrors.SessionError("no gcode loaded")
	}
	for frames := 1; ; frames++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := s.Frame()
		if res.Done {
			s.analyzer.Flush()
			break
		}
		if s.analyzer.Paused() {
			s.analyzer.Resume()
		}
		if progress != nil && reportEvery > 0 && frames%reportEvery == 0 {
			progress(s.Status())
		}
	}
	if progress != nil {
		progress(s.Status())
	}
	return s.interp.Err()
}

// Pause suspends ticking.
func (s *Simulation) Pause() {
	if s.Started() {
		s.analyzer.Pause()
	}
}

// Resume lifts a pause.
func (s *Simulation) Resume() {
	if s.Started() {
		s.analyzer.Resume()
	}
}

// Paused reports whether the session is paused.
func (s *Simulation) Paused() bool { return s.Started() && s.analyzer.Paused() }

// Done reports whether the program has been simulated to its end or to
// an error.
func (s *Simulation) Done() bool { return !s.Started() || s.analyzer.Done() }

// Err returns the G-code error that stopped the session, if any.
func (s *Simulation) Err() error {
	if !s.Started() {
		return nil
	}
	return s.interp.Err()
}

// Field returns the live height field.
func (s *Simulation) Field() *heightfield.Field { return s.field }

// Summary returns the survey of the loaded text.
func (s *Simulation) Summary() gcode.Summary { return s.summary }

// Analyzer returns the deposition analyzer.
func (s *Simulation) Analyzer() *deposition.Analyzer { return s.analyzer }

// FilamentDiameter returns the diameter used for flow and bead size:
// the one announced by the file, or the configured one.
func (s *Simulation) FilamentDiameter() float64 { return s.filamentDiameter }

// Text returns the loaded G-code.
func (s *Simulation) Text() string { return s.text }

// Status takes a snapshot of the session.
func (s *Simulation) Status() Status {
	if !s.Started() {
		return Status{Done: true}
	}
	last := s.analyzer.Last()
	st := Status{
		Line:             s.interp.Line(),
		Lines:            s.summary.Lines,
		Position:         vec(last.Pos),
		Extruder:         s.interp.CurrentExtruder(),
		Extruders:        s.interp.ExtruderIDs(),
		Travel:           last.Travel,
		Flow:             last.Flow,
		Speed:            last.Speed,
		AvgFlow:          s.flow.mean(),
		AvgSpeed:         s.speed.mean(),
		Thickness:        last.Sample.Thickness,
		Radius:           last.Sample.SquashedRadius,
		DepositionLength: s.analyzer.Odometer(),
		Pending:          s.analyzer.Pending(),
		InDangling:       s.analyzer.InDangling(),
		InOverlap:        s.analyzer.InOverlap(),
		DanglingRuns:     s.analyzer.Dangling().Total(),
		OverlapRuns:      s.analyzer.Overlap().Total(),
		MaxHeight:        float64(s.field.Max()),
		Paused:           s.analyzer.Paused(),
		Done:             s.analyzer.Done(),
	}
	if st.Lines > 0 {
		st.Progress = math.Min(1, float64(st.Line)/float64(st.Lines))
	}
	if err := s.interp.Err(); err != nil {
		st.Error = err.Error()
		st.ErrorLine = simerrors.LineOf(err)
	}
	return st
}

// Histograms reports both defect histograms, keeping buckets that hold
// more than 1-keep of their runs.
func (s *Simulation) Histograms(keep float64) Histograms {
	if !s.Started() {
		return Histograms{}
	}
	return Histograms{
		Dangling: report(s.analyzer.Dangling(), keep),
		Overlap:  report(s.analyzer.Overlap(), keep),
	}
}

func vec(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }
