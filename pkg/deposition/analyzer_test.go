package deposition

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"vrprinter-go/pkg/gcode"
	"vrprinter-go/pkg/heightfield"
	"vrprinter-go/pkg/motion"
)

type recordedRun struct {
	kind   string
	length float64
	bridge bool
	pause  bool
}

type fakeObserver struct {
	moves, travels int
	runs           []recordedRun
}

func (o *fakeObserver) RecordMove(travel bool) {
	o.moves++
	if travel {
		o.travels++
	}
}

func (o *fakeObserver) RecordRun(kind string, length float64, bridge, autopause bool) {
	o.runs = append(o.runs, recordedRun{kind, length, bridge, autopause})
}

type harness struct {
	in    *gcode.Interpreter
	field *heightfield.Field
	a     *Analyzer
	rec   *Recorder
	obs   *fakeObserver
}

func setup(t *testing.T, text string, opts Options, prepare func(*heightfield.Field)) *harness {
	t.Helper()
	in := gcode.NewInterpreter(gcode.DefaultOptions())
	in.Start(text)
	eng := motion.NewEngine(in)
	eng.Start(in.FilamentDiameter())

	field, err := heightfield.Allocate(heightfield.Box{MaxX: 20, MaxY: 10}, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if prepare != nil {
		prepare(field)
	}
	h := &harness{in: in, field: field, rec: &Recorder{}, obs: &fakeObserver{}}
	h.a = NewAnalyzer(in, eng, field, opts)
	h.a.SetSink(h.rec)
	h.a.SetObserver(h.obs)
	return h
}

// runAll steps to the end, resuming through pauses. It returns the
// number of pauses seen.
func (h *harness) runAll(t *testing.T) int {
	t.Helper()
	pauses := 0
	for i := 0; !h.a.Done(); i++ {
		if i > 100000 {
			t.Fatal("simulation did not finish")
		}
		h.a.Step()
		if h.a.Paused() {
			pauses++
			h.a.Resume()
		}
	}
	return pauses
}

// pillars raises the bed to 1.8 mm for x <= 5 and x >= 15, leaving a gap
// in between.
func pillars(f *heightfield.Field) {
	for y := 0.0; y <= 10; y += 0.2 {
		f.RasterizeSegment(r3.Vec{X: 0, Y: y, Z: 1.8}, r3.Vec{X: 5, Y: y, Z: 1.8}, 0.3)
		f.RasterizeSegment(r3.Vec{X: 15, Y: y, Z: 1.8}, r3.Vec{X: 20, Y: y, Z: 1.8}, 0.3)
	}
}

const straightBridge = "G1 X0 Y5 Z2 F600\nG1 X20 Y5 E0.66\n"

func TestAnalyzerBridge(t *testing.T) {
	h := setup(t, straightBridge, DefaultOptions(), pillars)
	if pauses := h.runAll(t); pauses != 0 {
		t.Errorf("%d pauses without autopause", pauses)
	}

	if h.a.Dangling().Total() != 1 {
		t.Fatalf("dangling runs = %d, want 1", h.a.Dangling().Total())
	}
	var run recordedRun
	for _, r := range h.obs.runs {
		if r.kind == KindDangling {
			run = r
		}
	}
	if run.length < 8 || run.length > 11 {
		t.Errorf("dangling length = %v, want about 10", run.length)
	}
	if !run.bridge {
		t.Error("straight span between supports not reported as a bridge")
	}

	bridges := h.rec.Bridges()
	if len(bridges) == 0 {
		t.Fatal("no bridge bead recorded")
	}
	for _, s := range bridges[0] {
		if s.Pos.Y != 5 || s.Dangling != 0 {
			t.Fatalf("bridge sample %+v", s)
		}
	}
	if h.obs.travels == 0 || h.obs.moves <= h.obs.travels {
		t.Errorf("moves=%d travels=%d", h.obs.moves, h.obs.travels)
	}
	if math.Abs(h.a.Odometer()-20) > 0.5 {
		t.Errorf("odometer = %v", h.a.Odometer())
	}
}

func TestAnalyzerKinkIsNotBridge(t *testing.T) {
	text := "M83\nG1 X0 Y5 Z2 F600\nG1 X10 Y5 E0.33\nG1 X10 Y7 E0.066\nG1 X20 Y5 E0.3366\n"
	h := setup(t, text, DefaultOptions(), pillars)
	h.runAll(t)

	if h.a.Dangling().Total() != 1 {
		t.Fatalf("dangling runs = %d, want 1", h.a.Dangling().Total())
	}
	for _, r := range h.obs.runs {
		if r.bridge {
			t.Errorf("bent run reported as bridge: %+v", r)
		}
	}
	if len(h.rec.Bridges()) != 0 {
		t.Error("bent run recorded as bridge bead")
	}
}

func TestAnalyzerAutopause(t *testing.T) {
	opts := DefaultOptions()
	opts.Autopause = true
	opts.AutopauseDangling = 5
	opts.AutopauseOverlap = 1000
	h := setup(t, straightBridge, opts, pillars)

	if pauses := h.runAll(t); pauses != 1 {
		t.Errorf("pauses = %d, want 1", pauses)
	}
	if len(h.obs.runs) != 1 || !h.obs.runs[0].pause {
		t.Errorf("runs = %+v", h.obs.runs)
	}

	// below the threshold nothing pauses
	opts.AutopauseDangling = 50
	h = setup(t, straightBridge, opts, pillars)
	if pauses := h.runAll(t); pauses != 0 {
		t.Errorf("pauses = %d, want 0", pauses)
	}
}

func TestAnalyzerPauseStopsFrame(t *testing.T) {
	h := setup(t, straightBridge, DefaultOptions(), pillars)
	h.a.Pause()
	res := h.a.Step()
	if !res.Paused || res.Ticks != 0 {
		t.Errorf("paused frame = %+v", res)
	}
	h.a.Resume()
	if res := h.a.Step(); res.Ticks == 0 {
		t.Error("resumed frame did not tick")
	}
}

func TestAnalyzerOverlap(t *testing.T) {
	text := "G1 X1 Y5 Z2 F600\nG1 X10 Y5 E0.3\nG1 X15 Y5\n"
	h := setup(t, text, DefaultOptions(), func(f *heightfield.Field) { f.Fill(2) })
	h.runAll(t)

	if h.a.Overlap().Total() != 1 {
		t.Fatalf("overlap runs = %d, want 1", h.a.Overlap().Total())
	}
	if h.a.Dangling().Total() != 0 {
		t.Errorf("dangling runs = %d on a full bed", h.a.Dangling().Total())
	}
	if h.a.InOverlap() {
		t.Error("overlap run left open after travel")
	}
	for _, r := range h.obs.runs {
		if r.kind == KindOverlap && (r.length < 8 || r.length > 9.5) {
			t.Errorf("overlap length = %v, want about 9", r.length)
		}
	}
}

func TestAnalyzerCommitDelay(t *testing.T) {
	opts := DefaultOptions()
	opts.StatsMinHeight = 10
	text := "G1 X0 Y5 Z2 F600\nG1 X10 Y5 E0.33\n"
	h := setup(t, text, opts, nil)

	for i := 0; h.a.Odometer() < 5; i++ {
		if i > 10000 {
			t.Fatal("never reached 5 mm")
		}
		h.a.Step()
	}
	if h.a.Pending() == 0 {
		t.Fatal("no pending beads while printing")
	}
	h.runAll(t)

	at := func(x float64) float64 {
		return h.field.HeightAt(r3.Vec{X: x, Y: 5, Z: 3}, 0.1)
	}
	if got := at(1); got != 2 {
		t.Errorf("height at the start = %v, want 2", got)
	}
	if got := at(9.7); got != 0 {
		t.Errorf("height at the end = %v before flush", got)
	}
	h.a.Flush()
	if got := at(9.7); got != 2 {
		t.Errorf("height at the end = %v after flush", got)
	}
	if h.a.Pending() != 0 {
		t.Errorf("%d beads pending after flush", h.a.Pending())
	}
	if len(h.obs.runs) != 0 {
		t.Errorf("defects reported below the stats height: %+v", h.obs.runs)
	}
}

func TestAnalyzerBelowStatsHeight(t *testing.T) {
	opts := DefaultOptions()
	opts.StatsMinHeight = 5
	h := setup(t, straightBridge, opts, pillars)
	h.runAll(t)
	if h.a.Dangling().Total() != 0 || h.a.Overlap().Total() != 0 {
		t.Errorf("dangling=%d overlap=%d", h.a.Dangling().Total(), h.a.Overlap().Total())
	}
}

func TestAnalyzerFixedBead(t *testing.T) {
	opts := DefaultOptions()
	opts.Fixed = true
	opts.FixedHeight = 0.3
	opts.FixedWidth = 0.5
	h := setup(t, "G1 X0 Y5 Z0.3 F600\nG1 X10 Y5 E0.33\n", opts, nil)
	h.runAll(t)

	beads := h.rec.Beads()
	if len(beads) == 0 {
		t.Fatal("no beads recorded")
	}
	for _, s := range beads[0] {
		if s.Thickness != 0.3 || s.SquashedRadius != 0.5 {
			t.Fatalf("sample %+v", s)
		}
	}
}

func TestAnalyzerExtruderOffsets(t *testing.T) {
	opts := DefaultOptions()
	opts.Shift = Offset{X: 1}
	opts.ExtruderOffsets = map[int]Offset{1: {Y: 2}}
	text := "T0\nG1 X1 Y1 Z1 F600\nT1\nG1 X1 Y1 Z1\nG1 X3 Y1 E0.1\n"
	h := setup(t, text, opts, nil)
	h.runAll(t)

	beads := h.rec.Beads()
	if len(beads) == 0 {
		t.Fatal("no beads recorded")
	}
	s := beads[0][0]
	if s.Extruder != 1 || s.Pos.Y != 3 || s.Pos.X < 2 {
		t.Errorf("first sample %+v", s)
	}
}

func TestAnalyzerStopsOnError(t *testing.T) {
	h := setup(t, "G1 X1 F600\nG1 X2 Q5\n", DefaultOptions(), nil)
	h.runAll(t)
	if !h.in.HasError() {
		t.Error("interpreter error not recorded")
	}
	if res := h.a.Step(); !res.Done {
		t.Error("frame after the end not done")
	}

	h.a.Reset()
	if h.a.Done() || h.a.Odometer() != 0 || h.a.Pending() != 0 {
		t.Error("Reset kept state")
	}
}
