package motion

import (
	"math"
	"testing"

	"vrprinter-go/pkg/gcode"
)

func newEngine(t *testing.T, text string) (*Engine, *gcode.Interpreter) {
	t.Helper()
	in := gcode.NewInterpreter(gcode.DefaultOptions())
	in.Start(text)
	m := NewEngine(in)
	if !m.Start(gcode.DefaultFilamentDiameter) {
		t.Fatalf("no waypoint in %q", text)
	}
	return m, in
}

// run steps until done and returns the total time consumed.
func run(t *testing.T, m *Engine, budgetMs float64) float64 {
	t.Helper()
	total := 0.0
	for i := 0; i < 1_000_000; i++ {
		used, done := m.Step(budgetMs)
		if used < 0 || used > budgetMs {
			t.Fatalf("step consumed %v of a %v ms budget", used, budgetMs)
		}
		total += used
		if done {
			return total
		}
	}
	t.Fatal("engine never finished")
	return 0
}

func TestEngineSnapsToTarget(t *testing.T) {
	m, _ := newEngine(t, "G1 X10.3 Y7.1 Z0.3 F1234\n")
	run(t, m, 0.37)
	got := m.Position()
	if got.X != 10.3 || got.Y != 7.1 || got.Z != 0.3 {
		t.Errorf("Position() = %+v, want exactly (10.3, 7.1, 0.3)", got)
	}
}

func TestEngineRoundTripTime(t *testing.T) {
	m, _ := newEngine(t, "G1 X10 F600\nG1 X0 F600\n")
	total := run(t, m, 7)
	if math.Abs(total-2000) > 1e-6 {
		t.Errorf("total time = %v ms, want 2000", total)
	}
}

func TestEngineNeverOvershoots(t *testing.T) {
	m, _ := newEngine(t, "G1 X10 E2 F600\n")
	last := 0.0
	for {
		used, done := m.Step(130)
		x := m.Position().X
		if x > 10 || x < last {
			t.Fatalf("x = %v after step (previous %v)", x, last)
		}
		if e := m.Position().E; e > 2+1e-12 {
			t.Fatalf("e = %v overshoots 2", e)
		}
		last = x
		if done {
			if used >= 130 {
				t.Errorf("final step consumed the whole budget (%v ms)", used)
			}
			break
		}
	}
}

func TestEnginePureExtrusion(t *testing.T) {
	m, _ := newEngine(t, "G1 E5 F60\n")
	used, done := m.Step(1000)
	if used != 1000 || done {
		t.Fatalf("Step = %v, %v", used, done)
	}
	if e := m.Position().E; math.Abs(e-1) > 1e-9 {
		t.Errorf("E = %v, want 1", e)
	}
	if m.IsTravel() {
		t.Error("pure extrusion classified as travel")
	}
	total := used + run(t, m, 1000)
	if math.Abs(total-5000) > 1e-6 {
		t.Errorf("total = %v ms, want 5000", total)
	}
	if m.Position().E != 5 {
		t.Errorf("E = %v, want 5", m.Position().E)
	}

	m, _ = newEngine(t, "G1 E5 F60\nG1 E2\n")
	run(t, m, 250)
	if m.Position().E != 2 {
		t.Errorf("retraction E = %v, want 2", m.Position().E)
	}
}

func TestEngineDegenerateMoves(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"zero length", "G1 X0\nG1 X0\n"},
		{"zero feed", "G1 X5 F0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newEngine(t, tt.text)
			total := run(t, m, 10)
			if total != 0 {
				t.Errorf("consumed %v ms, want 0", total)
			}
		})
	}
}

func TestEngineTravelAndFlow(t *testing.T) {
	m, _ := newEngine(t, "G1 X10 E1 F600\nG1 X20\nG1 X30 E2 F30\n")

	m.Step(100)
	if m.IsTravel() {
		t.Error("extruding move classified as travel")
	}
	if r := m.ExtrusionRatio(); math.Abs(r-0.1) > 1e-12 {
		t.Errorf("ExtrusionRatio() = %v, want 0.1", r)
	}
	want := CrossSection(1.75) / 1000
	if f := m.Flow(); math.Abs(f-want) > 1e-12 {
		t.Errorf("Flow() = %v, want %v", f, want)
	}

	for m.Position().X < 10 {
		m.Step(100)
	}
	m.Step(100) // lands on X10 and pulls the travel move
	m.Step(100)
	if !m.IsTravel() {
		t.Error("non-extruding move not classified as travel")
	}
	if m.Flow() != 0 {
		t.Errorf("travel flow = %v", m.Flow())
	}

	for m.Position().X < 20 {
		m.Step(100)
	}
	m.Step(100)
	if m.src.Waypoint().Pos.X != 30 {
		t.Fatalf("pending waypoint = %+v, want X30", m.src.Waypoint().Pos)
	}
	if m.Flow() != 0 {
		t.Errorf("flow below 1 mm/s = %v, want 0", m.Flow())
	}
}

func TestEngineResetKeepsInterpreterPosition(t *testing.T) {
	m, in := newEngine(t, "G1 X4 Y3 E1\nG1 X8\n")
	m.Step(50)
	m.Reset(2.85)
	if m.Position() != in.Waypoint().Pos {
		t.Errorf("Position() = %+v, want %+v", m.Position(), in.Waypoint().Pos)
	}
	if m.FilamentDiameter() != 2.85 || m.ExtrusionRatio() != 0 {
		t.Error("Reset did not clear engine state")
	}
	if m.Status()["travel"] != false {
		t.Error("Status travel flag not reset")
	}
}
