package config

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Defaults for the simulator options.
const (
	DefaultFilamentDiameter  = 1.75
	DefaultNozzleDiameter    = 0.4
	DefaultBedSize           = 200.0
	DefaultResolution        = 0.04
	DefaultMaxTicksPerFrame  = 100000
	DefaultStatsMinHeight    = 1.2
	DefaultCommitDelayFactor = 4.0
	DefaultG92ExtruderLimit  = 2
	DefaultAutopauseLength   = 5.0
)

// PrinterOptions holds the [printer] section.
type PrinterOptions struct {
	FilamentDiameter float64
	NozzleDiameter   float64
	BedWidth         float64
	BedDepth         float64
	BedCentered      bool
}

// SimulationOptions holds the [simulation] section.
type SimulationOptions struct {
	StartLine         int
	Resolution        float64 // height-field mm per cell
	MmPerFrame        float64 // 0 means nozzle/2
	MaxTicksPerFrame  int
	StatsMinHeight    float64
	CommitDelayFactor float64
	G92ExtruderLimit  int
}

// DepositionOptions holds the [deposition] section.
type DepositionOptions struct {
	Fixed  bool
	Height float64
	Width  float64
}

// AutopauseOptions holds the [autopause] section.
type AutopauseOptions struct {
	Enabled        bool
	DanglingLength float64
	OverlapLength  float64
}

// ExtruderOffset is the XY offset of one extruder, from [extruder N].
type ExtruderOffset struct {
	X float64
	Y float64
}

// SimulatorConfig is the fully parsed simulator configuration.
type SimulatorConfig struct {
	Printer    PrinterOptions
	Simulation SimulationOptions
	Deposition DepositionOptions
	Autopause  AutopauseOptions
	Extruders  map[int]ExtruderOffset
}

// DefaultSimulatorConfig returns the configuration used when no file is given.
func DefaultSimulatorConfig() *SimulatorConfig {
	return &SimulatorConfig{
		Printer: PrinterOptions{
			FilamentDiameter: DefaultFilamentDiameter,
			NozzleDiameter:   DefaultNozzleDiameter,
			BedWidth:         DefaultBedSize,
			BedDepth:         DefaultBedSize,
		},
		Simulation: SimulationOptions{
			Resolution:        DefaultResolution,
			MaxTicksPerFrame:  DefaultMaxTicksPerFrame,
			StatsMinHeight:    DefaultStatsMinHeight,
			CommitDelayFactor: DefaultCommitDelayFactor,
			G92ExtruderLimit:  DefaultG92ExtruderLimit,
		},
		Autopause: AutopauseOptions{
			DanglingLength: DefaultAutopauseLength,
			OverlapLength:  DefaultAutopauseLength,
		},
		Extruders: map[int]ExtruderOffset{},
	}
}

// ParseSimulatorConfig reads every simulator section from c. Missing
// sections and options keep their defaults. Filament and nozzle diameters
// are clamped to their valid ranges rather than rejected.
func ParseSimulatorConfig(c *Config) (*SimulatorConfig, error) {
	sc := DefaultSimulatorConfig()
	var err error

	if sec := c.GetSectionOptional("simulation"); sec != nil {
		s := &sc.Simulation
		if s.StartLine, err = sec.GetIntWithBounds("start_line", Int(0), nil, s.StartLine); err != nil {
			return nil, err
		}
		if s.Resolution, err = sec.GetFloatWithBounds("heightfield_resolution",
			FloatBounds{MinVal: Float(0.01), MaxVal: Float(1)}, s.Resolution); err != nil {
			return nil, err
		}
		if s.MmPerFrame, err = sec.GetFloatWithBounds("mm_per_frame", FloatBounds{MinVal: Float(0)}, 0); err != nil {
			return nil, err
		}
		if s.MaxTicksPerFrame, err = sec.GetIntWithBounds("max_ticks_per_frame", Int(1), nil, s.MaxTicksPerFrame); err != nil {
			return nil, err
		}
		if s.StatsMinHeight, err = sec.GetFloatWithBounds("stats_min_height", FloatBounds{MinVal: Float(0)}, s.StatsMinHeight); err != nil {
			return nil, err
		}
		if s.CommitDelayFactor, err = sec.GetFloatWithBounds("commit_delay_factor", FloatBounds{MinVal: Float(0)}, s.CommitDelayFactor); err != nil {
			return nil, err
		}
		if s.G92ExtruderLimit, err = sec.GetIntWithBounds("g92_extruder_limit", Int(0), nil, s.G92ExtruderLimit); err != nil {
			return nil, err
		}
	}

	if sec := c.GetSectionOptional("printer"); sec != nil {
		p := &sc.Printer
		if p.FilamentDiameter, err = sec.GetFloat("filament_diameter", p.FilamentDiameter); err != nil {
			return nil, err
		}
		if p.NozzleDiameter, err = sec.GetFloat("nozzle_diameter", p.NozzleDiameter); err != nil {
			return nil, err
		}
		bed, err := sec.GetFloatList("bed_size", ",", []float64{p.BedWidth, p.BedDepth})
		if err != nil {
			return nil, err
		}
		switch len(bed) {
		case 1:
			p.BedWidth, p.BedDepth = bed[0], bed[0]
		case 2:
			p.BedWidth, p.BedDepth = bed[0], bed[1]
		default:
			return nil, ErrInvalidValue("printer", "bed_size", strconv.Itoa(len(bed))+" values", "'width, depth'")
		}
		if p.BedCentered, err = sec.GetBool("bed_centered", false); err != nil {
			return nil, err
		}
	}

	if sec := c.GetSectionOptional("deposition"); sec != nil {
		d := &sc.Deposition
		mode, err := sec.GetChoice("mode", []string{"auto", "fixed"}, "auto")
		if err != nil {
			return nil, err
		}
		d.Fixed = mode == "fixed"
		if d.Height, err = sec.GetFloatWithBounds("height", FloatBounds{MinVal: Float(0)}, 0); err != nil {
			return nil, err
		}
		if d.Width, err = sec.GetFloatWithBounds("width", FloatBounds{MinVal: Float(0)}, 0); err != nil {
			return nil, err
		}
		if d.Fixed && (d.Height <= 0 || d.Width <= 0) {
			return nil, ErrOutOfRange("deposition", "height", d.Height, "and width must be set in fixed mode")
		}
	}

	if sec := c.GetSectionOptional("autopause"); sec != nil {
		a := &sc.Autopause
		if a.Enabled, err = sec.GetBool("enabled", false); err != nil {
			return nil, err
		}
		if a.DanglingLength, err = sec.GetFloatWithBounds("dangling_length", FloatBounds{MinVal: Float(0)}, a.DanglingLength); err != nil {
			return nil, err
		}
		if a.OverlapLength, err = sec.GetFloatWithBounds("overlap_length", FloatBounds{MinVal: Float(0)}, a.OverlapLength); err != nil {
			return nil, err
		}
	}

	for _, sec := range c.GetPrefixSections("extruder") {
		id, err := extruderIndex(sec.GetName())
		if err != nil {
			return nil, err
		}
		var off ExtruderOffset
		if off.X, err = sec.GetFloat("offset_x", 0); err != nil {
			return nil, err
		}
		if off.Y, err = sec.GetFloat("offset_y", 0); err != nil {
			return nil, err
		}
		sc.Extruders[id] = off
	}

	sc.Clamp()
	return sc, nil
}

// extruderIndex parses "extruder" (id 0) or "extruder N".
func extruderIndex(name string) (int, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(name, "extruder"))
	if rest == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, ErrInvalidValue(name, "", rest, "non-negative extruder index")
	}
	return id, nil
}

// Clamp forces filament and nozzle diameters into their valid ranges.
// The nozzle must span at least two height-field cells.
func (sc *SimulatorConfig) Clamp() {
	sc.Printer.FilamentDiameter = clamp(sc.Printer.FilamentDiameter, 0.1, 10)
	sc.Printer.NozzleDiameter = clamp(sc.Printer.NozzleDiameter, 2*sc.Simulation.Resolution, 10)
}

// ClampStartLine limits the start line to [0, lines-1].
func (sc *SimulatorConfig) ClampStartLine(lines int) int {
	sc.Simulation.StartLine = int(clamp(float64(sc.Simulation.StartLine), 0, math.Max(0, float64(lines-1))))
	return sc.Simulation.StartLine
}

// MmPerFrame returns the per-frame deposition budget, defaulting to
// half the nozzle diameter.
func (sc *SimulatorConfig) MmPerFrame() float64 {
	if sc.Simulation.MmPerFrame > 0 {
		return sc.Simulation.MmPerFrame
	}
	return sc.Printer.NozzleDiameter * 0.5
}

// ExtruderIDs returns the configured extruder ids in order.
func (sc *SimulatorConfig) ExtruderIDs() []int {
	ids := make([]int, 0, len(sc.Extruders))
	for id := range sc.Extruders {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
