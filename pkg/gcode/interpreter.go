// Package gcode interprets the motion subset of G-code used by FDM
// slicers. The Interpreter pulls one line at a time from a Stream and
// exposes the commanded targets as a resumable sequence of waypoints.
package gcode

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	simerrors "vrprinter-go/pkg/errors"
	"vrprinter-go/pkg/log"
)

// Interpreter defaults.
const (
	DefaultFeedRate         = 20.0 // mm/s
	DefaultFilamentDiameter = 1.75 // mm
	UltimakerFilament       = 2.85 // mm, implied by the UltiGCode and Griffin flavors

	// DefaultG92ExtruderLimit is the number of extruders above which G92
	// lines are ignored. Multi-extruder files re-zero E per tool and
	// replaying those resets corrupts the merged extrusion axis.
	DefaultG92ExtruderLimit = 2
)

// ExtrusionMode selects how E values are read.
type ExtrusionMode int

const (
	AbsoluteExtrusion ExtrusionMode = iota // M82
	RelativeExtrusion                      // M83
)

func (m ExtrusionMode) String() string {
	if m == RelativeExtrusion {
		return "relative"
	}
	return "absolute"
}

// Position is a tool-head position in millimeters. E is filament length
// once volumetric values have been converted.
type Position struct {
	X, Y, Z, E float64
}

// Waypoint is the next commanded target.
type Waypoint struct {
	Pos  Position
	Feed float64 // mm/s
}

// State is the interpreter-visible machine state.
type State struct {
	Pos    Position
	Offset Position // G92 origin offsets
	Feed   float64  // mm/s

	Extruder  int
	Extruders []int // sorted, de-duplicated

	Extrusion        ExtrusionMode
	Volumetric       bool
	FilamentDiameter float64

	Line int
	Err  *simerrors.SimError
}

func newState() State {
	return State{
		Feed:             DefaultFeedRate,
		FilamentDiameter: DefaultFilamentDiameter,
	}
}

// Options tune the interpreter's heuristics.
type Options struct {
	// G92ExtruderLimit disables G92 once more extruders than this have
	// been selected. Zero keeps G92 always active.
	G92ExtruderLimit int
}

// DefaultOptions returns the standard interpreter options.
func DefaultOptions() Options {
	return Options{G92ExtruderLimit: DefaultG92ExtruderLimit}
}

// Interpreter parses G-code text into waypoints.
type Interpreter struct {
	text   string
	opts   Options
	stream *Stream
	state  State
	logger *log.Logger
}

// NewInterpreter creates an interpreter with no text loaded.
func NewInterpreter(opts Options) *Interpreter {
	return &Interpreter{
		opts:   opts,
		state:  newState(),
		logger: log.GetLogger("gcode"),
	}
}

// Start loads text and resets to its first line.
func (in *Interpreter) Start(text string) {
	in.text = text
	in.state.Extruders = nil
	in.Reset()
}

// Reset restarts from line 1 with all state re-zeroed. The set of
// extruders seen is kept, since it describes the file rather than the
// position in it.
func (in *Interpreter) Reset() {
	extruders := in.state.Extruders
	in.stream = NewStream(in.text)
	in.state = newState()
	in.state.Extruders = extruders
}

// SetExtruders seeds the set of extruders seen, typically with the
// survey of the whole file, so offsets and the G92 limit apply from the
// first line instead of from each tool's first selection.
func (in *Interpreter) SetExtruders(ids []int) {
	set := append([]int(nil), ids...)
	sort.Ints(set)
	set = slices.Compact(set)
	in.state.Extruders = set
}

// Advance parses forward until a new target, a tool change, or the end
// of the text. It returns false at the end of the text and on error;
// once an error is set every call returns false until Reset.
func (in *Interpreter) Advance() bool {
	if in.state.Err != nil || in.stream == nil {
		return false
	}
	for {
		out := in.parseLine()
		switch out.Kind {
		case OutcomeWaypoint, OutcomeToolChange:
			return true
		case OutcomeEOF:
			return false
		case OutcomeError:
			in.state.Err = out.Err
			in.logger.WithField("line", out.Line).Debug(out.Err.Error())
			return false
		}
	}
}

// Waypoint returns the current target.
func (in *Interpreter) Waypoint() Waypoint {
	return Waypoint{Pos: in.state.Pos, Feed: in.state.Feed}
}

// FeedRate returns the current feed rate in mm/s.
func (in *Interpreter) FeedRate() float64 { return in.state.Feed }

// Line returns the number of the last line read.
func (in *Interpreter) Line() int { return in.state.Line }

// HasError reports whether a parse error stopped the interpreter.
func (in *Interpreter) HasError() bool { return in.state.Err != nil }

// Err returns the sticky parse error, or nil.
func (in *Interpreter) Err() error {
	if in.state.Err == nil {
		return nil
	}
	return in.state.Err
}

// CurrentExtruder returns the active extruder id.
func (in *Interpreter) CurrentExtruder() int { return in.state.Extruder }

// ExtruderIDs returns the extruders selected so far, sorted. A file that
// never selects a tool uses extruder 0.
func (in *Interpreter) ExtruderIDs() []int {
	if len(in.state.Extruders) == 0 {
		return []int{in.state.Extruder}
	}
	return append([]int(nil), in.state.Extruders...)
}

// ExtruderCount returns the number of distinct extruders selected so
// far, at least 1.
func (in *Interpreter) ExtruderCount() int {
	return max(1, len(in.state.Extruders))
}

// FilamentDiameter returns the filament diameter in effect, which M200
// or a flavor header may have changed.
func (in *Interpreter) FilamentDiameter() float64 { return in.state.FilamentDiameter }

// State returns a copy of the interpreter state.
func (in *Interpreter) State() State {
	st := in.state
	st.Extruders = append([]int(nil), in.state.Extruders...)
	return st
}

// Progress returns the fraction of the text consumed, in [0,1].
func (in *Interpreter) Progress() float64 {
	if in.stream == nil || in.stream.Len() == 0 {
		return 1
	}
	return float64(in.stream.Offset()) / float64(in.stream.Len())
}

func (in *Interpreter) selectExtruder(id int) {
	in.state.Extruder = id
	i := sort.SearchInts(in.state.Extruders, id)
	if i < len(in.state.Extruders) && in.state.Extruders[i] == id {
		return
	}
	in.state.Extruders = append(in.state.Extruders, 0)
	copy(in.state.Extruders[i+1:], in.state.Extruders[i:])
	in.state.Extruders[i] = id
}

// filamentLength converts an E value to filament length.
func (in *Interpreter) filamentLength(e float64) float64 {
	if !in.state.Volumetric {
		return e
	}
	r := in.state.FilamentDiameter / 2
	return e / (math.Pi * r * r)
}

// OutcomeKind tags the result of parsing one line.
type OutcomeKind int

const (
	OutcomeSkip       OutcomeKind = iota // blank or ignored line
	OutcomeWaypoint                      // G0/G1
	OutcomeToolChange                    // T<n>
	OutcomeModal                         // G92, M82, M83, M200
	OutcomeComment                       // ; ...
	OutcomeError
	OutcomeEOF
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkip:
		return "skip"
	case OutcomeWaypoint:
		return "waypoint"
	case OutcomeToolChange:
		return "tool-change"
	case OutcomeModal:
		return "modal"
	case OutcomeComment:
		return "comment"
	case OutcomeError:
		return "error"
	case OutcomeEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Outcome is the result of parsing one line.
type Outcome struct {
	Kind OutcomeKind
	Line int
	Tool int                // OutcomeToolChange
	Err  *simerrors.SimError // OutcomeError
}

// parser states
const (
	stLineStart = iota
	stCommandCode
	stFieldList
	stComment
	stError
)

// fieldFunc applies one letter/value pair of a field list.
type fieldFunc func(letter byte, v float64) bool

// parseLine consumes exactly one line.
func (in *Interpreter) parseLine() Outcome {
	s := in.stream
	if s.EOF() {
		return Outcome{Kind: OutcomeEOF, Line: in.state.Line}
	}
	in.state.Line++
	line := in.state.Line

	var (
		state   = stLineStart
		letter  byte
		code    int
		field   fieldFunc
		result  OutcomeKind
		failure *simerrors.SimError
	)

	for {
		switch state {
		case stLineStart:
			c := s.ReadChar()
			switch lower(c) {
			case 'g', 'm', 't':
				letter = lower(c)
				state = stCommandCode
			case ';':
				state = stComment
			case '\n', 0:
				return Outcome{Kind: OutcomeSkip, Line: line}
			case '\r', '<':
				s.SkipLine()
				return Outcome{Kind: OutcomeSkip, Line: line}
			default:
				failure = simerrors.GCodeUnknownCommandError(line, c)
				state = stError
			}

		case stCommandCode:
			n, ok := s.ReadInt()
			if !ok {
				failure = simerrors.GCodeParseError(line, "missing command number after '"+strings.ToUpper(string(letter))+"'")
				state = stError
				break
			}
			code = n
			switch {
			case letter == 'g' && (code == 0 || code == 1):
				field, result = in.moveField, OutcomeWaypoint
				state = stFieldList
			case letter == 'g' && code == 92 && !in.g92Suppressed():
				field, result = in.g92Field, OutcomeModal
				state = stFieldList
			case letter == 'm' && code == 82:
				in.state.Extrusion = AbsoluteExtrusion
				s.SkipLine()
				return Outcome{Kind: OutcomeModal, Line: line}
			case letter == 'm' && code == 83:
				in.state.Extrusion = RelativeExtrusion
				s.SkipLine()
				return Outcome{Kind: OutcomeModal, Line: line}
			case letter == 'm' && code == 200:
				field, result = in.m200Field, OutcomeModal
				state = stFieldList
			case letter == 't':
				in.selectExtruder(code)
				s.SkipLine()
				return Outcome{Kind: OutcomeToolChange, Line: line, Tool: code}
			default:
				// G10/G11 retraction, heaters, fans, ...
				s.SkipLine()
				return Outcome{Kind: OutcomeSkip, Line: line}
			}

		case stFieldList:
			c := s.ReadChar()
			switch c {
			case '\n', 0:
				return Outcome{Kind: result, Line: line}
			case '\r':
				continue
			case ';':
				s.SkipLine()
				return Outcome{Kind: result, Line: line}
			}
			c = lower(c)
			if c < 'a' || c > 'z' {
				failure = simerrors.GCodeParseError(line, "expected a word letter, found "+strconv.QuoteRune(rune(c)))
				state = stError
				break
			}
			v, ok := s.ReadFloat()
			if !ok {
				failure = simerrors.GCodeParseError(line, "missing value after '"+strings.ToUpper(string(c))+"'")
				state = stError
				break
			}
			if !field(c, v) {
				cmd := strings.ToUpper(string(letter)) + strconv.Itoa(code)
				failure = simerrors.GCodeUnknownWordError(line, cmd, upper(c))
				state = stError
			}

		case stComment:
			if line == 1 || line == 3 {
				in.sniffFlavor(s.ReadWord())
			}
			s.SkipLine()
			return Outcome{Kind: OutcomeComment, Line: line}

		case stError:
			return Outcome{Kind: OutcomeError, Line: line, Err: failure}
		}
	}
}

// moveField applies a G0/G1 word.
func (in *Interpreter) moveField(c byte, v float64) bool {
	st := &in.state
	switch c {
	case 'x':
		st.Pos.X = v + st.Offset.X
	case 'y':
		st.Pos.Y = v + st.Offset.Y
	case 'z':
		st.Pos.Z = v + st.Offset.Z
	case 'e':
		e := in.filamentLength(v)
		if st.Extrusion == RelativeExtrusion {
			st.Pos.E += e
		} else {
			st.Pos.E = e + st.Offset.E
		}
	case 'f':
		st.Feed = v / 60
	case 'a', 'b', 'c', 'd', 'h':
		// mixing ratios are accepted and ignored
	default:
		return false
	}
	return true
}

// g92Field redefines the origin of one axis without moving.
func (in *Interpreter) g92Field(c byte, v float64) bool {
	st := &in.state
	switch c {
	case 'x':
		st.Offset.X = st.Pos.X - v
	case 'y':
		st.Offset.Y = st.Pos.Y - v
	case 'z':
		st.Offset.Z = st.Pos.Z - v
	case 'e':
		st.Offset.E = st.Pos.E - in.filamentLength(v)
	}
	return true
}

// m200Field handles M200 D<diameter>. A zero diameter turns volumetric
// extrusion off, as firmware does.
func (in *Interpreter) m200Field(c byte, v float64) bool {
	if c == 'd' {
		if v > 0 {
			in.state.FilamentDiameter = v
			in.state.Volumetric = true
		} else {
			in.state.Volumetric = false
		}
	}
	return true
}

func (in *Interpreter) g92Suppressed() bool {
	return in.opts.G92ExtruderLimit > 0 && len(in.state.Extruders) > in.opts.G92ExtruderLimit
}

// sniffFlavor reads the slicer flavor header.
func (in *Interpreter) sniffFlavor(word string) {
	switch strings.TrimSpace(word) {
	case "FLAVOR:UltiGCode":
		in.state.Volumetric = true
		in.state.FilamentDiameter = UltimakerFilament
	case "FLAVOR:Griffin":
		in.state.Volumetric = false
		in.state.FilamentDiameter = UltimakerFilament
	default:
		return
	}
	in.logger.WithFields(log.Fields{
		"flavor":     word,
		"volumetric": in.state.Volumetric,
	}).Debug("detected slicer flavor")
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
