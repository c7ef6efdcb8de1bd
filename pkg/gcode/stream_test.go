package gcode

import "testing"

func TestStreamReadChar(t *testing.T) {
	s := NewStream("  G\t1\n")
	for _, want := range []byte{'G', '1', '\n', 0, 0} {
		if got := s.ReadChar(); got != want {
			t.Fatalf("ReadChar() = %q, want %q", got, want)
		}
	}
	if !s.EOF() {
		t.Error("expected EOF")
	}
}

func TestStreamReadInt(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		ok     bool
		offset int
	}{
		{"92", 92, true, 2},
		{" 1 X", 1, true, 2},
		{"-3", -3, true, 2},
		{"+7", 7, true, 2},
		{"X1", 0, false, 0},
		{"-", 0, false, 0},
		{"", 0, false, 0},
	}
	for _, tt := range tests {
		s := NewStream(tt.input)
		got, ok := s.ReadInt()
		if got != tt.want || ok != tt.ok {
			t.Errorf("ReadInt(%q) = %d, %v; want %d, %v", tt.input, got, ok, tt.want, tt.ok)
		}
		if !tt.ok {
			continue
		}
		if s.Offset() != tt.offset {
			t.Errorf("ReadInt(%q) consumed %d bytes, want %d", tt.input, s.Offset(), tt.offset)
		}
	}
}

func TestStreamReadFloat(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
		rest  byte
	}{
		{"10", 10, true, 0},
		{"2.85\n", 2.85, true, '\n'},
		{"-0.4 Y", -0.4, true, ' '},
		{".5", 0.5, true, 0},
		{"5.", 5, true, 0},
		{"+1.25;", 1.25, true, ';'},
		{"1e3", 1, true, 'e'},
		{"X", 0, false, 'X'},
		{".", 0, false, '.'},
		{"\n", 0, false, '\n'},
	}
	for _, tt := range tests {
		s := NewStream(tt.input)
		got, ok := s.ReadFloat()
		if got != tt.want || ok != tt.ok {
			t.Errorf("ReadFloat(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.ok)
		}
		if s.Peek() != tt.rest {
			t.Errorf("ReadFloat(%q) left %q, want %q", tt.input, s.Peek(), tt.rest)
		}
	}
}

func TestStreamReadWordAndSkipLine(t *testing.T) {
	s := NewStream(";FLAVOR:Griffin extra\r\nG1\n")
	if c := s.ReadChar(); c != ';' {
		t.Fatalf("ReadChar() = %q", c)
	}
	if w := s.ReadWord(); w != "FLAVOR:Griffin" {
		t.Errorf("ReadWord() = %q", w)
	}
	s.SkipLine()
	if c := s.ReadChar(); c != 'G' {
		t.Errorf("after SkipLine ReadChar() = %q, want 'G'", c)
	}
	s.SkipLine()
	s.SkipLine()
	if !s.EOF() {
		t.Error("expected EOF after skipping past the end")
	}
}
