package gcode

import "strconv"

// Stream is a cursor over G-code text. It only knows about characters,
// numbers and words; the Interpreter gives them meaning.
type Stream struct {
	buf string
	pos int
}

// NewStream creates a stream positioned at the start of text.
func NewStream(text string) *Stream {
	return &Stream{buf: text}
}

// EOF reports whether every character has been consumed.
func (s *Stream) EOF() bool {
	return s.pos >= len(s.buf)
}

// Offset returns the number of bytes consumed so far.
func (s *Stream) Offset() int {
	return s.pos
}

// Len returns the total length of the text in bytes.
func (s *Stream) Len() int {
	return len(s.buf)
}

// Peek returns the next character without consuming it, or 0 at EOF.
func (s *Stream) Peek() byte {
	if s.EOF() {
		return 0
	}
	return s.buf[s.pos]
}

func (s *Stream) skipBlanks() {
	for s.pos < len(s.buf) && isBlank(s.buf[s.pos]) {
		s.pos++
	}
}

// ReadChar skips spaces and tabs and returns the next character, or 0
// at EOF. Newlines are returned, never skipped.
func (s *Stream) ReadChar() byte {
	s.skipBlanks()
	if s.EOF() {
		return 0
	}
	c := s.buf[s.pos]
	s.pos++
	return c
}

// ReadInt reads an optionally signed decimal integer after skipping
// blanks. ok is false, and nothing is consumed, when no digit follows.
func (s *Stream) ReadInt() (n int, ok bool) {
	s.skipBlanks()
	start := s.pos
	i := s.pos
	neg := false
	if i < len(s.buf) && (s.buf[i] == '-' || s.buf[i] == '+') {
		neg = s.buf[i] == '-'
		i++
	}
	digits := i
	for i < len(s.buf) && isDigit(s.buf[i]) {
		n = n*10 + int(s.buf[i]-'0')
		i++
	}
	if i == digits {
		s.pos = start
		return 0, false
	}
	s.pos = i
	if neg {
		n = -n
	}
	return n, true
}

// ReadFloat reads a decimal number of the form [+-]digits[.digits]
// after skipping blanks. A leading or trailing dot is accepted
// (".5", "5."). Exponents are not part of G-code and are not read.
// ok is false, and nothing is consumed, when there is no digit.
func (s *Stream) ReadFloat() (f float64, ok bool) {
	s.skipBlanks()
	i := s.pos
	if i < len(s.buf) && (s.buf[i] == '-' || s.buf[i] == '+') {
		i++
	}
	ndigits := 0
	for i < len(s.buf) && isDigit(s.buf[i]) {
		i++
		ndigits++
	}
	if i < len(s.buf) && s.buf[i] == '.' {
		i++
		for i < len(s.buf) && isDigit(s.buf[i]) {
			i++
			ndigits++
		}
	}
	if ndigits == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s.buf[s.pos:i], 64)
	if err != nil {
		return 0, false
	}
	s.pos = i
	return f, true
}

// ReadWord skips blanks and returns the following run of non-blank,
// non-newline characters.
func (s *Stream) ReadWord() string {
	s.skipBlanks()
	start := s.pos
	for s.pos < len(s.buf) && !isBlank(s.buf[s.pos]) && s.buf[s.pos] != '\n' && s.buf[s.pos] != '\r' {
		s.pos++
	}
	return s.buf[start:s.pos]
}

// SkipLine consumes everything up to and including the next newline.
func (s *Stream) SkipLine() {
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		s.pos++
		if c == '\n' {
			return
		}
	}
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
