package llm

import "strings"

// BoundaryScanner detects when streamed completion fragments have
// accumulated into a complete top-level JSON object. Models emit the
// turn object token by token; intents must not be executed until the
// object is syntactically closed, so the scanner tracks brace depth
// with full awareness of string literals and escape sequences.
//
// Feed fragments with Write; once Complete reports true, Object returns
// the first balanced top-level object. Text before the opening brace
// (chatter, code fences, think tags) is ignored for boundary purposes
// but retained in Text.
type BoundaryScanner struct {
	buf strings.Builder

	pos      int // next byte to scan
	start    int // index of the opening brace, -1 until seen
	end      int // index one past the closing brace, -1 until seen
	depth    int
	inString bool
	escaped  bool
}

// NewBoundaryScanner returns a scanner ready to consume fragments.
func NewBoundaryScanner() *BoundaryScanner {
	return &BoundaryScanner{start: -1, end: -1}
}

// Write appends a fragment and returns true if a complete top-level
// JSON object has now been seen. Further writes after completion are
// accumulated into Text but do not change the detected object.
func (s *BoundaryScanner) Write(fragment string) bool {
	s.buf.WriteString(fragment)
	if s.end >= 0 {
		return true
	}
	s.scan()
	return s.end >= 0
}

// Complete reports whether a full top-level object has been seen.
func (s *BoundaryScanner) Complete() bool {
	return s.end >= 0
}

// Object returns the first complete top-level JSON object and whether
// one has been detected.
func (s *BoundaryScanner) Object() (string, bool) {
	if s.end < 0 {
		return "", false
	}
	return s.buf.String()[s.start:s.end], true
}

// Text returns everything fed to the scanner so far.
func (s *BoundaryScanner) Text() string {
	return s.buf.String()
}

func (s *BoundaryScanner) scan() {
	text := s.buf.String()
	for ; s.pos < len(text); s.pos++ {
		ch := text[s.pos]

		if s.start < 0 {
			if ch == '{' {
				s.start = s.pos
				s.depth = 1
			}
			continue
		}

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case ch == '\\':
				s.escaped = true
			case ch == '"':
				s.inString = false
			}
			continue
		}

		switch ch {
		case '"':
			s.inString = true
		case '{':
			s.depth++
		case '}':
			s.depth--
			if s.depth == 0 {
				s.end = s.pos + 1
				s.pos++
				return
			}
		}
	}
}
