package usecase

import (
	"strings"

	"github.com/elysia-ai/elysia/internal/domain/service"
)

var markerLiterals = []string{service.MarkerEmotion, service.MarkerTask}

// markerFilter keeps in-band marker regions off the wire no matter how the
// upstream chunks them. It forwards text as soon as it provably cannot be
// part of a marker: a tail that is a prefix of a marker literal is held back
// until the next chunk resolves it, and once a full literal appears the
// filter suppresses through the end of its balanced-brace JSON body.
type markerFilter struct {
	pending []byte

	suppressing bool
	sawBrace    bool
	depth       int
	inString    bool
	escaped     bool
}

func newMarkerFilter() *markerFilter {
	return &markerFilter{}
}

// Feed consumes one delta and returns the bytes safe to forward now.
func (f *markerFilter) Feed(delta string) string {
	data := string(f.pending) + delta
	f.pending = f.pending[:0]

	var out strings.Builder
	i := 0
	for i < len(data) {
		if f.suppressing {
			i = f.consumeMarkerBody(data, i)
			continue
		}

		idx, lit := earliestMarker(data[i:])
		if idx >= 0 {
			out.WriteString(data[i : i+idx])
			i += idx + len(lit)
			f.suppressing = true
			f.sawBrace = false
			f.depth = 0
			f.inString = false
			f.escaped = false
			continue
		}

		hold := prefixHold(data[i:])
		out.WriteString(data[i : len(data)-hold])
		if hold > 0 {
			f.pending = append(f.pending, data[len(data)-hold:]...)
		}
		break
	}
	return out.String()
}

// Flush returns any held-back tail at end of stream. A tail still pending
// was only ever a marker *prefix*, so it is ordinary text; a suppressed
// region that never closed is dropped, matching the extractor.
func (f *markerFilter) Flush() string {
	if f.suppressing {
		f.pending = f.pending[:0]
		return ""
	}
	tail := string(f.pending)
	f.pending = f.pending[:0]
	return tail
}

// consumeMarkerBody advances through `: {...}` after a marker literal,
// tracking JSON strings and nesting. Returns the index after the region, or
// len(data) when the chunk ends mid-region.
func (f *markerFilter) consumeMarkerBody(data string, i int) int {
	for i < len(data) {
		ch := data[i]

		if !f.sawBrace {
			switch ch {
			case ' ', '\t', ':':
				i++
				continue
			case '{':
				f.sawBrace = true
				f.depth = 1
				i++
				continue
			default:
				// Bare literal with no JSON body: resume normal text here.
				f.suppressing = false
				return i
			}
		}

		switch {
		case f.escaped:
			f.escaped = false
		case f.inString && ch == '\\':
			f.escaped = true
		case ch == '"':
			f.inString = !f.inString
		case !f.inString && ch == '{':
			f.depth++
		case !f.inString && ch == '}':
			f.depth--
			if f.depth == 0 {
				f.suppressing = false
				return i + 1
			}
		}
		i++
	}
	return i
}

// earliestMarker finds the first occurrence of any marker literal.
func earliestMarker(s string) (int, string) {
	best := -1
	var bestLit string
	for _, lit := range markerLiterals {
		if idx := strings.Index(s, lit); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestLit = lit
		}
	}
	return best, bestLit
}

// prefixHold reports how many trailing bytes of s form a proper prefix of a
// marker literal and must therefore wait for the next chunk.
func prefixHold(s string) int {
	max := 0
	for _, lit := range markerLiterals {
		if len(lit)-1 > max {
			max = len(lit) - 1
		}
	}
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		tail := s[len(s)-k:]
		for _, lit := range markerLiterals {
			if strings.HasPrefix(lit, tail) {
				return k
			}
		}
	}
	return 0
}
