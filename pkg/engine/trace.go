package engine

// Scope-chain rendering for diagnostics. Each frame of a captured
// chain knows the spec and target of its evaluation step; the three
// forms below rebuild human-readable breadcrumbs from that, from a
// one-line summary up to a full dump. The target cursor is
// delta-compressed: a frame's target is only shown when it differs
// from the previous frame's.

import (
	"fmt"
	"reflect"
	"strings"
)

// LineTrace renders a captured scope chain as a single line, the
// shortest summary possible. Segments are joined by '/'; each shows
// the frame's spec type name (or the literal repr for path and
// deferred-expression specs), a '!'-prefixed target type marker when
// the target type changes, and '<...>'-enclosed path entries when the
// frame carries path state.
func LineTrace(sc *Scope) string {
	var b strings.Builder
	var prevType reflect.Type
	first := true
	for _, frame := range sc.frames() {
		b.WriteString("/")
		b.WriteString(traceSpecRepr(frame.spec))
		t := reflect.TypeOf(frame.target)
		if first || t != prevType {
			b.WriteString("!")
			b.WriteString(typeName(t))
		}
		first = false
		prevType = t
		if len(frame.path) > 0 {
			b.WriteString("<")
			b.WriteString(formatSegments(frame.path))
			b.WriteString(">")
		}
	}
	return b.String()
}

// ShortTrace renders one target:/spec: pair per frame, omitting the
// target line when it is unchanged from the previous frame, with
// values truncated to width runes. A width of 0 means no truncation.
func ShortTrace(sc *Scope, width int) string {
	var b strings.Builder
	var prev any
	havePrev := false
	for _, frame := range sc.frames() {
		if !havePrev || !sameValue(prev, frame.target) {
			b.WriteString("target: ")
			b.WriteString(clip(fmt.Sprintf("%#v", frame.target), width))
			b.WriteString("\n")
		}
		havePrev = true
		prev = frame.target
		b.WriteString("spec:   ")
		b.WriteString(clip(traceSpecRepr(frame.spec), width))
		b.WriteString("\n")
	}
	return b.String()
}

// TallTrace is ShortTrace with full, untruncated representations.
func TallTrace(sc *Scope) string {
	return ShortTrace(sc, 0)
}

// traceSpecRepr prefers the literal repr for the spec kinds whose repr
// is their identity, and the type name for everything else.
func traceSpecRepr(spec any) string {
	switch s := spec.(type) {
	case *TExpr:
		return s.String()
	case Path:
		return s.String()
	case string:
		return fmt.Sprintf("%q", s)
	default:
		t := reflect.TypeOf(spec)
		if t == nil {
			return "<nil>"
		}
		return t.String()
	}
}

// sameValue is a tolerant equality for delta compression: comparable
// values compare directly, everything else by identity of rendering.
func sameValue(a, b any) bool {
	if ra, rb := reflect.TypeOf(a), reflect.TypeOf(b); ra != rb {
		return false
	}
	if a == nil {
		return b == nil
	}
	if reflect.TypeOf(a).Comparable() {
		return a == b
	}
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}

func clip(s string, width int) string {
	if width <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
