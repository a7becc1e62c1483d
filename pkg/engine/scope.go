package engine

import (
	"fmt"
)

// Mode selects how composite specs are interpreted. The default
// structural interpretation is a nil Mode; a non-nil Mode on the
// current frame receives the entire (target, spec, scope) triple and
// its result is returned verbatim, with none of the structural
// dispatch rules applied. This is the extension point by which
// alternate grammars (pattern matching, aggregation, templating,
// mutation) reuse the recursion engine.
//
// Mode handlers must report failure with an error from the engine's
// base family (or one wrapping it) so that fallback composition works
// uniformly regardless of which mode produced the failure. Handlers
// recurse by calling sc.Evaluator().Continue.
type Mode func(target, spec any, sc *Scope) (any, error)

// Scope is one frame of the parent-linked environment chain threaded
// through evaluation. A frame is created on every recursive descent
// and dies with the call unless captured by a raised error or handed
// to a tracer.
//
// Ambient evaluation state (path, mode, inspector, the spec/target
// snapshots the tracer reads) lives in dedicated fields; user-visible
// variable bindings live in a separate map so they can never collide
// with the engine's own keys.
type Scope struct {
	parent *Scope
	eval   *Evaluator

	// snapshots of the evaluation step this frame belongs to
	spec   any
	target any

	path      []any
	mode      Mode
	inspector *Inspect

	// lastChild is the frame produced by the most recent
	// sub-evaluation under this frame. When a composite spec evaluates
	// two dependent siblings against the same target, the second is
	// evaluated inside the first's frame so bindings flow between
	// them. The channel is scoped to the parent evaluation and never
	// leaks past it.
	lastChild *Scope

	vars map[string]any
}

// newRootScope creates the anchor frame for one top-level evaluation.
func newRootScope(e *Evaluator) *Scope {
	return &Scope{eval: e}
}

// newChild creates the frame for one evaluation step, inheriting the
// ambient state and registering itself as the parent's last child.
func (sc *Scope) newChild(target, spec any) *Scope {
	child := &Scope{
		parent:    sc,
		eval:      sc.eval,
		spec:      spec,
		target:    target,
		path:      sc.path,
		mode:      sc.mode,
		inspector: sc.inspector,
	}
	sc.lastChild = child
	return child
}

// fork derives a frame identical to sc but with one extra path
// segment, used for per-element descent in sequence templates.
func (sc *Scope) fork(segment any) *Scope {
	child := &Scope{
		parent:    sc,
		eval:      sc.eval,
		spec:      sc.spec,
		target:    sc.target,
		path:      appendSegment(sc.path, segment),
		mode:      sc.mode,
		inspector: sc.inspector,
	}
	return child
}

// appendSegment copies on append so sibling frames never alias each
// other's path storage.
func appendSegment(path []any, segment any) []any {
	out := make([]any, len(path), len(path)+1)
	copy(out, path)
	return append(out, segment)
}

// Lookup reads a user binding, walking from the innermost frame
// outward. A miss returns an error wrapping ErrNotBound, which is
// deliberately outside the engine's evaluation error family.
func (sc *Scope) Lookup(name string) (any, error) {
	for s := sc; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrNotBound)
}

// Bind writes a user binding into this frame only.
func (sc *Scope) Bind(name string, value any) {
	if sc.vars == nil {
		sc.vars = make(map[string]any)
	}
	sc.vars[name] = value
}

// BindRoot writes a user binding into the root frame, the documented
// escape for bindings that must outlive the current subtree.
func (sc *Scope) BindRoot(name string, value any) {
	root := sc
	for root.parent != nil {
		root = root.parent
	}
	root.Bind(name, value)
}

// Path returns the human-readable segments accumulated on descent.
// The path is diagnostic state only; it never drives control flow.
func (sc *Scope) Path() []any { return sc.path }

// Target returns the target snapshot of this frame.
func (sc *Scope) Target() any { return sc.target }

// SpecValue returns the spec snapshot of this frame.
func (sc *Scope) SpecValue() any { return sc.spec }

// Parent returns the enclosing frame, or nil at the root.
func (sc *Scope) Parent() *Scope { return sc.parent }

// Evaluator returns the evaluator this scope chain belongs to, for
// mode handlers that need to re-enter the recursion.
func (sc *Scope) Evaluator() *Evaluator { return sc.eval }

// SetMode replaces the interpretation mode for this frame and its
// descendants. Passing nil restores the default structural dispatch,
// letting a mode handler hand a subtree back to the engine.
func (sc *Scope) SetMode(m Mode) { sc.mode = m }

// appendPath grows this frame's path by one segment, for pipeline
// steps that contribute a human-readable breadcrumb.
func (sc *Scope) appendPath(segment any) {
	sc.path = appendSegment(sc.path, segment)
}

// frames returns the chain outermost-first, skipping the root anchor,
// for the tracer.
func (sc *Scope) frames() []*Scope {
	var out []*Scope
	for s := sc; s != nil; s = s.parent {
		if s.parent == nil {
			break // root anchor carries no evaluation step
		}
		out = append(out, s)
	}
	// reverse to outermost-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
