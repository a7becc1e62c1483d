package engine

import (
	"fmt"
	"reflect"
	"strings"
)

// sentinel is an identity-compared singleton result value.
type sentinel struct{ name string }

func (s *sentinel) String() string { return s.name }

// Omit can be returned from a transform or wrapped in a Literal to
// cancel assignment into the output: a mapping spec drops the key, a
// sequence template drops the element.
var Omit = &sentinel{"Omit"}

// Stop ends a sequence template's iteration early; elements collected
// so far are returned.
var Stop = &sentinel{"Stop"}

// Literal wraps a constant that should appear in the output verbatim,
// with no recursion into it even if it structurally resembles another
// spec kind.
type Literal struct {
	Value any
}

// Lit is shorthand for Literal{Value: v}.
func Lit(v any) Literal { return Literal{Value: v} }

func (l Literal) String() string { return fmt.Sprintf("Lit(%v)", l.Value) }

// Spec is the complement of Literal: it marks a value as a spec to
// recurse into at grammar positions where values default to literal
// interpretation, such as Invoke arguments and deferred-expression
// call arguments.
type Spec struct {
	Value any
}

func (s Spec) String() string { return fmt.Sprintf("Spec(%v)", s.Value) }

// Path specifies explicit access segments for cases the dotted
// "a.b.c" shorthand can't express: integer indices, keys containing
// literal dots, or non-string keys. The segment list bypasses
// dot-splitting entirely.
type Path struct {
	segments []any
}

// P builds a Path from explicit segments.
func P(segments ...any) Path { return Path{segments: segments} }

// Segments returns the ordered access segments.
func (p Path) Segments() []any { return p.segments }

func (p Path) String() string {
	parts := make([]string, len(p.segments))
	for i, s := range p.segments {
		parts[i] = fmt.Sprintf("%#v", s)
	}
	return fmt.Sprintf("Path(%s)", strings.Join(parts, ", "))
}

// Pipeline applies its sub-specs one after another: the first is
// evaluated against the target, and each result becomes the target of
// the next step.
type Pipeline []any

// Each returns a sequence-template spec: sub is evaluated against
// every element the target's iterate handler yields.
func Each(sub any) []any { return []any{sub} }

// Transform is the plain-callable spec kind: invoked directly with the
// current target. Errors returned by a Transform are the user's own
// and are never wrapped by the engine.
type Transform func(target any) (any, error)

// Func is a positional-argument callable usable as an Invoke target or
// a deferred-expression call receiver.
type Func func(args ...any) (any, error)

// Callable is the keyword-capable invocation interface. Invoke targets
// that need keyed arguments implement it.
type Callable interface {
	Call(args []any, kwargs map[string]any) (any, error)
}

// Invoke specifies an explicit call: the callee and every argument are
// each evaluated against the original target (deferred expressions and
// Spec-marked values recurse; anything else is taken literally), then
// the callee is invoked.
type Invoke struct {
	// Target is the callee: a Func, Transform, Callable, *TExpr or
	// Spec.
	Target any

	// Args are positional arguments.
	Args []any

	// Kwargs are keyed arguments; the callee must implement Callable
	// for these to be accepted.
	Kwargs map[string]any
}

// NewInvoke builds an Invoke with positional arguments.
func NewInvoke(target any, args ...any) *Invoke {
	return &Invoke{Target: target, Args: args}
}

// WithKwargs attaches keyed arguments.
func (iv *Invoke) WithKwargs(kwargs map[string]any) *Invoke {
	iv.Kwargs = kwargs
	return iv
}

// Coalesce specifies fallback behavior over an ordered list of
// alternatives: each is tried in turn, and the first that neither
// fails with a skippable error nor produces a skippable value is
// returned. If every alternative is skipped the configured default is
// returned, or an ExhaustedError is raised enumerating the skips.
type Coalesce struct {
	specs      []any
	def        any
	hasDefault bool
	skipValue  func(any) bool
	skipErr    func(error) bool
}

// NewCoalesce builds a Coalesce over the given alternatives.
func NewCoalesce(specs ...any) *Coalesce {
	return &Coalesce{specs: specs}
}

// WithDefault sets the value returned when every alternative is
// skipped.
func (c *Coalesce) WithDefault(v any) *Coalesce {
	c.def = v
	c.hasDefault = true
	return c
}

// WithSkip sets a predicate over returned values; matching values are
// recorded and the next alternative is tried. The predicate applies
// only to values actually returned: a raised error is classified by
// the error predicate first and never reaches WithSkip.
func (c *Coalesce) WithSkip(pred func(any) bool) *Coalesce {
	c.skipValue = pred
	return c
}

// WithSkipValues is WithSkip with value-equality membership semantics.
// Uncomparable values (maps, slices) match by deep equality.
func (c *Coalesce) WithSkipValues(vals ...any) *Coalesce {
	return c.WithSkip(func(v any) bool {
		for _, s := range vals {
			if skipValueEqual(v, s) {
				return true
			}
		}
		return false
	})
}

// skipValueEqual compares a returned value against a configured skip
// value without tripping Go's uncomparable-type panic on ==.
func skipValueEqual(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil || ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// WithSkipErrs sets which errors move evaluation to the next
// alternative. The default is IsEngineError, so any engine-raised
// failure coalesces and user errors propagate.
func (c *Coalesce) WithSkipErrs(pred func(error) bool) *Coalesce {
	c.skipErr = pred
	return c
}

func (c *Coalesce) errSkipper() func(error) bool {
	if c.skipErr != nil {
		return c.skipErr
	}
	return IsEngineError
}

func (c *Coalesce) String() string {
	parts := make([]string, len(c.specs))
	for i, s := range c.specs {
		parts[i] = fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("Coalesce(%s)", strings.Join(parts, ", "))
}

// Inspect wraps a sub-spec with instrumentation: echoing the
// path/target/output of the wrapped evaluation, an optional
// pre-evaluation breakpoint, and an optional post-mortem hook invoked
// on failure before the error re-raises. Inspect has no effect on
// values in the target, spec or result.
type Inspect struct {
	// Wrapped is the instrumented sub-spec.
	Wrapped any

	// Echo logs the path, target and output of each inspected step
	// through the evaluator's logger.
	Echo bool

	// Recursive applies the instrumentation to every descendant of the
	// wrapped spec rather than only its own frame.
	Recursive bool

	// Breakpoint, when set, is invoked with the live scope before the
	// wrapped spec is evaluated.
	Breakpoint func(sc *Scope)

	// PostMortem, when set, is invoked with the error and the live
	// scope when the wrapped evaluation fails, before re-raising.
	PostMortem func(err error, sc *Scope)
}

// NewInspect wraps spec with echoing enabled, the common case.
func NewInspect(spec any) *Inspect {
	return &Inspect{Wrapped: spec, Echo: true}
}

func (i *Inspect) String() string { return "<INSPECT>" }

// Let binds the current target under Name in the active frame and
// passes the target through unchanged. Bindings established by a Let
// are visible to subsequent sibling steps of the enclosing composite
// via the scope chain, and die with the enclosing evaluation.
type Let struct {
	Name string
}

func (l Let) String() string { return fmt.Sprintf("Let(%q)", l.Name) }

// Var reads a binding established by Let (or bound on the scope by a
// collaborator) from the scope chain. A missing binding fails with
// ErrNotBound, outside the engine error family.
type Var struct {
	Name string
}

func (v Var) String() string { return fmt.Sprintf("Var(%q)", v.Name) }

// WithMode installs a mode handler for the evaluation of Spec and its
// descendants. The mode receives every (target, spec, scope) triple
// below this point until a nested WithMode replaces it.
type WithMode struct {
	Mode Mode
	Spec any
}

func (w WithMode) String() string { return "WithMode" }

// specLabel renders a spec as a single human-readable path segment for
// pipeline breadcrumbs and trace output.
func specLabel(spec any) any {
	switch s := spec.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case Transform, func(any) (any, error):
		return "Transform"
	default:
		t := reflect.TypeOf(spec)
		if t == nil {
			return "<nil>"
		}
		return t.String()
	}
}
