package engine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Evaluator interprets spec shapes against targets. It owns a type
// registry and a logger for Inspect echoes; both are fixed at
// construction so concurrent Evaluate calls share them read-only.
type Evaluator struct {
	registry *Registry
	log      zerolog.Logger
	stepHook func(kind string)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRegistry replaces the default seeded type registry.
func WithRegistry(r *Registry) Option {
	return func(e *Evaluator) { e.registry = r }
}

// WithLogger sets the logger used by Inspect echoes. The default
// discards them.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Evaluator) { e.log = log }
}

// WithStepHook installs a callback invoked once per dispatched spec
// with the spec's kind label, for collaborators that count dispatches.
// The hook runs on the evaluating goroutine and must be cheap.
func WithStepHook(hook func(kind string)) Option {
	return func(e *Evaluator) { e.stepHook = hook }
}

// New creates an evaluator with the default type registrations.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		registry: NewRegistry(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the evaluator's type registry, for additional
// registrations before evaluation begins.
func (e *Evaluator) Registry() *Registry { return e.registry }

type evalOptions struct {
	def        any
	hasDefault bool
	skip       func(error) bool
}

// EvalOption configures one Evaluate call.
type EvalOption func(*evalOptions)

// WithDefault returns def instead of propagating when evaluation fails
// with a skippable error. When no skip predicate is configured, the
// engine's base error family is skipped.
func WithDefault(def any) EvalOption {
	return func(o *evalOptions) {
		o.def = def
		o.hasDefault = true
	}
}

// WithSkipErrs sets which errors the top-level call converts into the
// configured default.
func WithSkipErrs(pred func(error) bool) EvalOption {
	return func(o *evalOptions) { o.skip = pred }
}

// Evaluate accesses or constructs a value from target according to
// spec. Deep-get:
//
//	out, err := ev.Evaluate(target, "a.b.c")
//
// Restructure:
//
//	out, err := ev.Evaluate(target, map[string]any{
//	    "name":  "user.name",
//	    "posts": engine.Pipeline{"user.posts", engine.Each("title")},
//	})
func (e *Evaluator) Evaluate(target, spec any, opts ...EvalOption) (any, error) {
	var o evalOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.skip == nil && o.hasDefault {
		o.skip = IsEngineError
	}
	ret, err := e.step(target, spec, newRootScope(e))
	if err != nil {
		if o.hasDefault && o.skip != nil && o.skip(err) {
			return o.def, nil
		}
		return nil, err
	}
	return ret, nil
}

// Continue re-enters the recursive evaluation from a mode handler or
// spec extension, evaluating spec against target under sc.
func (e *Evaluator) Continue(target, spec any, sc *Scope) (any, error) {
	return e.step(target, spec, sc)
}

// step is one recursive evaluation: a pure function of
// (target, spec, scope) except for the bounded sibling-visibility
// channel on the parent frame. Dispatch priority: instrumentation
// wrapper, mode installation, mode delegation, then the structural
// rules in fixed order.
func (e *Evaluator) step(target, spec any, parent *Scope) (any, error) {
	sc := parent.newChild(target, spec)

	if e.stepHook != nil {
		e.stepHook(specKind(spec))
	}

	insp := sc.inspector
	if insp != nil {
		if !insp.Recursive {
			sc.inspector = nil // descendants run uninstrumented
		}
		if insp.Echo {
			e.log.Debug().
				Str("path", formatSegments(appendSegment(sc.path, specLabel(spec)))).
				Interface("target", target).
				Msg("inspect")
		}
		if insp.Breakpoint != nil {
			insp.Breakpoint(sc)
		}
	}

	ret, err := e.dispatch(target, spec, sc)

	if insp != nil && insp.Echo && err == nil {
		e.log.Debug().Interface("output", ret).Msg("inspect")
	}
	return ret, err
}

func (e *Evaluator) dispatch(target, spec any, sc *Scope) (any, error) {
	// Instrumentation wrappers and mode installation are engine
	// constructs, recognized even when a mode is active.
	switch s := spec.(type) {
	case *Inspect:
		sc.inspector = s
		ret, err := e.step(target, s.Wrapped, sc)
		if err != nil && s.PostMortem != nil {
			s.PostMortem(err, sc)
		}
		return ret, err
	case WithMode:
		sc.mode = s.Mode
		return e.step(target, s.Spec, sc)
	}

	// A non-default mode receives the whole triple; the structural
	// rules below do not apply.
	if sc.mode != nil {
		return sc.mode(target, spec, sc)
	}

	switch s := spec.(type) {
	case map[string]any:
		return e.evalMapping(target, s, sc)
	case Pipeline:
		return e.evalPipeline(target, s, sc)
	case []any:
		return e.evalSequence(target, s, sc)
	case *TExpr:
		return e.evalDeferred(s, target, sc)
	case *Invoke:
		return e.evalInvoke(target, s, sc)
	case Transform:
		return s(target)
	case func(any) (any, error):
		return s(target)
	case string:
		segments := dotSplit(s)
		return e.evalPath(target, segments, sc)
	case Path:
		return e.evalPath(target, s.segments, sc)
	case *Coalesce:
		return e.evalCoalesce(target, s, sc)
	case Literal:
		return s.Value, nil
	case Spec:
		return e.step(target, s.Value, sc)
	case Let:
		sc.Bind(s.Name, target)
		return target, nil
	case Var:
		return sc.Lookup(s.Name)
	default:
		return nil, &SpecTypeError{Spec: spec, Path: sc.path, scope: sc}
	}
}

// evalMapping produces a new mapping: each declared key's sub-spec is
// evaluated against the same target. Keys are visited in sorted order
// so evaluation is deterministic; sub-spec results equal to Omit are
// dropped from the output.
func (e *Evaluator) evalMapping(target any, spec map[string]any, sc *Scope) (any, error) {
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(spec))
	for _, k := range keys {
		v, err := e.step(target, spec[k], sc)
		if err != nil {
			return nil, err
		}
		if v == any(Omit) {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// evalSequence applies a one-element template to every element the
// target's iterate handler yields, in order. Omit results are dropped;
// a Stop result ends iteration keeping what was collected.
func (e *Evaluator) evalSequence(target any, spec []any, sc *Scope) (any, error) {
	if len(spec) != 1 {
		return nil, &SpecTypeError{
			Spec:    spec,
			Message: "sequence template must hold exactly one sub-spec",
			Path:    sc.path,
			scope:   sc,
		}
	}
	h := e.registry.resolve(target, "iterate")
	if h.Iterate == nil {
		return nil, &UnregisteredOpError{
			Op:         "iterate",
			Target:     reflect.TypeOf(target),
			Registered: e.registry.registeredFor("iterate"),
			Path:       sc.path,
			scope:      sc,
		}
	}
	seq, err := h.Iterate(target)
	if err != nil {
		// Iteration setup failures are the handler's own; they are not
		// access errors and propagate unwrapped.
		return nil, fmt.Errorf("failed to iterate on %T at %s: %w",
			target, formatSegments(sc.path), err)
	}
	out := make([]any, 0)
	i := 0
	for elem := range seq {
		v, err := e.step(elem, spec[0], sc.fork(i))
		if err != nil {
			return nil, err
		}
		i++
		if v == any(Omit) {
			continue
		}
		if v == any(Stop) {
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// evalPipeline feeds each sub-spec's result forward as the next step's
// target. Bindings established during one step are visible to the
// next: each step is evaluated inside the frame the previous step
// produced. Non-sequence-template steps contribute one path segment;
// sequence templates add per-element index segments instead.
func (e *Evaluator) evalPipeline(target any, spec Pipeline, sc *Scope) (any, error) {
	cur := target
	base := sc
	for _, sub := range spec {
		v, err := e.step(cur, sub, base)
		if err != nil {
			return nil, err
		}
		cur = v
		if base.lastChild != nil {
			base = base.lastChild
		}
		if _, isTemplate := sub.([]any); !isTemplate {
			base.appendPath(specLabel(sub))
		}
	}
	return cur, nil
}

// evalPath resolves ordered keys one at a time through the registry's
// read handlers. A failure at key i is an AccessError carrying the
// full key sequence and i, re-anchored under the scope path so the
// surfaced error reflects the full target depth.
func (e *Evaluator) evalPath(target any, segments []any, sc *Scope) (any, error) {
	cur := target
	for i, seg := range segments {
		if cur == nil {
			full := make([]any, 0, len(sc.path)+len(segments))
			full = append(full, sc.path...)
			full = append(full, segments...)
			return nil, &AccessError{
				Segments: full,
				Index:    len(sc.path) + i,
				Err:      fmt.Errorf("nil value has no key %v", seg),
				scope:    sc,
			}
		}
		h := e.registry.resolve(cur, "read")
		if h.Read == nil {
			return nil, &UnregisteredOpError{
				Op:         "read",
				Target:     reflect.TypeOf(cur),
				Registered: e.registry.registeredFor("read"),
				Path:       appendSegment(sc.path, formatSegments(segments[:i])),
				scope:      sc,
			}
		}
		v, err := h.Read(cur, seg)
		if err != nil {
			full := make([]any, 0, len(sc.path)+len(segments))
			full = append(full, sc.path...)
			full = append(full, segments...)
			return nil, &AccessError{
				Segments: full,
				Index:    len(sc.path) + i,
				Err:      err,
				scope:    sc,
			}
		}
		cur = v
	}
	return cur, nil
}

// evalCoalesce tries each alternative in order. A raised error is
// classified first: skippable errors are recorded and the next
// alternative is tried, anything else propagates. The skip-value
// predicate applies only to values actually returned.
func (e *Evaluator) evalCoalesce(target any, spec *Coalesce, sc *Scope) (any, error) {
	skipErr := spec.errSkipper()
	skipped := make([]SkipCause, 0, len(spec.specs))
	for _, sub := range spec.specs {
		v, err := e.step(target, sub, sc)
		if err != nil {
			if skipErr(err) {
				skipped = append(skipped, SkipCause{Err: err})
				continue
			}
			return nil, err
		}
		if spec.skipValue != nil && spec.skipValue(v) {
			skipped = append(skipped, SkipCause{Value: v})
			continue
		}
		return v, nil
	}
	if spec.hasDefault {
		return spec.def, nil
	}
	return nil, &ExhaustedError{Skipped: skipped, Path: sc.path, scope: sc}
}

// evalInvoke evaluates the callee and all arguments against the
// original target, then invokes. Errors raised by the callee itself
// propagate with their original type intact.
func (e *Evaluator) evalInvoke(target any, spec *Invoke, sc *Scope) (any, error) {
	callee, err := e.evalCallArg(spec.Target, target, sc)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(spec.Args))
	for i, a := range spec.Args {
		if args[i], err = e.evalCallArg(a, target, sc); err != nil {
			return nil, err
		}
	}
	var kwargs map[string]any
	if len(spec.Kwargs) > 0 {
		kwargs = make(map[string]any, len(spec.Kwargs))
		for k, a := range spec.Kwargs {
			if kwargs[k], err = e.evalCallArg(a, target, sc); err != nil {
				return nil, err
			}
		}
	}

	switch fn := callee.(type) {
	case Callable:
		return fn.Call(args, kwargs)
	case Func:
		if len(kwargs) > 0 {
			return nil, &SpecTypeError{
				Spec:    spec,
				Message: "callee takes no keyed arguments",
				Path:    sc.path,
				scope:   sc,
			}
		}
		return fn(args...)
	case func(...any) (any, error):
		if len(kwargs) > 0 {
			return nil, &SpecTypeError{
				Spec:    spec,
				Message: "callee takes no keyed arguments",
				Path:    sc.path,
				scope:   sc,
			}
		}
		return fn(args...)
	case Transform:
		if len(args) != 1 || len(kwargs) > 0 {
			return nil, &SpecTypeError{
				Spec:    spec,
				Message: "transform callee takes exactly one positional argument",
				Path:    sc.path,
				scope:   sc,
			}
		}
		return fn(args[0])
	case func(any) (any, error):
		if len(args) != 1 || len(kwargs) > 0 {
			return nil, &SpecTypeError{
				Spec:    spec,
				Message: "transform callee takes exactly one positional argument",
				Path:    sc.path,
				scope:   sc,
			}
		}
		return fn(args[0])
	default:
		return nil, &SpecTypeError{
			Spec:    spec,
			Message: fmt.Sprintf("callee %T is not callable", callee),
			Path:    sc.path,
			scope:   sc,
		}
	}
}

// dotSplit expands the "a.b.c" shorthand into ordered keys. Explicit
// Path specs bypass this for keys containing literal dots.
func dotSplit(path string) []any {
	parts := strings.Split(path, ".")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

// specKind labels a spec for step hooks, mirroring dispatch order.
func specKind(spec any) string {
	switch spec.(type) {
	case *Inspect:
		return "inspect"
	case WithMode:
		return "mode"
	case map[string]any:
		return "mapping"
	case Pipeline:
		return "pipeline"
	case []any:
		return "sequence"
	case *TExpr:
		return "deferred"
	case *Invoke:
		return "invoke"
	case Transform, func(any) (any, error):
		return "transform"
	case string, Path:
		return "path"
	case *Coalesce:
		return "coalesce"
	case Literal:
		return "literal"
	case Spec:
		return "spec"
	case Let:
		return "let"
	case Var:
		return "var"
	default:
		return "other"
	}
}
