package engine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// T is the root deferred expression: the eventual target's stand-in.
// Every access chained off T is recorded, not executed, and replayed
// when the spec is evaluated against a concrete target:
//
//	engine.T.Field("a").Index(2) // replays target.a[2]
//
// Builders are immutable; each method returns a new expression with
// one appended step, so partial chains can be shared freely.
var T = &TExpr{}

type deferredOp int

const (
	opField deferredOp = iota
	opIndex
	opCall
)

type deferredStep struct {
	op  deferredOp
	arg any
}

type callArgs struct {
	args   []any
	kwargs map[string]any
}

// TExpr is a replayable chain of field/index/call operations relative
// to the eventual evaluation target. The zero value (no steps) is the
// target itself.
type TExpr struct {
	steps []deferredStep
}

func (t *TExpr) extend(step deferredStep) *TExpr {
	steps := make([]deferredStep, len(t.steps)+1)
	copy(steps, t.steps)
	steps[len(t.steps)] = step
	return &TExpr{steps: steps}
}

// Field appends a field access by name.
func (t *TExpr) Field(name string) *TExpr {
	return t.extend(deferredStep{op: opField, arg: name})
}

// Index appends a keyed or indexed access. The key may itself be a
// *TExpr or Spec, in which case it is evaluated against the original
// target at replay time.
func (t *TExpr) Index(key any) *TExpr {
	return t.extend(deferredStep{op: opIndex, arg: key})
}

// Call appends an invocation of the value accumulated so far with
// positional arguments. Arguments that are *TExpr or Spec values are
// evaluated against the original target, not the partial chain result,
// so T.Field("a") means the same thing as an argument as it does as a
// spec.
func (t *TExpr) Call(args ...any) *TExpr {
	return t.extend(deferredStep{op: opCall, arg: callArgs{args: args}})
}

// CallKw is Call with keyed arguments; the replayed callee must
// implement Callable.
func (t *TExpr) CallKw(args []any, kwargs map[string]any) *TExpr {
	return t.extend(deferredStep{op: opCall, arg: callArgs{args: args, kwargs: kwargs}})
}

// Up returns the expression as it was before the most recent step,
// referencing an ancestor of the current access chain. Ascending past
// the root is a no-op returning the root.
func (t *TExpr) Up() *TExpr {
	if len(t.steps) == 0 {
		return T
	}
	if len(t.steps) == 1 {
		return T
	}
	return &TExpr{steps: t.steps[:len(t.steps)-1]}
}

// String renders the chain as T.a[2](x) style for diagnostics; a
// rendered TExpr round-trips visually to the code that built it.
func (t *TExpr) String() string {
	var b strings.Builder
	b.WriteString("T")
	for _, s := range t.steps {
		b.WriteString(renderStep(s))
	}
	return b.String()
}

func renderStep(s deferredStep) string {
	switch s.op {
	case opField:
		return "." + fmt.Sprintf("%v", s.arg)
	case opIndex:
		return fmt.Sprintf("[%#v]", s.arg)
	case opCall:
		ca := s.arg.(callArgs)
		parts := make([]string, 0, len(ca.args)+len(ca.kwargs))
		for _, a := range ca.args {
			parts = append(parts, fmt.Sprintf("%v", a))
		}
		kwNames := make([]string, 0, len(ca.kwargs))
		for k := range ca.kwargs {
			kwNames = append(kwNames, k)
		}
		sort.Strings(kwNames)
		for _, k := range kwNames {
			parts = append(parts, fmt.Sprintf("%s=%v", k, ca.kwargs[k]))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return "?"
}

// renderedSteps returns the human-readable reprs of steps [0..n) plus
// the failing step, for AccessError messages.
func (t *TExpr) renderedSteps(n int) []any {
	out := make([]any, 0, n+1)
	for i := 0; i <= n && i < len(t.steps); i++ {
		out = append(out, strings.TrimPrefix(renderStep(t.steps[i]), "."))
	}
	return out
}

// evalDeferred replays the operation chain against a concrete target.
// Failure at step i yields an AccessError carrying the rendered
// partial chain and Index == i.
func (e *Evaluator) evalDeferred(t *TExpr, target any, sc *Scope) (any, error) {
	cur := target
	for i, step := range t.steps {
		switch step.op {
		case opField, opIndex:
			key, err := e.evalCallArg(step.arg, target, sc)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				return nil, &AccessError{
					Segments: t.renderedSteps(i),
					Index:    i,
					Err:      fmt.Errorf("nil value has no key %v", key),
					scope:    sc,
				}
			}
			h := e.registry.resolve(cur, "read")
			if h.Read == nil {
				return nil, &UnregisteredOpError{
					Op:         "read",
					Target:     reflect.TypeOf(cur),
					Registered: e.registry.registeredFor("read"),
					Path:       sc.path,
					scope:      sc,
				}
			}
			v, err := h.Read(cur, key)
			if err != nil {
				return nil, &AccessError{
					Segments: t.renderedSteps(i),
					Index:    i,
					Err:      err,
					scope:    sc,
				}
			}
			cur = v
		case opCall:
			ca := step.arg.(callArgs)
			v, err := e.evalInvoke(target, &Invoke{Target: cur, Args: ca.args, Kwargs: ca.kwargs}, sc)
			if err != nil {
				return nil, err
			}
			cur = v
		}
	}
	return cur, nil
}

// evalCallArg resolves one deferred-expression or Invoke argument:
// *TExpr and Spec values recurse against the original target, anything
// else is literal.
func (e *Evaluator) evalCallArg(arg any, target any, sc *Scope) (any, error) {
	switch a := arg.(type) {
	case *TExpr:
		return e.step(target, a, sc)
	case Spec:
		return e.step(target, a.Value, sc)
	default:
		return arg, nil
	}
}
