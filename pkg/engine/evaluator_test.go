package engine

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func nestedTarget() map[string]any {
	return map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": 1,
			},
		},
	}
}

func TestEvaluator_Evaluate_DeepGet(t *testing.T) {
	ev := New()

	out, err := ev.Evaluate(nestedTarget(), "a.b.c")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 1 {
		t.Errorf("Expected 1, got %v", out)
	}
}

func TestEvaluator_Evaluate_PathAccessError(t *testing.T) {
	ev := New()
	target := map[string]any{
		"a": map[string]any{"b": nil},
	}

	_, err := ev.Evaluate(target, "a.b.c")
	if err == nil {
		t.Fatal("Expected an error for missing key")
	}

	var accErr *AccessError
	if !errors.As(err, &accErr) {
		t.Fatalf("Expected AccessError, got %T: %v", err, err)
	}
	if accErr.Index != 2 {
		t.Errorf("Expected failing index 2, got %d", accErr.Index)
	}
	if len(accErr.Segments) != 3 || accErr.Segments[2] != "c" {
		t.Errorf("Expected segments [a b c], got %v", accErr.Segments)
	}
	if accErr.Trace() == nil {
		t.Error("Expected the error to capture the scope chain")
	}
	if !IsEngineError(err) {
		t.Error("Expected AccessError to belong to the engine error family")
	}
}

func TestEvaluator_Evaluate_UnregisteredRead(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(42, "a")
	if err == nil {
		t.Fatal("Expected an error for unreadable target")
	}

	var opErr *UnregisteredOpError
	if !errors.As(err, &opErr) {
		t.Fatalf("Expected UnregisteredOpError, got %T: %v", err, err)
	}
	if opErr.Op != "read" {
		t.Errorf("Expected op %q, got %q", "read", opErr.Op)
	}
}

func TestEvaluator_Evaluate_Mapping(t *testing.T) {
	ev := New()
	target := map[string]any{
		"user": map[string]any{
			"name":  "alice",
			"email": "alice@example.com",
		},
	}

	out, err := ev.Evaluate(target, map[string]any{
		"name":    "user.name",
		"contact": "user.email",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := map[string]any{
		"name":    "alice",
		"contact": "alice@example.com",
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Expected %v, got %v", want, out)
	}
}

func TestEvaluator_Evaluate_MappingOmitsSentinel(t *testing.T) {
	ev := New()

	out, err := ev.Evaluate(nestedTarget(), map[string]any{
		"kept":    "a.b.c",
		"dropped": Lit(Omit),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	m := out.(map[string]any)
	if _, ok := m["dropped"]; ok {
		t.Error("Expected the Omit result to be dropped from the output")
	}
	if m["kept"] != 1 {
		t.Errorf("Expected kept value 1, got %v", m["kept"])
	}
}

func TestEvaluator_Evaluate_SequenceTemplate(t *testing.T) {
	ev := New()
	target := []any{1, 2, 3}

	out, err := ev.Evaluate(target, Each(Transform(func(v any) (any, error) {
		return v.(int) * 2, nil
	})))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []any{2, 4, 6}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Expected %v, got %v", want, out)
	}
}

func TestEvaluator_Evaluate_SequenceOmitAndStop(t *testing.T) {
	ev := New()
	target := []any{1, 2, 3, 4, 5}

	out, err := ev.Evaluate(target, Each(Transform(func(v any) (any, error) {
		n := v.(int)
		if n == 2 {
			return Omit, nil
		}
		if n == 4 {
			return Stop, nil
		}
		return n, nil
	})))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []any{1, 3}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Expected %v, got %v", want, out)
	}
}

func TestEvaluator_Evaluate_SequenceUnregisteredIterate(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(42, Each("x"))
	if err == nil {
		t.Fatal("Expected an error for non-iterable target")
	}

	var opErr *UnregisteredOpError
	if !errors.As(err, &opErr) {
		t.Fatalf("Expected UnregisteredOpError, got %T: %v", err, err)
	}
	if opErr.Op != "iterate" {
		t.Errorf("Expected op %q, got %q", "iterate", opErr.Op)
	}
}

func TestEvaluator_Evaluate_SequenceTemplateArity(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate([]any{1}, []any{"a", "b"})
	if err == nil {
		t.Fatal("Expected an error for a two-element template")
	}

	var specErr *SpecTypeError
	if !errors.As(err, &specErr) {
		t.Fatalf("Expected SpecTypeError, got %T: %v", err, err)
	}
}

func TestEvaluator_Evaluate_Pipeline(t *testing.T) {
	ev := New()
	target := map[string]any{
		"posts": []any{
			map[string]any{"title": "first"},
			map[string]any{"title": "second"},
		},
	}

	out, err := ev.Evaluate(target, Pipeline{"posts", Each("title")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []any{"first", "second"}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Expected %v, got %v", want, out)
	}
}

func TestEvaluator_Evaluate_PipelineBindings(t *testing.T) {
	ev := New()
	target := map[string]any{
		"a": map[string]any{"b": 1},
	}

	out, err := ev.Evaluate(target, Pipeline{
		Let{Name: "root"},
		"a",
		map[string]any{
			"b":    "b",
			"orig": Var{Name: "root"},
		},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	m := out.(map[string]any)
	if m["b"] != 1 {
		t.Errorf("Expected b to be 1, got %v", m["b"])
	}
	if !reflect.DeepEqual(m["orig"], target) {
		t.Errorf("Expected orig to be the bound root target, got %v", m["orig"])
	}
}

func TestEvaluator_Evaluate_VarUnbound(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(map[string]any{}, Var{Name: "missing"})
	if err == nil {
		t.Fatal("Expected an error for an unbound name")
	}
	if !errors.Is(err, ErrNotBound) {
		t.Errorf("Expected ErrNotBound, got: %v", err)
	}
	if IsEngineError(err) {
		t.Error("Expected unbound-name errors to stay outside the engine error family")
	}
}

func TestEvaluator_Evaluate_CoalesceFirstSuccess(t *testing.T) {
	ev := New()
	target := map[string]any{"b": 2}

	out, err := ev.Evaluate(target, NewCoalesce("a", "b"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 2 {
		t.Errorf("Expected 2, got %v", out)
	}
}

func TestEvaluator_Evaluate_CoalesceExhausted(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(map[string]any{}, NewCoalesce("a", "b"))
	if err == nil {
		t.Fatal("Expected exhaustion error")
	}

	var exErr *ExhaustedError
	if !errors.As(err, &exErr) {
		t.Fatalf("Expected ExhaustedError, got %T: %v", err, err)
	}
	if len(exErr.Skipped) != 2 {
		t.Errorf("Expected 2 skip causes, got %d", len(exErr.Skipped))
	}
	for i, cause := range exErr.Skipped {
		if cause.Err == nil {
			t.Errorf("Expected skip cause %d to carry an error", i)
		}
	}
}

func TestEvaluator_Evaluate_CoalesceDefault(t *testing.T) {
	ev := New()

	out, err := ev.Evaluate(map[string]any{}, NewCoalesce("a", "b").WithDefault(7))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 7 {
		t.Errorf("Expected default 7, got %v", out)
	}
}

func TestEvaluator_Evaluate_CoalesceSkipValues(t *testing.T) {
	ev := New()
	target := map[string]any{"a": nil, "b": 3}

	out, err := ev.Evaluate(target, NewCoalesce("a", "b").WithSkipValues(nil))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 3 {
		t.Errorf("Expected 3, got %v", out)
	}
}

type paymentError struct{ code int }

func (e *paymentError) Error() string { return fmt.Sprintf("payment failed: %d", e.code) }

func TestEvaluator_Evaluate_CoalescePropagatesForeignErrors(t *testing.T) {
	ev := New()
	boom := &paymentError{code: 402}

	_, err := ev.Evaluate(map[string]any{}, NewCoalesce(
		Transform(func(any) (any, error) { return nil, boom }),
		Lit("unreached"),
	))
	if err == nil {
		t.Fatal("Expected the foreign error to propagate")
	}

	var pErr *paymentError
	if !errors.As(err, &pErr) {
		t.Fatalf("Expected the original error type to survive, got %T: %v", err, err)
	}
	var exErr *ExhaustedError
	if errors.As(err, &exErr) {
		t.Error("Expected no exhaustion: foreign errors are not skippable")
	}
}

func TestEvaluator_Evaluate_DefaultOption(t *testing.T) {
	ev := New()

	out, err := ev.Evaluate(map[string]any{}, "missing", WithDefault("fallback"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "fallback" {
		t.Errorf("Expected %q, got %v", "fallback", out)
	}
}

func TestEvaluator_Evaluate_DefaultOptionRespectsSkipPredicate(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(map[string]any{}, "missing",
		WithDefault("fallback"),
		WithSkipErrs(func(error) bool { return false }),
	)
	if err == nil {
		t.Fatal("Expected the error to propagate when the predicate rejects it")
	}
}

func TestEvaluator_Evaluate_SkipWithoutDefaultPropagates(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(map[string]any{}, "missing", WithSkipErrs(IsEngineError))
	if err == nil {
		t.Fatal("Expected the error to propagate without a configured default")
	}
}

func TestEvaluator_Evaluate_LiteralAndSpecMarker(t *testing.T) {
	ev := New()

	out, err := ev.Evaluate(nestedTarget(), Lit("a.b.c"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "a.b.c" {
		t.Errorf("Expected the literal string back, got %v", out)
	}

	out, err = ev.Evaluate(nestedTarget(), Spec{Value: "a.b.c"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 1 {
		t.Errorf("Expected the Spec marker to evaluate its value, got %v", out)
	}
}

func TestEvaluator_Evaluate_PathWithLiteralDot(t *testing.T) {
	ev := New()
	target := map[string]any{
		"a.b": []any{"zero", "one"},
	}

	out, err := ev.Evaluate(target, P("a.b", 1))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "one" {
		t.Errorf("Expected %q, got %v", "one", out)
	}
}

func TestEvaluator_Evaluate_Invoke(t *testing.T) {
	ev := New()
	target := map[string]any{"a": 2, "b": 3}
	sum := Func(func(args ...any) (any, error) {
		total := 0
		for _, a := range args {
			total += a.(int)
		}
		return total, nil
	})

	out, err := ev.Evaluate(target, NewInvoke(sum, T.Index("a"), T.Index("b")))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 5 {
		t.Errorf("Expected 5, got %v", out)
	}
}

type joiner struct{}

func (joiner) Call(args []any, kwargs map[string]any) (any, error) {
	sep := ", "
	if s, ok := kwargs["sep"]; ok {
		sep = s.(string)
	}
	out := ""
	for i, a := range args {
		if i > 0 {
			out += sep
		}
		out += fmt.Sprintf("%v", a)
	}
	return out, nil
}

func TestEvaluator_Evaluate_InvokeKwargs(t *testing.T) {
	ev := New()
	target := map[string]any{"x": "left", "y": "right"}

	spec := NewInvoke(joiner{}, T.Index("x"), T.Index("y")).
		WithKwargs(map[string]any{"sep": "|"})
	out, err := ev.Evaluate(target, spec)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "left|right" {
		t.Errorf("Expected %q, got %v", "left|right", out)
	}
}

func TestEvaluator_Evaluate_InvokeNonCallable(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(map[string]any{}, NewInvoke(42))
	if err == nil {
		t.Fatal("Expected an error for a non-callable callee")
	}

	var specErr *SpecTypeError
	if !errors.As(err, &specErr) {
		t.Fatalf("Expected SpecTypeError, got %T: %v", err, err)
	}
}

func TestEvaluator_Evaluate_TransformErrorsKeepType(t *testing.T) {
	ev := New()
	boom := &paymentError{code: 500}

	_, err := ev.Evaluate(map[string]any{}, Transform(func(any) (any, error) {
		return nil, boom
	}))
	if err == nil {
		t.Fatal("Expected the transform error to propagate")
	}

	var pErr *paymentError
	if !errors.As(err, &pErr) || pErr.code != 500 {
		t.Errorf("Expected the original error type intact, got %T: %v", err, err)
	}
}

func TestEvaluator_Evaluate_WithMode(t *testing.T) {
	ev := New()
	echoMode := Mode(func(target, spec any, sc *Scope) (any, error) {
		return spec, nil
	})

	// Under the echo mode the string is returned verbatim instead of
	// being interpreted as a path.
	out, err := ev.Evaluate(nestedTarget(), WithMode{Mode: echoMode, Spec: "a.b.c"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "a.b.c" {
		t.Errorf("Expected the mode to short-circuit dispatch, got %v", out)
	}
}

func TestEvaluator_Evaluate_ModeReentersEngine(t *testing.T) {
	ev := New()
	// A mode that interprets a map as "evaluate every value under the
	// default rules", delegating back through Continue.
	evalValues := Mode(func(target, spec any, sc *Scope) (any, error) {
		m, ok := spec.(map[string]any)
		if !ok {
			sc.SetMode(nil)
			return sc.Evaluator().Continue(target, spec, sc)
		}
		out := make(map[string]any, len(m))
		for k, sub := range m {
			v, err := sc.Evaluator().Continue(target, sub, sc)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	})

	out, err := ev.Evaluate(nestedTarget(), WithMode{
		Mode: evalValues,
		Spec: map[string]any{"c": "a.b.c"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	m := out.(map[string]any)
	if m["c"] != 1 {
		t.Errorf("Expected 1, got %v", m["c"])
	}
}

func TestEvaluator_Evaluate_InspectBreakpoint(t *testing.T) {
	ev := New()
	var seen []any
	spec := NewInspect("a.b.c")
	spec.Breakpoint = func(sc *Scope) {
		seen = append(seen, sc.Target())
	}

	out, err := ev.Evaluate(nestedTarget(), spec)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 1 {
		t.Errorf("Expected 1, got %v", out)
	}
	if len(seen) != 1 {
		t.Fatalf("Expected one breakpoint hit, got %d", len(seen))
	}
}

func TestEvaluator_Evaluate_InspectPostMortem(t *testing.T) {
	ev := New()
	var caught error
	spec := NewInspect("a.missing")
	spec.PostMortem = func(err error, sc *Scope) {
		caught = err
	}

	_, err := ev.Evaluate(nestedTarget(), spec)
	if err == nil {
		t.Fatal("Expected the wrapped failure to propagate")
	}
	if caught == nil {
		t.Fatal("Expected the post-mortem hook to receive the error")
	}
	var accErr *AccessError
	if !errors.As(caught, &accErr) {
		t.Errorf("Expected the hook to see the AccessError, got %T", caught)
	}
}

func TestEvaluator_Evaluate_SpecTypeError(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(map[string]any{}, 3.14)
	if err == nil {
		t.Fatal("Expected an error for an unrecognized spec value")
	}

	var specErr *SpecTypeError
	if !errors.As(err, &specErr) {
		t.Fatalf("Expected SpecTypeError, got %T: %v", err, err)
	}
	if specErr.Trace() == nil {
		t.Error("Expected the error to capture the scope chain")
	}
}

func TestEvaluator_Evaluate_Idempotent(t *testing.T) {
	ev := New()
	target := map[string]any{
		"users": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		},
	}
	spec := map[string]any{
		"names": Pipeline{"users", Each("name")},
	}

	first, err := ev.Evaluate(target, spec)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := ev.Evaluate(target, spec)
	if err != nil {
		t.Fatalf("Expected no error on re-evaluation, got: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical results, got %v then %v", first, second)
	}
}

func TestEvaluator_Evaluate_StructAndPointerTargets(t *testing.T) {
	type address struct {
		City string
	}
	type user struct {
		Name string
		Addr *address
	}
	ev := New()
	target := user{Name: "alice", Addr: &address{City: "narnia"}}

	out, err := ev.Evaluate(target, "Addr.City")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "narnia" {
		t.Errorf("Expected %q, got %v", "narnia", out)
	}
}

func TestEvaluator_Evaluate_NilEvaluatesLiteralSpecs(t *testing.T) {
	ev := New()

	out, err := ev.Evaluate(nil, Lit("ok"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "ok" {
		t.Errorf("Expected %q, got %v", "ok", out)
	}

	_, err = ev.Evaluate(nil, "a")
	var accErr *AccessError
	if !errors.As(err, &accErr) {
		t.Fatalf("Expected AccessError for a path on nil, got %T: %v", err, err)
	}
}

func TestEvaluator_Evaluate_CoalesceSkipValuesUncomparable(t *testing.T) {
	ev := New()
	target := map[string]any{
		"a": map[string]any{"x": 1},
		"b": []any{1, 2},
	}

	out, err := ev.Evaluate(target, NewCoalesce("a", Lit("fallback")).
		WithSkipValues(map[string]any{"x": 1}))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "fallback" {
		t.Errorf("Expected skipped map to fall through, got %v", out)
	}

	out, err = ev.Evaluate(target, NewCoalesce("b", Lit("fallback")).
		WithSkipValues([]any{1, 2}))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "fallback" {
		t.Errorf("Expected skipped slice to fall through, got %v", out)
	}

	out, err = ev.Evaluate(target, NewCoalesce("a").
		WithSkipValues(map[string]any{"x": 2}))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(out, map[string]any{"x": 1}) {
		t.Errorf("Expected non-matching map to be returned, got %v", out)
	}
}

func TestEvaluator_Evaluate_InspectRecursive(t *testing.T) {
	ev := New()
	var seen []any
	spec := &Inspect{
		Wrapped:   Pipeline{"a", "b"},
		Recursive: true,
		Breakpoint: func(sc *Scope) {
			seen = append(seen, sc.Target())
		},
	}

	out, err := ev.Evaluate(nestedTarget(), spec)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(out, map[string]any{"c": 1}) {
		t.Errorf("Expected map[c:1], got %v", out)
	}
	if len(seen) != 3 {
		t.Fatalf("Expected breakpoint hits for the pipeline and both steps, got %d", len(seen))
	}
	if !reflect.DeepEqual(seen[2], map[string]any{"b": map[string]any{"c": 1}}) {
		t.Errorf("Expected the last hit to see the second step's target, got %v", seen[2])
	}
}

func TestEvaluator_Evaluate_StepHook(t *testing.T) {
	counts := map[string]int{}
	ev := New(WithStepHook(func(kind string) { counts[kind]++ }))

	spec := map[string]any{
		"name": Pipeline{"a", "b"},
		"tag":  Lit("x"),
	}
	if _, err := ev.Evaluate(nestedTarget(), spec); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expected := map[string]int{"mapping": 1, "pipeline": 1, "path": 2, "literal": 1}
	if !reflect.DeepEqual(counts, expected) {
		t.Errorf("Expected %v, got %v", expected, counts)
	}
}
