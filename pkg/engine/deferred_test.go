package engine

import (
	"errors"
	"testing"
)

func TestTExpr_Immutability(t *testing.T) {
	base := T.Field("a")
	left := base.Index(0)
	right := base.Index(1)

	if base.String() != "T.a" {
		t.Errorf("Expected the shared prefix unchanged, got %q", base.String())
	}
	if left.String() != "T.a[0]" {
		t.Errorf("Expected %q, got %q", "T.a[0]", left.String())
	}
	if right.String() != "T.a[1]" {
		t.Errorf("Expected %q, got %q", "T.a[1]", right.String())
	}
}

func TestTExpr_String(t *testing.T) {
	got := T.Field("a").Index(2).Call("x").String()
	want := "T.a[2](x)"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if T.String() != "T" {
		t.Errorf("Expected bare root to render as %q, got %q", "T", T.String())
	}
}

func TestEvaluator_Evaluate_DeferredChain(t *testing.T) {
	ev := New()
	target := map[string]any{
		"a": []any{
			map[string]any{"b": "found"},
		},
	}

	out, err := ev.Evaluate(target, T.Field("a").Index(0).Field("b"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "found" {
		t.Errorf("Expected %q, got %v", "found", out)
	}
}

func TestEvaluator_Evaluate_DeferredAccessError(t *testing.T) {
	ev := New()
	target := map[string]any{"a": map[string]any{}}

	_, err := ev.Evaluate(target, T.Field("a").Field("b"))
	if err == nil {
		t.Fatal("Expected an access error")
	}

	var accErr *AccessError
	if !errors.As(err, &accErr) {
		t.Fatalf("Expected AccessError, got %T: %v", err, err)
	}
	if accErr.Index != 1 {
		t.Errorf("Expected failing step index 1, got %d", accErr.Index)
	}
}

func TestTExpr_Up(t *testing.T) {
	ev := New()
	target := nestedTarget()

	deep := T.Field("a").Field("b")
	out, err := ev.Evaluate(target, deep.Up())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	wantA, err := ev.Evaluate(target, "a")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if outMap, ok := out.(map[string]any); !ok || outMap["b"] == nil {
		t.Errorf("Expected Up to drop one access, got %v (want %v)", out, wantA)
	}

	// Up past the root stays at the root.
	out, err = ev.Evaluate(target, T.Up())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if m, ok := out.(map[string]any); !ok || m["a"] == nil {
		t.Errorf("Expected the whole target back, got %v", out)
	}
}

func TestEvaluator_Evaluate_DeferredCall(t *testing.T) {
	ev := New()
	double := Func(func(args ...any) (any, error) {
		return args[0].(int) * 2, nil
	})
	target := map[string]any{
		"fn": double,
		"n":  21,
	}

	// Call arguments are evaluated against the original target, not
	// against the value the chain has descended to.
	out, err := ev.Evaluate(target, T.Field("fn").Call(T.Field("n")))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != 42 {
		t.Errorf("Expected 42, got %v", out)
	}
}

func TestEvaluator_Evaluate_DeferredKeyFromTarget(t *testing.T) {
	ev := New()
	target := map[string]any{
		"key":    "payload",
		"payload": "the goods",
	}

	out, err := ev.Evaluate(target, T.Index(T.Field("key")))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "the goods" {
		t.Errorf("Expected %q, got %v", "the goods", out)
	}
}

func TestEvaluator_Evaluate_DeferredInsideMapping(t *testing.T) {
	ev := New()
	target := map[string]any{"a": 1, "b": 2}

	out, err := ev.Evaluate(target, map[string]any{
		"first":  T.Index("a"),
		"second": T.Index("b"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	m := out.(map[string]any)
	if m["first"] != 1 || m["second"] != 2 {
		t.Errorf("Expected {first:1 second:2}, got %v", m)
	}
}
