package engine

import (
	"errors"
	"testing"
)

func TestScope_LookupWalksOutward(t *testing.T) {
	ev := New()
	root := newRootScope(ev)
	outer := root.newChild(nil, nil)
	inner := outer.newChild(nil, nil)

	outer.Bind("x", 1)
	inner.Bind("y", 2)

	if v, err := inner.Lookup("x"); err != nil || v != 1 {
		t.Errorf("Expected to find x=1 from the inner frame, got %v, %v", v, err)
	}
	if v, err := inner.Lookup("y"); err != nil || v != 2 {
		t.Errorf("Expected to find y=2, got %v, %v", v, err)
	}
	if _, err := outer.Lookup("y"); !errors.Is(err, ErrNotBound) {
		t.Errorf("Expected inner bindings to be invisible outward, got: %v", err)
	}
}

func TestScope_BindShadowsOuter(t *testing.T) {
	ev := New()
	root := newRootScope(ev)
	outer := root.newChild(nil, nil)
	inner := outer.newChild(nil, nil)

	outer.Bind("x", "outer")
	inner.Bind("x", "inner")

	if v, _ := inner.Lookup("x"); v != "inner" {
		t.Errorf("Expected the inner binding to shadow, got %v", v)
	}
	if v, _ := outer.Lookup("x"); v != "outer" {
		t.Errorf("Expected the outer binding untouched, got %v", v)
	}
}

func TestScope_BindRoot(t *testing.T) {
	ev := New()
	root := newRootScope(ev)
	left := root.newChild(nil, nil)
	right := root.newChild(nil, nil)

	left.BindRoot("shared", 7)

	if v, err := right.Lookup("shared"); err != nil || v != 7 {
		t.Errorf("Expected a root binding visible from a sibling, got %v, %v", v, err)
	}
}

func TestScope_ForkExtendsPathWithoutAliasing(t *testing.T) {
	ev := New()
	root := newRootScope(ev)
	frame := root.newChild(nil, nil)
	frame.appendPath("items")

	a := frame.fork(0)
	b := frame.fork(1)

	if len(a.Path()) != 2 || a.Path()[1] != 0 {
		t.Errorf("Expected fork path [items 0], got %v", a.Path())
	}
	if len(b.Path()) != 2 || b.Path()[1] != 1 {
		t.Errorf("Expected fork path [items 1], got %v", b.Path())
	}
	if len(frame.Path()) != 1 {
		t.Errorf("Expected the parent path unchanged, got %v", frame.Path())
	}
}

func TestScope_FramesSkipRootAnchor(t *testing.T) {
	ev := New()
	root := newRootScope(ev)
	a := root.newChild(nil, "spec-a")
	b := a.newChild(nil, "spec-b")

	frames := b.frames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].SpecValue() != "spec-a" || frames[1].SpecValue() != "spec-b" {
		t.Errorf("Expected outermost-first order, got %v then %v",
			frames[0].SpecValue(), frames[1].SpecValue())
	}
}
