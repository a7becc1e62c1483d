package engine_test

import (
	"fmt"

	"github.com/remold/remold/pkg/engine"
)

func Example() {
	target := map[string]any{
		"galaxy": map[string]any{
			"system": map[string]any{"planet": "jupiter"},
		},
	}

	ev := engine.New()
	out, _ := ev.Evaluate(target, "galaxy.system.planet")
	fmt.Println(out)
	// Output: jupiter
}

func ExampleEvaluator_Evaluate_restructure() {
	target := map[string]any{
		"user": map[string]any{
			"name": "alice",
			"posts": []any{
				map[string]any{"title": "first"},
				map[string]any{"title": "second"},
			},
		},
	}

	ev := engine.New()
	out, _ := ev.Evaluate(target, map[string]any{
		"name":   "user.name",
		"titles": engine.Pipeline{"user.posts", engine.Each("title")},
	})
	fmt.Println(out)
	// Output: map[name:alice titles:[first second]]
}

func ExampleCoalesce() {
	target := map[string]any{"nickname": nil, "name": "bob"}

	ev := engine.New()
	out, _ := ev.Evaluate(target,
		engine.NewCoalesce("nickname", "name").WithSkipValues(nil))
	fmt.Println(out)
	// Output: bob
}

func ExampleTExpr() {
	target := map[string]any{
		"items": []any{"keep", "drop"},
	}

	ev := engine.New()
	out, _ := ev.Evaluate(target, engine.T.Field("items").Index(0))
	fmt.Println(out)
	// Output: keep
}
