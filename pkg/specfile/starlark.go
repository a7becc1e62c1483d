package specfile

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/remold/remold/pkg/engine"
)

// FnCompiler turns $fn expression strings into engine transforms. The
// expression runs in a sandboxed Starlark thread with the current
// target bound to the name `target`; print is suppressed and
// execution is bounded by the configured timeout.
type FnCompiler struct {
	timeout time.Duration
}

// NewFnCompiler creates an expression compiler. A zero timeout
// selects the 5 second default.
func NewFnCompiler(timeout time.Duration) *FnCompiler {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &FnCompiler{timeout: timeout}
}

// Compile checks expr for syntax errors and returns a transform that
// evaluates it against each target it receives.
func (fc *FnCompiler) Compile(expr string) (engine.Transform, error) {
	if _, err := syntax.ParseExpr("fn.star", expr, 0); err != nil {
		return nil, fmt.Errorf("invalid $fn expression: %w", err)
	}
	return func(target any) (any, error) {
		return fc.eval(expr, target)
	}, nil
}

// eval runs the expression with a deadline. Starlark has no
// preemption point we can hook directly, so the evaluation runs in
// its own goroutine and the caller abandons it on timeout.
func (fc *FnCompiler) eval(expr string, target any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fc.timeout)
	defer cancel()

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	go func() {
		out, err := fc.evalSync(expr, target)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- out
		}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("expression timeout after %v", fc.timeout)
	case err := <-errCh:
		return nil, err
	case out := <-resultCh:
		return out, nil
	}
}

func (fc *FnCompiler) evalSync(expr string, target any) (any, error) {
	thread := &starlark.Thread{
		Name: "remold",
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print for sandboxing
		},
	}

	starlarkTarget, err := toStarlarkValue(target)
	if err != nil {
		return nil, fmt.Errorf("failed to convert target: %w", err)
	}

	env := starlark.StringDict{
		"target": starlarkTarget,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	val, err := starlark.Eval(thread, "fn.star", expr, env)
	if err != nil {
		return nil, fmt.Errorf("expression failed: %w", err)
	}
	return fromStarlarkValue(val)
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value back to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			converted, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
