package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrNotBound is returned by Scope.Lookup when a name is not bound in
// any frame of the chain. It is deliberately not part of the engine's
// evaluation error family: an unbound variable is a spec-authoring
// problem, not a target-access failure, and must not be swallowed by
// Coalesce's default skip predicate.
var ErrNotBound = errors.New("name not bound in scope")

// EngineError is implemented by every error the evaluator itself
// raises: AccessError, UnregisteredOpError, ExhaustedError and
// SpecTypeError. Errors returned by user-supplied transforms are never
// wrapped and therefore never satisfy this interface.
//
// The single shared family is what makes fallback composition uniform:
// Coalesce's default skip predicate is IsEngineError, so alternatives
// compose the same way no matter which construct (or mode handler)
// produced the failure.
type EngineError interface {
	error

	// Trace returns the scope chain captured at the failure point,
	// for rendering with LineTrace, ShortTrace or TallTrace.
	Trace() *Scope

	engineError()
}

// IsEngineError reports whether err (or any error in its chain) was
// raised by the evaluator itself.
func IsEngineError(err error) bool {
	var ee EngineError
	return errors.As(err, &ee)
}

// AccessError reports a failed field/key/index resolution, either
// during path-spec traversal or while replaying a deferred expression.
type AccessError struct {
	// Segments is the full key or operation sequence being resolved.
	Segments []any

	// Index is the zero-based position of the failing segment.
	Index int

	// Err is the low-level cause from the type handler.
	Err error

	scope *Scope
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	seg := any("<none>")
	if e.Index >= 0 && e.Index < len(e.Segments) {
		seg = e.Segments[e.Index]
	}
	return fmt.Sprintf("could not access %v, index %d in path %s: %v",
		seg, e.Index, formatSegments(e.Segments), e.Err)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *AccessError) Unwrap() error { return e.Err }

// Trace returns the scope chain captured when the error was raised,
// suitable for LineTrace, ShortTrace or TallTrace. May be nil.
func (e *AccessError) Trace() *Scope { return e.scope }

func (e *AccessError) engineError() {}

// UnregisteredOpError reports that the type registry has no handler
// for the requested operation on the current target's type.
type UnregisteredOpError struct {
	// Op is the operation that could not be resolved: "read",
	// "iterate" or "write".
	Op string

	// Target is the runtime type of the target being processed.
	Target reflect.Type

	// Registered lists the types that do support the operation.
	Registered []reflect.Type

	// Path is the evaluation path at which the error occurred.
	Path []any

	scope *Scope
}

// Error implements the error interface.
func (e *UnregisteredOpError) Error() string {
	names := make([]string, len(e.Registered))
	for i, t := range e.Registered {
		names[i] = t.String()
	}
	msg := fmt.Sprintf("target type %s not registered for %q, expected one of registered types: (%s)",
		typeName(e.Target), e.Op, strings.Join(names, ", "))
	if len(e.Path) > 0 {
		msg += fmt.Sprintf(" (at %s)", formatSegments(e.Path))
	}
	return msg
}

// Trace returns the scope chain captured when the error was raised.
func (e *UnregisteredOpError) Trace() *Scope { return e.scope }

func (e *UnregisteredOpError) engineError() {}

// SkipCause records one skipped Coalesce alternative: either the value
// that matched the skip predicate, or the error that was classified as
// skippable. Exactly one of the two is meaningful; Err wins when set.
type SkipCause struct {
	Value any
	Err   error
}

func (s SkipCause) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%T", s.Err)
	}
	return fmt.Sprintf("<skipped %T>", s.Value)
}

// ExhaustedError reports that every alternative of a Coalesce spec
// failed or was skipped and no default was configured.
type ExhaustedError struct {
	// Skipped holds the ignored values and errors in the order their
	// alternatives appear in the spec.
	Skipped []SkipCause

	// Path is the evaluation path at which the error occurred.
	Path []any

	scope *Scope
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	causes := make([]string, len(e.Skipped))
	for i, c := range e.Skipped {
		causes[i] = c.String()
	}
	msg := fmt.Sprintf("no valid values found, skipped (%s)", strings.Join(causes, ", "))
	if len(e.Path) > 0 {
		msg += fmt.Sprintf(" (at %s)", formatSegments(e.Path))
	}
	return msg
}

// Trace returns the scope chain captured when the error was raised.
func (e *ExhaustedError) Trace() *Scope { return e.scope }

func (e *ExhaustedError) engineError() {}

// SpecTypeError reports a spec value that does not match any
// recognized spec shape.
type SpecTypeError struct {
	// Spec is the unrecognized spec value.
	Spec any

	// Message optionally refines the complaint, e.g. for a malformed
	// sequence template or a non-callable Invoke target.
	Message string

	// Path is the evaluation path at which the error occurred.
	Path []any

	scope *Scope
}

// Error implements the error interface.
func (e *SpecTypeError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "expected spec to be a map, sequence template, pipeline, string, or other specifier type"
	}
	msg = fmt.Sprintf("%s, not: %#v", msg, e.Spec)
	if len(e.Path) > 0 {
		msg += fmt.Sprintf(" (at %s)", formatSegments(e.Path))
	}
	return msg
}

// Trace returns the scope chain captured when the error was raised.
func (e *SpecTypeError) Trace() *Scope { return e.scope }

func (e *SpecTypeError) engineError() {}

// RegistrationError reports invalid registry configuration, such as an
// inheritance cycle between registered types. It is raised at
// registration time, never during evaluation, and so sits outside the
// EngineError family.
type RegistrationError struct {
	// Type is the type whose registration was rejected.
	Type reflect.Type

	// Message describes the rejection.
	Message string
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("cannot register %s: %s", typeName(e.Type), e.Message)
}

// formatSegments renders a path as "a->b->2" for error messages.
func formatSegments(segs []any) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = fmt.Sprintf("%v", s)
	}
	return strings.Join(parts, "->")
}

// typeName is nil-safe; reflect.TypeOf(nil) has no name.
func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
