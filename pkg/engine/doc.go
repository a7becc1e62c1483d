// Package engine implements the remold spec-evaluation engine: a small
// interpreter that restructures arbitrary nested values according to a
// declarative spec.
//
// # Overview
//
// Two conventional terms repeat throughout the package:
//
//   - Target: the runtime value being queried or transformed. Targets
//     are never owned by the engine; the core only reads them.
//   - Spec: the declarative description of what to extract or build
//     from a target. Specs are ordinary Go values built once by the
//     caller and treated as read-only during evaluation.
//
// The central entry point is Evaluator.Evaluate. Everything else in
// the package revolves around it:
//
//	ev := engine.New()
//	out, err := ev.Evaluate(target, map[string]any{
//	    "name":   "user.name",
//	    "emails": engine.Pipeline{"user.emails", engine.Each("address")},
//	    "plan":   engine.NewCoalesce("plan.name", "legacy_plan").WithDefault("free"),
//	})
//
// # Spec kinds
//
// The evaluator recognizes, in dispatch order: *Inspect (instrumented
// wrapper), WithMode (mode installation), map[string]any (mapping
// spec), Pipeline (ordered steps feeding results forward), []any of
// one element (sequence template), *TExpr (deferred expression),
// *Invoke (explicit call), Transform (plain callable), string and Path
// (key traversal), *Coalesce (ordered fallback), Literal, Spec
// (explicit sub-spec marker), Let and Var (scope bindings). Anything
// else fails with a SpecTypeError.
//
// # Type registry
//
// How a target is read, iterated and written is resolved through the
// Registry: exact types first, then the most specific registered
// interface (the specificity forest), then kind-level defaults. The
// seeded defaults cover maps, slices, arrays, structs and pointers,
// plus the Getter, Iterable and Setter capability interfaces for
// foreign types. Registration must finish before concurrent
// evaluation begins; resolution afterwards is read-only and safe for
// concurrent use.
//
// # Deferred expressions
//
// T is the eventual target's stand-in. Chains built from it record
// field, index and call operations and replay them at evaluation time:
//
//	engine.T.Field("orders").Index(0).Field("total")
//
// Builders are immutable, so partial chains can be shared.
//
// # Modes
//
// Alternate grammars plug into the recursion by installing a Mode on
// the current frame (or wrapping a subtree in WithMode). A non-nil
// mode receives every (target, spec, scope) triple below that point
// and recurses through Evaluator.Continue. Mode failures must carry
// the engine's base error family so Coalesce composition stays
// uniform.
//
// # Errors
//
// Every failure the engine itself raises satisfies EngineError:
// AccessError, UnregisteredOpError, ExhaustedError, SpecTypeError.
// Errors from user transforms are never wrapped. Engine errors
// capture the live scope chain; render it with LineTrace, ShortTrace
// or TallTrace.
//
// # Concurrency
//
// Evaluation is synchronous and purely call/return. An Evaluator is
// safe for concurrent Evaluate calls over distinct targets once its
// registry is populated; there is no cancellation beyond error
// propagation, and no transactional protection for targets mutated by
// collaborator modes.
package engine
