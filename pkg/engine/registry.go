package engine

import (
	"fmt"
	"iter"
	"reflect"
	"sort"
	"strconv"
)

// Getter is the read capability interface. A foreign type can opt into
// field/key access under the default registrations by implementing it.
type Getter interface {
	Get(key any) (any, error)
}

// Iterable is the iterate capability interface. Implementing it makes
// a foreign type usable as the target of a sequence-template spec.
type Iterable interface {
	Iterate() iter.Seq[any]
}

// Setter is the write capability interface, consumed by mutation
// collaborators through the registry surface.
type Setter interface {
	Set(key, value any) error
}

// Handler bundles the per-type capability functions the evaluator
// dispatches through. A nil function means the capability is absent;
// the evaluator reports absence as an UnregisteredOpError with full
// path context. The zero Handler is the "no handler" sentinel.
type Handler struct {
	// Read resolves a single field, key or index against the target.
	Read func(target, key any) (any, error)

	// Iterate yields the target's elements in order.
	Iterate func(target any) (iter.Seq[any], error)

	// Write sets a field, key or index on the target.
	Write func(target, key, value any) error
}

// typeNode is one entry in the specificity forest. The forest's
// invariant is that a node's type is implemented by the types of all
// its children, so a depth-first walk finds the most specific match.
type typeNode struct {
	typ      reflect.Type
	children []*typeNode
}

// Registry maps runtime types to capability handlers. Resolution
// checks an exact-type table first, then the specificity forest of
// registered interface types, then kind-level defaults.
//
// Registration must complete before concurrent evaluation begins;
// Resolve never mutates registry state and is safe for concurrent use
// once the registry is populated.
type Registry struct {
	exact  map[reflect.Type]Handler
	kinds  map[reflect.Kind]Handler
	forest []*typeNode
}

// NewRegistry returns a registry seeded with the default handlers:
// maps read/iterate/write by key, slices and arrays by index, structs
// by field name (pointers dereference and re-resolve), and the Getter,
// Iterable and Setter capability interfaces for foreign types.
func NewRegistry() *Registry {
	r := NewBareRegistry()
	r.registerDefaults()
	return r
}

// NewBareRegistry returns a registry with no registrations at all.
// Every operation resolves to the no-handler sentinel until types are
// registered explicitly.
func NewBareRegistry() *Registry {
	return &Registry{
		exact: make(map[reflect.Type]Handler),
		kinds: make(map[reflect.Kind]Handler),
	}
}

// Register installs handlers for typ. If exact is false and typ is an
// interface type, typ also joins the specificity forest so that
// unregistered types implementing it resolve to this handler.
//
// Registering an interface that is both ancestor and descendant of an
// already-registered interface (two distinct names for the same method
// set) is an inheritance cycle and is rejected with a
// RegistrationError, leaving the registry unchanged.
func (r *Registry) Register(typ reflect.Type, h Handler, exact bool) error {
	if typ == nil {
		return &RegistrationError{Message: "expected a type, not nil"}
	}
	if !exact && typ.Kind() == reflect.Interface {
		if cyc := r.findCycle(typ); cyc != nil {
			return &RegistrationError{
				Type:    typ,
				Message: fmt.Sprintf("inheritance cycle with registered type %s", cyc),
			}
		}
		r.forest = insertForest(r.forest, typ)
	}
	r.exact[typ] = h
	return nil
}

// RegisterKind installs a fallback handler for every type of the given
// reflect.Kind. Kind handlers are consulted only after the exact table
// and the specificity forest miss.
func (r *Registry) RegisterKind(kind reflect.Kind, h Handler) {
	r.kinds[kind] = h
}

// findCycle returns a registered interface type that typ both
// implements and is implemented by, or nil if none exists.
func (r *Registry) findCycle(typ reflect.Type) reflect.Type {
	for reg := range r.exact {
		if reg.Kind() != reflect.Interface || reg == typ {
			continue
		}
		if typ.Implements(reg) && reg.Implements(typ) {
			return reg
		}
	}
	return nil
}

// insertForest adds typ to the forest, re-parenting existing nodes
// that implement typ so the parent-of-subtypes invariant holds.
func insertForest(level []*typeNode, typ reflect.Type) []*typeNode {
	node := &typeNode{typ: typ}
	inserted := false
	kept := level[:0:0]
	for _, cur := range level {
		switch {
		case cur.typ == typ:
			// Re-registration: the node is already placed.
			kept = append(kept, cur)
			inserted = true
		case cur.typ.Implements(typ):
			// cur is more specific than typ: move it under the new node.
			node.children = append(node.children, cur)
			inserted = true
		case typ.Implements(cur.typ):
			// typ is more specific than cur: descend.
			cur.children = insertForest(cur.children, typ)
			kept = append(kept, cur)
			inserted = true
		default:
			kept = append(kept, cur)
		}
	}
	if !inserted {
		kept = append(kept, node)
	} else if len(node.children) > 0 {
		kept = append(kept, node)
	}
	return kept
}

// Resolve returns the handler for value's runtime type: the exact
// registration if one exists, otherwise the most specific registered
// interface the type implements, otherwise the kind-level default.
// Absence is not an error here; Resolve returns the zero Handler and
// leaves reporting to the evaluator, which has path context.
func (r *Registry) Resolve(value any) Handler {
	return r.resolve(value, "")
}

// resolve is the op-aware lookup the evaluator uses. When op is
// non-empty, forest and kind matches lacking that capability are
// skipped, so a type implementing both Getter and Iterable reads
// through one registration and iterates through the other. Exact
// registrations are authoritative either way: a missing capability
// there is reported, not papered over by a weaker match.
func (r *Registry) resolve(value any, op string) Handler {
	t := reflect.TypeOf(value)
	if t == nil {
		return Handler{}
	}
	if h, ok := r.exact[t]; ok {
		return h
	}
	if match := closestType(r.forest, t, func(reg reflect.Type) bool {
		return hasOp(r.exact[reg], op)
	}); match != nil {
		return r.exact[match]
	}
	if h, ok := r.kinds[t.Kind()]; ok && hasOp(h, op) {
		return h
	}
	return Handler{}
}

func hasOp(h Handler, op string) bool {
	switch op {
	case "read":
		return h.Read != nil
	case "iterate":
		return h.Iterate != nil
	case "write":
		return h.Write != nil
	default:
		return h.Read != nil || h.Iterate != nil || h.Write != nil
	}
}

// closestType walks the forest depth-first, preferring a deeper match
// that passes ok. Siblings are scanned most-recently-registered first,
// so when two unrelated interfaces both match, the later registration
// wins.
func closestType(level []*typeNode, t reflect.Type, ok func(reflect.Type) bool) reflect.Type {
	for i := len(level) - 1; i >= 0; i-- {
		node := level[i]
		if !t.Implements(node.typ) {
			continue
		}
		if sub := closestType(node.children, t, ok); sub != nil {
			return sub
		}
		if ok(node.typ) {
			return node.typ
		}
	}
	return nil
}

// Registration describes a single registry entry, for introspection
// and diagnostic listings.
type Registration struct {
	// Type is the registered type name, or the kind name for
	// kind-level defaults.
	Type string

	// Level is "exact", "interface" (member of the specificity
	// forest) or "kind".
	Level string

	// Ops lists the capabilities the handler provides, in
	// read/iterate/write order.
	Ops []string
}

// Registrations lists every registry entry sorted by level then name,
// for stable output.
func (r *Registry) Registrations() []Registration {
	var out []Registration
	for t, h := range r.exact {
		level := "exact"
		if forestContains(r.forest, t) {
			level = "interface"
		}
		out = append(out, Registration{Type: typeName(t), Level: level, Ops: handlerOps(h)})
	}
	for k, h := range r.kinds {
		out = append(out, Registration{Type: k.String(), Level: "kind", Ops: handlerOps(h)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func handlerOps(h Handler) []string {
	var ops []string
	if h.Read != nil {
		ops = append(ops, "read")
	}
	if h.Iterate != nil {
		ops = append(ops, "iterate")
	}
	if h.Write != nil {
		ops = append(ops, "write")
	}
	return ops
}

func forestContains(level []*typeNode, typ reflect.Type) bool {
	for _, node := range level {
		if node.typ == typ || forestContains(node.children, typ) {
			return true
		}
	}
	return false
}

// registeredFor lists the registered types supporting op, for
// UnregisteredOpError messages. Sorted by name for stable output.
func (r *Registry) registeredFor(op string) []reflect.Type {
	var out []reflect.Type
	for t, h := range r.exact {
		switch op {
		case "read":
			if h.Read != nil {
				out = append(out, t)
			}
		case "iterate":
			if h.Iterate != nil {
				out = append(out, t)
			}
		case "write":
			if h.Write != nil {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// registerDefaults seeds the kind-level handlers and the capability
// interfaces. These are ordinary registrations, not special cases in
// the resolution algorithm.
func (r *Registry) registerDefaults() {
	r.RegisterKind(reflect.Map, Handler{
		Read:    readMapKey,
		Iterate: iterateMap,
		Write:   writeMapKey,
	})
	seqHandler := Handler{
		Read:    readSequenceIndex,
		Iterate: iterateSequence,
		Write:   writeSequenceIndex,
	}
	r.RegisterKind(reflect.Slice, seqHandler)
	r.RegisterKind(reflect.Array, seqHandler)
	r.RegisterKind(reflect.Struct, Handler{
		Read: readStructField,
	})
	deref := Handler{
		Read: func(target, key any) (any, error) {
			elem, err := dereference(target)
			if err != nil {
				return nil, err
			}
			h := r.resolve(elem, "read")
			if h.Read == nil {
				return nil, fmt.Errorf("no read handler for %T", elem)
			}
			return h.Read(elem, key)
		},
		Iterate: func(target any) (iter.Seq[any], error) {
			elem, err := dereference(target)
			if err != nil {
				return nil, err
			}
			h := r.resolve(elem, "iterate")
			if h.Iterate == nil {
				return nil, fmt.Errorf("no iterate handler for %T", elem)
			}
			return h.Iterate(elem)
		},
		Write: func(target, key, value any) error {
			elem, err := dereference(target)
			if err != nil {
				return err
			}
			h := r.resolve(elem, "write")
			if h.Write == nil {
				return fmt.Errorf("no write handler for %T", elem)
			}
			return h.Write(elem, key, value)
		},
	}
	r.RegisterKind(reflect.Pointer, deref)

	getterType := reflect.TypeOf((*Getter)(nil)).Elem()
	r.Register(getterType, Handler{ //nolint:errcheck // fresh registry, no cycles possible
		Read: func(target, key any) (any, error) {
			return target.(Getter).Get(key)
		},
	}, false)
	iterableType := reflect.TypeOf((*Iterable)(nil)).Elem()
	r.Register(iterableType, Handler{ //nolint:errcheck
		Iterate: func(target any) (iter.Seq[any], error) {
			return target.(Iterable).Iterate(), nil
		},
	}, false)
	setterType := reflect.TypeOf((*Setter)(nil)).Elem()
	r.Register(setterType, Handler{ //nolint:errcheck
		Write: func(target, key, value any) error {
			return target.(Setter).Set(key, value)
		},
	}, false)
}

// dereference unwraps one level of pointer, rejecting nil.
func dereference(target any) (any, error) {
	rv := reflect.ValueOf(target)
	if rv.IsNil() {
		return nil, fmt.Errorf("nil %s", rv.Type())
	}
	return rv.Elem().Interface(), nil
}

// readMapKey reads a map entry, converting the key to the map's key
// type when needed (path segments arrive as strings or ints).
func readMapKey(target, key any) (any, error) {
	rv := reflect.ValueOf(target)
	kv := reflect.ValueOf(key)
	keyType := rv.Type().Key()
	if !kv.IsValid() {
		return nil, fmt.Errorf("invalid map key: %v", key)
	}
	if kv.Type() != keyType {
		if !kv.Type().ConvertibleTo(keyType) {
			return nil, fmt.Errorf("key %v (%T) not usable with %s", key, key, rv.Type())
		}
		kv = kv.Convert(keyType)
	}
	v := rv.MapIndex(kv)
	if !v.IsValid() {
		return nil, fmt.Errorf("key not found: %v", key)
	}
	return v.Interface(), nil
}

// iterateMap yields map values in sorted key order so iteration is
// deterministic across runs.
func iterateMap(target any) (iter.Seq[any], error) {
	rv := reflect.ValueOf(target)
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprintf("%v", keys[i].Interface()) < fmt.Sprintf("%v", keys[j].Interface())
	})
	return func(yield func(any) bool) {
		for _, k := range keys {
			if !yield(rv.MapIndex(k).Interface()) {
				return
			}
		}
	}, nil
}

func writeMapKey(target, key, value any) error {
	rv := reflect.ValueOf(target)
	kv := reflect.ValueOf(key)
	keyType := rv.Type().Key()
	if kv.Type() != keyType {
		if !kv.Type().ConvertibleTo(keyType) {
			return fmt.Errorf("key %v (%T) not usable with %s", key, key, rv.Type())
		}
		kv = kv.Convert(keyType)
	}
	vv := reflect.ValueOf(value)
	elemType := rv.Type().Elem()
	if value == nil {
		vv = reflect.Zero(elemType)
	} else if vv.Type() != elemType {
		if !vv.Type().AssignableTo(elemType) {
			return fmt.Errorf("value %T not assignable to %s", value, elemType)
		}
	}
	rv.SetMapIndex(kv, vv)
	return nil
}

// toIndex accepts ints and numeric strings as sequence indices, the
// latter so dotted path specs like "items.0.name" work.
func toIndex(key any) (int, error) {
	switch k := key.(type) {
	case int:
		return k, nil
	case int64:
		return int(k), nil
	case string:
		i, err := strconv.Atoi(k)
		if err != nil {
			return 0, fmt.Errorf("invalid sequence index %q", k)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("invalid sequence index %v (%T)", key, key)
	}
}

func readSequenceIndex(target, key any) (any, error) {
	i, err := toIndex(key)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(target)
	if i < 0 || i >= rv.Len() {
		return nil, fmt.Errorf("index %d out of range (len %d)", i, rv.Len())
	}
	return rv.Index(i).Interface(), nil
}

func iterateSequence(target any) (iter.Seq[any], error) {
	rv := reflect.ValueOf(target)
	return func(yield func(any) bool) {
		for i := 0; i < rv.Len(); i++ {
			if !yield(rv.Index(i).Interface()) {
				return
			}
		}
	}, nil
}

func writeSequenceIndex(target, key, value any) error {
	i, err := toIndex(key)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(target)
	if i < 0 || i >= rv.Len() {
		return fmt.Errorf("index %d out of range (len %d)", i, rv.Len())
	}
	elem := rv.Index(i)
	if !elem.CanSet() {
		return fmt.Errorf("cannot write into %s", rv.Type())
	}
	if value == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	vv := reflect.ValueOf(value)
	if !vv.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("value %T not assignable to %s", value, elem.Type())
	}
	elem.Set(vv)
	return nil
}

// readStructField reads an exported field by name.
func readStructField(target, key any) (any, error) {
	name, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("struct field name must be a string, not %T", key)
	}
	rv := reflect.ValueOf(target)
	f := rv.FieldByName(name)
	if !f.IsValid() {
		return nil, fmt.Errorf("no field %q on %s", name, rv.Type())
	}
	if !f.CanInterface() {
		return nil, fmt.Errorf("field %q on %s is unexported", name, rv.Type())
	}
	return f.Interface(), nil
}
