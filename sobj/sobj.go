// Package sobj interns extension-contributed typed objects - comparators,
// match-types, address-parts, side-effects - under stable per-class codes,
// the way the C implementation's sieve_object/sieve_object_registry pair
// does (see original_source/src/lib-sieve/sieve-objects.h). Codes are
// assigned in registration order and are only stable for the lifetime of
// one process; they are never persisted directly (the binary's extension
// index persists names instead, see package sbinary).
package sobj

import "fmt"

// Class groups objects that compete for the same tag slot on a test, e.g.
// all match-types share a class so "the match-type tag already seen on
// this test" can be checked once per class.
type Class string

const (
	ClassComparator  Class = "comparator"
	ClassMatchType   Class = "match-type"
	ClassAddressPart Class = "address-part"
	ClassSideEffect  Class = "side-effect"
)

// Object is an interned, typed value contributed by core or an extension.
type Object struct {
	Identifier string
	Class      Class
	Code       uint32

	// Extension is the owning extension's name, or "" for core objects.
	Extension string
}

// Registry interns Objects per Class. It is created once per process (the
// spec's "process-wide append-only table") and is safe to read concurrently
// once Freeze has been called; Register is expected to run only during
// extension init.
type Registry struct {
	classes map[Class]map[string]*Object
	next    map[Class]uint32
	frozen  bool
}

func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[Class]map[string]*Object),
		next:    make(map[Class]uint32),
	}
}

// Register interns identifier under class, assigning it the next free code
// in that class. Registering the same identifier twice is a programming
// error and panics - this mirrors the C implementation's assertion that
// object tables are built once at startup.
func (r *Registry) Register(class Class, extension, identifier string) *Object {
	if r.frozen {
		panic("sobj: registry frozen, cannot register " + identifier)
	}
	if r.classes[class] == nil {
		r.classes[class] = make(map[string]*Object)
	}
	if _, exists := r.classes[class][identifier]; exists {
		panic(fmt.Sprintf("sobj: %s %q already registered", class, identifier))
	}
	code := r.next[class]
	r.next[class] = code + 1
	obj := &Object{Identifier: identifier, Class: class, Code: code, Extension: extension}
	r.classes[class][identifier] = obj
	return obj
}

// Lookup finds an interned object by class and identifier.
func (r *Registry) Lookup(class Class, identifier string) (*Object, bool) {
	m := r.classes[class]
	if m == nil {
		return nil, false
	}
	o, ok := m[identifier]
	return o, ok
}

// ByCode finds an interned object by class and code, used by the
// interpreter when decoding an Object operand from the binary.
func (r *Registry) ByCode(class Class, code uint32) (*Object, bool) {
	for _, o := range r.classes[class] {
		if o.Code == code {
			return o, true
		}
	}
	return nil, false
}

// Names returns every registered identifier in a class, for diagnostics.
func (r *Registry) Names(class Class) []string {
	out := make([]string, 0, len(r.classes[class]))
	for name := range r.classes[class] {
		out = append(out, name)
	}
	return out
}

// Freeze forbids further Register calls. Called once the first interpreter
// is constructed, per spec.md §4.1/§5.
func (r *Registry) Freeze() { r.frozen = true }
