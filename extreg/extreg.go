// Package extreg is the process-wide table of extensions a Script can
// require: core Sieve behavior is just extension "" (always loaded), and
// everything else (vacation, imap4flags, duplicate, ...) registers itself
// here under its RFC-assigned capability name before any script is loaded,
// mirroring the C implementation's sieve_extension_register at plugin
// init time.
package extreg

import (
	"fmt"

	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/sobj"
	"github.com/foxcpp/go-sieve/validator"
)

// Extension is one capability a script can `require`. ValidatorLoad links
// its commands/tests/tags into a Validator; runtime opcode handlers are
// registered separately through interp.RegisterOp.
type Extension struct {
	Name string

	ValidatorLoad func(v *validator.Validator) error
}

// Registry is the set of extensions known to a Script's compiler. It is
// built once (at process or Options setup time) and frozen before any
// script is loaded, same lifecycle as sobj.Registry.
type Registry struct {
	Objects *sobj.Registry
	Match   *match.Registry

	extensions map[string]*Extension
	enabled    map[string]bool
}

func NewRegistry() *Registry {
	objects := sobj.NewRegistry()
	return &Registry{
		Objects:    objects,
		Match:      match.NewRegistry(objects),
		extensions: make(map[string]*Extension),
		enabled:    make(map[string]bool),
	}
}

// Register interns ext under its name. Registering the same name twice is
// a programming error and panics, matching sobj.Registry's own rule.
func (r *Registry) Register(ext *Extension) {
	if _, exists := r.extensions[ext.Name]; exists {
		panic(fmt.Sprintf("extreg: extension %q already registered", ext.Name))
	}
	r.extensions[ext.Name] = ext
}

// EnableOnly restricts which registered extensions a script is permitted to
// require, matching spec.md's EnabledExtensions allow-list; an empty list
// permits every registered extension (useful for tests/CLI use).
func (r *Registry) EnableOnly(names []string) {
	r.enabled = make(map[string]bool, len(names))
	for _, n := range names {
		r.enabled[n] = true
	}
}

// Known reports whether name is registered at all, independent of
// EnableOnly's allow-list - used to validate a loaded binary's extension
// index against the current runtime (spec.md §4.1's UnknownExtension
// check), which cares whether the extension exists, not whether a script
// would currently be permitted to require it.
func (r *Registry) Known(name string) bool {
	if name == "" {
		return true // reserved core-object index, always resolvable
	}
	_, ok := r.extensions[name]
	return ok
}

func (r *Registry) Enabled(name string) bool {
	if len(r.enabled) == 0 {
		return true
	}
	return r.enabled[name]
}

// LookupValidatorHook satisfies validator.ExtensionSource.
func (r *Registry) LookupValidatorHook(name string) (func(v *validator.Validator) error, bool) {
	ext, ok := r.extensions[name]
	if !ok || !r.Enabled(name) || ext.ValidatorLoad == nil {
		return nil, false
	}
	return ext.ValidatorLoad, true
}

// Names lists every registered extension, for diagnostics and the CLI's
// `-capabilities` style output.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.extensions))
	for n := range r.extensions {
		out = append(out, n)
	}
	return out
}
