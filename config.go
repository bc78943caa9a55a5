package sieve

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/validator"
)

// Options gathers the host-level knobs spec.md leaves to configuration:
// which extensions a script may require, how many validation errors to
// tolerate before giving up, and the regex/duplicate-store safety limits
// extensions consult. The zero value matches the defaults NewRegistry and
// Compile already use.
type Options struct {
	// EnabledExtensions restricts `require`; empty means every extension
	// this build registers is permitted, same as NewRegistry(nil).
	EnabledExtensions []string `toml:"enabled_extensions"`

	// MaxValidationErrors overrides validator.MaxErrors; zero keeps the
	// package default.
	MaxValidationErrors int `toml:"max_validation_errors"`

	// DuplicateExpireSeconds is the expiry the sieve-run CLI gives its
	// in-memory DuplicateStore for every marked key. DuplicateStore.Mark
	// takes no expiry, so a script's :seconds/:days never reaches the store.
	DuplicateExpireSeconds int64 `toml:"duplicate_expire_seconds"`

	// RegexMaxPatternLength/RegexMaxInputLength bound the :regex
	// match-type; zero keeps match.DefaultRegexLimits.
	RegexMaxPatternLength int `toml:"regex_max_pattern_length"`
	RegexMaxInputLength   int `toml:"regex_max_input_length"`
}

// DefaultOptions returns the same defaults the package uses when no
// Options is supplied at all.
func DefaultOptions() Options {
	return Options{
		MaxValidationErrors:    validator.MaxErrors,
		DuplicateExpireSeconds: 7 * 24 * 3600,
		RegexMaxPatternLength:  match.DefaultRegexLimits.MaxPatternLength,
		RegexMaxInputLength:    match.DefaultRegexLimits.MaxInputLength,
	}
}

// LoadConfig decodes the TOML file at path into o, overwriting only the
// fields present in the file (BurntSushi/toml leaves the rest untouched,
// so callers typically start from DefaultOptions()).
func (o *Options) LoadConfig(path string) error {
	if _, err := toml.DecodeFile(path, o); err != nil {
		return fmt.Errorf("sieve: load config: %w", err)
	}
	return nil
}

// Apply pushes o's process-wide knobs (regex limits) into the packages
// that read them as package-level defaults, and returns a Registry built
// from o.EnabledExtensions ready for Compile. Call once at startup before
// any script is compiled, matching the extension registry's own
// init-then-freeze lifecycle (spec.md §5).
func (o *Options) Apply() *Registry {
	limits := match.DefaultRegexLimits
	if o.RegexMaxPatternLength > 0 {
		limits.MaxPatternLength = o.RegexMaxPatternLength
	}
	if o.RegexMaxInputLength > 0 {
		limits.MaxInputLength = o.RegexMaxInputLength
	}
	match.DefaultRegexLimits = limits
	return NewRegistry(o.EnabledExtensions)
}

// CompileWithOptions is Compile with o's MaxValidationErrors applied to
// the validator instead of validator.MaxErrors.
func CompileWithOptions(filename, src string, reg *Registry, eh ErrorHandler, o Options) (*Script, []string, error) {
	if o.MaxValidationErrors <= 0 {
		return Compile(filename, src, reg, eh)
	}
	return compile(filename, src, reg, eh, o.MaxValidationErrors)
}
