// Package sieve ties the compiler stages (lexer -> parser -> validator ->
// generator) and the interpreter into the small surface a host program
// actually needs: compile a script once, run it against any number of
// messages.
package sieve

import (
	"context"
	"fmt"
	"strings"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/core"
	"github.com/foxcpp/go-sieve/ext"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/generator"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/parser"
	"github.com/foxcpp/go-sieve/result"
	"github.com/foxcpp/go-sieve/sbinary"
	"github.com/foxcpp/go-sieve/validator"
)

type (
	Policy   = interp.Policy
	Envelope = interp.Envelope
	Message  = interp.MessageData
	Result   = result.Result
	Status   = interp.Status
)

// Registry is the set of commands, tests and extensions a Script is
// checked and generated against. Building one registers every core
// command and every known extension's validator hooks, mirroring the
// object/match registries' process-wide, build-once-reuse-many lifecycle;
// callers compile as many scripts against one Registry as they like.
type Registry struct {
	ext *extreg.Registry
}

// NewRegistry builds a Registry with every core command and every
// optional extension known. enabledExtensions restricts which extension
// names a script's `require` statement may pull in; a nil or empty slice
// permits every registered extension.
func NewRegistry(enabledExtensions []string) *Registry {
	r := extreg.NewRegistry()
	ext.Register(r)
	if len(enabledExtensions) > 0 {
		r.EnableOnly(enabledExtensions)
	}
	return &Registry{ext: r}
}

// Extensions lists every extension name a script could require against
// this registry.
func (r *Registry) Extensions() []string { return r.ext.Names() }

// Script is a compiled, ready-to-run Sieve program.
type Script struct {
	bin *sbinary.Binary
}

// ErrorHandler receives compile-time diagnostics; satisfies
// validator.ErrorHandler so callers never need to import that package
// directly just to supply one.
type ErrorHandler = validator.ErrorHandler

// CollectingErrorHandler is the ErrorHandler Compile falls back to when
// none is given: it remembers every warning/error and the first critical
// failure rather than printing as it goes, so a failed Compile can report
// everything it found.
type CollectingErrorHandler struct {
	Warnings    []string
	Errors      []string
	CriticalMsg string
}

func (c *CollectingErrorHandler) Warning(pos ast.Position, msg string) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("%s: warning: %s", pos, msg))
}

func (c *CollectingErrorHandler) Error(pos ast.Position, msg string) {
	c.Errors = append(c.Errors, fmt.Sprintf("%s: error: %s", pos, msg))
}

func (c *CollectingErrorHandler) Critical(msg string) {
	c.CriticalMsg = msg
}

// Compile parses and validates src under filename (used only for
// diagnostic positions), generates it into a Script, and returns every
// warning collected along the way. A non-nil error means the script is
// not usable. eh may be nil, in which case a CollectingErrorHandler is
// used internally and its errors folded into the returned error.
func Compile(filename, src string, reg *Registry, eh ErrorHandler) (*Script, []string, error) {
	return compile(filename, src, reg, eh, 0)
}

// compile is Compile's shared implementation; maxErrors <= 0 keeps
// validator.MaxErrors.
func compile(filename, src string, reg *Registry, eh ErrorHandler, maxErrors int) (*Script, []string, error) {
	script, err := parser.Parse(filename, src)
	if err != nil {
		return nil, nil, fmt.Errorf("sieve: parse: %w", err)
	}

	collected := &CollectingErrorHandler{}
	if eh == nil {
		eh = collected
	}

	v := validator.New(script, eh, reg.ext)
	if maxErrors > 0 {
		v.MaxErrors = maxErrors
	}
	core.Register(v, reg.ext.Match)
	if !v.Run() {
		if len(collected.Errors) > 0 {
			return nil, collected.Warnings, fmt.Errorf("sieve: validation failed:\n%s", strings.Join(collected.Errors, "\n"))
		}
		if collected.CriticalMsg != "" {
			return nil, collected.Warnings, fmt.Errorf("sieve: validation failed: %s", collected.CriticalMsg)
		}
		return nil, collected.Warnings, fmt.Errorf("sieve: validation failed")
	}

	bin, err := generator.Generate(v, script)
	if err != nil {
		return nil, collected.Warnings, fmt.Errorf("sieve: codegen: %w", err)
	}
	return &Script{bin: bin}, collected.Warnings, nil
}

// Marshal serializes s into the cached-binary format spec.md §6 defines,
// suitable for writing to disk and reloading later with Open.
func (s *Script) Marshal() []byte { return s.bin.Marshal() }

// Open loads a binary previously produced by Script.Marshal (or written
// directly by a host's on-disk script cache), verifying that every
// extension its code references is still known to reg before handing back
// a runnable Script. A binary compiled against extensions reg no longer
// registers fails here rather than surfacing mid-run.
func Open(data []byte, reg *Registry) (*Script, error) {
	bin, err := sbinary.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("sieve: open: %w", err)
	}
	for _, name := range bin.ExtNames {
		if !reg.ext.Known(name) {
			return nil, fmt.Errorf("sieve: open: %w", &interp.UnknownExtensionError{Name: name})
		}
	}
	return &Script{bin: bin}, nil
}

// NewRuntimeData builds the per-run state Execute needs. Exposed directly
// for callers that want to inspect or extend interp.RuntimeData (e.g.
// pre-seeding Variables) before running.
func NewRuntimeData(s *Script, reg *Registry, policy Policy, env Envelope, msg Message) *interp.RuntimeData {
	return interp.NewRuntimeData(s.bin, reg.ext, policy, env, msg)
}

// Execute runs s to completion against data, then - unless the script
// already cancelled it - queues the implicit keep and commits every
// queued action against data.Policy. It returns the Result either way,
// so a caller can inspect what ran even when Execute itself reports an
// error.
func Execute(ctx context.Context, data *interp.RuntimeData) (*Result, error) {
	status, err := interp.Execute(ctx, data)
	if err != nil {
		return data.Result, err
	}
	if status == interp.StatusBinaryCorrupt {
		return data.Result, fmt.Errorf("sieve: binary corrupt")
	}
	if data.Result.ImplicitKeep() {
		if err := data.Result.Add(&interp.KeepAction{}); err != nil {
			return data.Result, err
		}
	}
	if err := data.Result.Commit(data.Policy); err != nil {
		return data.Result, err
	}
	return data.Result, nil
}

// Run is the common-case one-shot entry point: build a RuntimeData for
// msg/env/policy, execute s, and commit. It is exactly
// Execute(ctx, NewRuntimeData(s, reg, policy, env, msg)).
func Run(ctx context.Context, s *Script, reg *Registry, policy Policy, env Envelope, msg Message) (*Result, error) {
	return Execute(ctx, NewRuntimeData(s, reg, policy, env, msg))
}
