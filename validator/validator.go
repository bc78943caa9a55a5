// Package validator performs the semantic check of a parsed ast.Script:
// resolving commands/tests against a registered command table, dispatching
// tagged-argument validators, enforcing argument arity and typing, and
// linking match-type/comparator/address-part tags onto test arguments. It
// mutates the AST in place; the generator consumes what is left.
package validator

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
)

// ErrorHandler is the sink for validation diagnostics, mirrors spec.md
// §6's ErrorHandler host interface.
type ErrorHandler interface {
	Warning(pos ast.Position, msg string)
	Error(pos ast.Position, msg string)
	Critical(msg string)
}

// ExtensionSource resolves a require'd extension name to the hook that
// loads it into this validator. Kept as an interface (rather than
// importing package extreg directly) so validator has no dependency on
// the extension registry's own types.
type ExtensionSource interface {
	LookupValidatorHook(name string) (func(v *Validator) error, bool)
}

// MaxErrors is the default fatal error limit; Validator.MaxErrors
// overrides it per spec.md §4.2.
const MaxErrors = 100

type Validator struct {
	Script  *ast.Script
	EH      ErrorHandler
	Ext     ExtensionSource
	MaxErrors int

	commands map[string]*CommandRegistration
	required map[string]bool
	errCount int
	fatal    bool
}

func New(script *ast.Script, eh ErrorHandler, ext ExtensionSource) *Validator {
	v := &Validator{
		Script:    script,
		EH:        eh,
		Ext:       ext,
		MaxErrors: MaxErrors,
		commands:  make(map[string]*CommandRegistration),
		required:  make(map[string]bool),
	}
	return v
}

// RegisterCommand interns cmd's descriptor under its name and immediately
// invokes its Registered hook (if any) to link tags - this happens once
// per command name, independent of how many times the command appears in
// the script, matching the C implementation's registration-time tag
// linking.
func (v *Validator) RegisterCommand(cmd *Command) {
	reg := &CommandRegistration{
		Command: cmd,
		Tags:    make(map[string]*TagRegistration),
	}
	v.commands[cmd.Name] = reg
	if cmd.Hooks.Registered != nil {
		if err := cmd.Hooks.Registered(v, reg); err != nil {
			v.Critical(err.Error())
		}
	}
}

// RegisterTag links tag onto cmd_reg under idCode, the generator's
// optional-operand code for this tag. Re-registering the same identifier
// is a programming error (two extensions fighting over one tag name) and
// panics, mirroring sobj.Registry.Register.
func (v *Validator) RegisterTag(reg *CommandRegistration, tag *TagArgument, idCode int) {
	if _, exists := reg.Tags[tag.Identifier]; exists {
		panic(fmt.Sprintf("validator: tag %q already registered on %s", tag.Identifier, reg.Command.Name))
	}
	reg.Tags[tag.Identifier] = &TagRegistration{Argument: tag, IDCode: idCode}
}

func (v *Validator) Warning(pos ast.Position, format string, args ...interface{}) {
	if v.EH != nil {
		v.EH.Warning(pos, fmt.Sprintf(format, args...))
	}
}

func (v *Validator) Error(pos ast.Position, format string, args ...interface{}) {
	if v.EH != nil {
		v.EH.Error(pos, fmt.Sprintf(format, args...))
	}
	v.errCount++
	if v.errCount >= v.MaxErrors {
		v.fatal = true
	}
}

func (v *Validator) Critical(msg string) {
	if v.EH != nil {
		v.EH.Critical(msg)
	}
	v.fatal = true
}

// ExtensionLoad resolves name against Ext and, on success, registers its
// commands/tags into this validator. Called when a `require` command is
// seen.
func (v *Validator) ExtensionLoad(node *ast.Node, name string) error {
	if v.required[name] {
		return nil
	}
	if v.Ext == nil {
		v.Error(node.Pos, "unknown extension %q", name)
		return fmt.Errorf("unknown extension %q", name)
	}
	hook, ok := v.Ext.LookupValidatorHook(name)
	if !ok {
		v.Error(node.Pos, "unknown extension %q", name)
		return fmt.Errorf("unknown extension %q", name)
	}
	if err := hook(v); err != nil {
		v.Error(node.Pos, "loading extension %q: %v", name, err)
		return err
	}
	v.required[name] = true
	return nil
}

func (v *Validator) RequiresExtension(name string) bool { return v.required[name] }

// LookupCommand satisfies generator.CommandSource, letting the generator
// find the same Command descriptor (and its Generate hook) the validator
// dispatched Validate through, without generator importing validator's
// internal registration bookkeeping.
func (v *Validator) LookupCommand(name string) (*Command, bool) {
	reg, ok := v.commands[name]
	if !ok {
		return nil, false
	}
	return reg.Command, true
}

// LookupRegistration exposes a command's full CommandRegistration (tag
// table included) so an extension's ValidatorLoad hook can attach a tag
// onto a command core (or another extension) already registered - e.g.
// imap4flags attaching :flags onto both "keep" and "fileinto".
func (v *Validator) LookupRegistration(name string) (*CommandRegistration, bool) {
	reg, ok := v.commands[name]
	return reg, ok
}

// --- argument validation helpers ---

// ValidatePositionalArgument checks arg's type against want, reporting a
// TypeMismatch-flavoured error naming the slot by name/index if it
// mismatches. A nil arg is a missing-argument ArityMismatch.
func (v *Validator) ValidatePositionalArgument(cmd *ast.Node, arg *ast.Argument, name string, index int, want ast.ArgType) bool {
	if arg == nil {
		v.Error(cmd.Pos, "%s: missing positional argument %d (%s)", cmd.Name, index, name)
		return false
	}
	if arg.Type != want {
		// A plain string is accepted wherever a string-list is wanted -
		// single-element list coercion, same as the C validator.
		if want == ast.ArgStringList && arg.Type == ast.ArgString {
			return true
		}
		v.Error(arg.Pos, "%s: expected %s as argument %d (%s), found %s", cmd.Name, want, index, name, arg.Type)
		return false
	}
	return true
}

// ArgumentActivate marks arg so the generator will emit its runtime form.
func (v *Validator) ArgumentActivate(arg *ast.Argument) {
	arg.Activated = true
}

// ValidateCommandSubtests enforces the exact subtest count a test expects,
// or skips the check when expected < 0 (free arity, e.g. anyof/allof).
func (v *Validator) ValidateCommandSubtests(cmd *ast.Node, expected int) bool {
	if expected < 0 {
		return true
	}
	if len(cmd.Tests) != expected {
		v.Error(cmd.Pos, "%s: expected %d subtests, found %d", cmd.Name, expected, len(cmd.Tests))
		return false
	}
	return true
}

// ValidateCommandBlock enforces whether cmd may/must carry a nested block.
func (v *Validator) ValidateCommandBlock(cmd *ast.Node, allowed, required bool) bool {
	if !allowed && cmd.Block != nil {
		v.Error(cmd.Pos, "%s: does not take a block", cmd.Name)
		return false
	}
	if required && cmd.Block == nil {
		v.Error(cmd.Pos, "%s: requires a block", cmd.Name)
		return false
	}
	return true
}

// --- the tag loop + pre-order walk ---

// runTagLoop detaches leading tag arguments from cmd's argument list,
// dispatching each to its registered TagArgument.Validate, stopping at the
// first argument that is not a tag registered on this command (or is a
// tag registered on some other command - that simply means the tag loop
// is done, not an UnknownTag; an UnknownTag only fires if no positional
// interpretation is possible either, which individual Validate hooks
// report themselves by failing type checks).
func (v *Validator) runTagLoop(reg *CommandRegistration, cmd *ast.Node) error {
	args := cmd.Args
	for len(args) > 0 && args[0].Type == ast.ArgTag {
		tagReg, ok := reg.Tags[args[0].Tag]
		if !ok {
			break
		}
		if err := tagReg.Argument.Validate(v, &args, cmd); err != nil {
			v.Error(cmd.Pos, "%s: tag :%s: %v", cmd.Name, args[0].Tag, err)
			return err
		}
	}
	cmd.Args = args
	if len(args) > 0 {
		cmd.FirstPositional = args[0]
	}
	return nil
}

// Run walks the AST pre-order, resolving and validating every command and
// test. It returns true iff zero errors were reported.
func (v *Validator) Run() bool {
	v.walkBlock(v.Script.Commands)
	return v.errCount == 0 && !v.fatal
}

func (v *Validator) walkBlock(block []*ast.Node) {
	for _, cmd := range block {
		if v.fatal {
			return
		}
		v.walkNode(cmd)
	}
}

func (v *Validator) walkNode(node *ast.Node) {
	if node.Name == "require" {
		v.validateRequire(node)
		return
	}

	reg, ok := v.commands[node.Name]
	if !ok {
		v.Error(node.Pos, "unknown %s %q", kindName(node.Kind), node.Name)
		return
	}
	if reg.Command.Kind != node.Kind {
		v.Error(node.Pos, "%q is a %s, not a %s", node.Name, kindName(reg.Command.Kind), kindName(node.Kind))
		return
	}

	if reg.Command.Hooks.PreValidate != nil {
		if err := reg.Command.Hooks.PreValidate(v, node); err != nil {
			v.Error(node.Pos, "%v", err)
			return
		}
	}
	if err := v.runTagLoop(reg, node); err != nil {
		return
	}
	if reg.Command.Hooks.Validate != nil {
		if err := reg.Command.Hooks.Validate(v, node); err != nil {
			v.Error(node.Pos, "%v", err)
			return
		}
	}

	for _, t := range node.Tests {
		v.walkNode(t)
	}
	v.walkBlock(node.Block)
	v.walkBlock(node.Else)
}

func (v *Validator) validateRequire(node *ast.Node) {
	if len(node.Args) != 1 {
		v.Error(node.Pos, "require: expected one string or string-list argument")
		return
	}
	arg := node.Args[0]
	var names []string
	switch arg.Type {
	case ast.ArgString:
		names = []string{arg.Str}
	case ast.ArgStringList:
		names = arg.List
	default:
		v.Error(node.Pos, "require: expected a string or string-list argument")
		return
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_ = v.ExtensionLoad(node, name)
	}
}

func kindName(k ast.Kind) string {
	if k == ast.KindTest {
		return "test"
	}
	return "command"
}
