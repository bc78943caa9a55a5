package validator

import "github.com/foxcpp/go-sieve/ast"

// CommandKind mirrors ast.Kind but lives here too since a Command
// descriptor needs to declare which kind it registers as, independent of
// any particular AST node.
type CommandKind = ast.Kind

const (
	KindCommand = ast.KindCommand
	KindTest    = ast.KindTest
)

// Hooks groups the lifecycle callbacks a command/test contributes, mirrors
// the function-pointer table on the C sieve_command struct.
type Hooks struct {
	// Registered runs once per command name, when RegisterCommand interns
	// the descriptor; used to link optional tags (match-type, comparator,
	// address-part) onto the command's registration.
	Registered func(v *Validator, reg *CommandRegistration) error

	// PreValidate runs before the tag loop, used to allocate cmd.Data.
	PreValidate func(v *Validator, cmd *ast.Node) error

	// Validate runs after the tag loop has consumed all leading tags; it
	// is responsible for checking/activating positional arguments.
	Validate func(v *Validator, cmd *ast.Node) error

	// Generate is consumed by the generator package; the validator only
	// stores it so a single Command registration carries the whole
	// compile-time contract. Runtime handlers are registered through
	// interp.RegisterOp.
	Generate func(g Generator, cmd *ast.Node) error
}

// Generator is the minimal interface the generator package satisfies,
// referenced here only so Hooks.Generate can be typed without an import
// cycle (validator must not import generator - generator consumes
// validator's output). Each command's own Generate hook drives emission by
// calling these primitives directly, mirroring the C implementation's
// per-command sieve_generator_emit_* calls.
type Generator interface {
	EmitByte(b byte)
	EmitOpcode(op uint8)
	EmitExtOpcode(extension string, localCode uint8)
	EmitPackedUint(v uint64)
	EmitPackedInt(v int64)
	EmitString(s string)
	EmitStringList(list []string)
	EmitObject(obj interface{})
	EmitArgument(arg *ast.Argument) error
	EmitTest(test *ast.Node) error
	EmitBlock(block []*ast.Node) error

	// NewJump reserves space for a forward jump offset and returns a
	// label to be resolved once the target address is known.
	NewJump() Label
	ResolveJump(l Label)
	Pos() int
}

// Label identifies a not-yet-resolved forward jump, resolved once the
// generator reaches the jump's target instruction.
type Label int

// Command is the descriptor registered once per extension-contributed
// command or test.
type Command struct {
	Name string
	Kind CommandKind

	// PositionalArity is the expected number of positional arguments, or
	// -1 if the command checks its own arity (e.g. setflag's optional
	// variable name).
	PositionalArity int
	SubtestArity    int // expected number of subtests, -1 for free (anyof/allof)
	HasBlock        bool
	BlockRequired   bool

	Hooks Hooks
}

// CommandRegistration is the per-command-name bookkeeping the validator
// keeps: which tags have been linked onto it (by id code) and whether its
// Registered hook has already fired for the current AST walk.
type CommandRegistration struct {
	Command *Command
	Tags    map[string]*TagRegistration
	seen    bool
}

type TagRegistration struct {
	Argument *TagArgument
	IDCode   int
}

// TagArgument is a tag's own descriptor: its identifier and the validator
// that runs when the tag loop detaches it.
type TagArgument struct {
	Identifier string
	// Validate consumes *arg (currently pointing at the tag node) and
	// advances it past both the tag and, if the tag takes one, its value
	// argument. It receives the owning command's AST node so it can read
	// or mutate cmd.Data.
	Validate func(v *Validator, arg *[]*ast.Argument, cmd *ast.Node) error
}
