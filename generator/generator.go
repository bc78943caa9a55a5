// Package generator walks a validated ast.Script and emits it into a
// sbinary.Binary, resolving control-flow jumps (if/elsif/else, anyof/allof)
// by backpatching reserved offsets once their target address is known
// - the same two-pass (emit-then-patch) shape as the C implementation's
// sieve_jumptable/sieve_binary_emit_offset pair.
package generator

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/opcode"
	"github.com/foxcpp/go-sieve/sbinary"
	"github.com/foxcpp/go-sieve/sobj"
	"github.com/foxcpp/go-sieve/validator"
)

// CommandSource resolves a command/test name to the registration the
// validator attached Hooks.Generate to. Kept as an interface so generator
// does not need to import validator's internal bookkeeping types, only the
// Command descriptor itself.
type CommandSource interface {
	LookupCommand(name string) (*validator.Command, bool)
}

type Generator struct {
	bin     *sbinary.Binary
	cmds    CommandSource
	patches map[validator.Label]int // label -> byte offset of the reserved packed-int slot
	nextLbl validator.Label
}

func New(cmds CommandSource) *Generator {
	return &Generator{bin: sbinary.New(), cmds: cmds, patches: make(map[validator.Label]int)}
}

func (g *Generator) Binary() *sbinary.Binary { return g.bin }

func (g *Generator) EmitByte(b byte)                  { g.bin.EmitU8(b) }
func (g *Generator) EmitOpcode(op uint8)               { g.bin.EmitOpcode(opcode.Op(op)) }
func (g *Generator) EmitExtOpcode(ext string, c uint8) { g.bin.EmitExtOpcode(ext, c) }
func (g *Generator) EmitPackedUint(v uint64)           { g.bin.EmitPackedUint(v) }
func (g *Generator) EmitPackedInt(v int64)             { g.bin.EmitPackedInt(v) }
func (g *Generator) EmitString(s string)               { g.bin.EmitString(s) }
func (g *Generator) EmitStringList(list []string)      { g.bin.EmitStringList(list) }
func (g *Generator) Pos() int                          { return len(g.bin.Code) }

func (g *Generator) EmitObject(obj interface{}) {
	o, ok := obj.(*sobj.Object)
	if !ok || o == nil {
		panic("generator: EmitObject called with a non-*sobj.Object argument")
	}
	g.bin.EmitObject(o)
}

// NewJump reserves a fixed-width (5-byte) slot for a forward jump offset -
// fixed width so ResolveJump can overwrite it in place rather than needing
// to shift everything after it, at the cost of not using the packed
// encoding's small-value savings for jumps specifically.
func (g *Generator) NewJump() validator.Label {
	lbl := g.nextLbl
	g.nextLbl++
	g.patches[lbl] = len(g.bin.Code)
	for i := 0; i < 5; i++ {
		g.bin.EmitU8(0)
	}
	return lbl
}

func (g *Generator) ResolveJump(l validator.Label) {
	off, ok := g.patches[l]
	if !ok {
		panic("generator: ResolveJump on unknown label")
	}
	target := int64(len(g.bin.Code) - off)
	buf := encodeFixedPackedInt(target)
	copy(g.bin.Code[off:off+5], buf)
}

// encodeFixedPackedInt zig-zag encodes v into exactly 5 bytes (35 usable
// bits, ample for any real script's jump distance) so ResolveJump's
// in-place patch never changes the binary's length.
func encodeFixedPackedInt(v int64) []byte {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	buf := make([]byte, 5)
	for i := 0; i < 5; i++ {
		buf[i] = byte(u & 0x7f)
		u >>= 7
		if i < 4 {
			buf[i] |= 0x80
		}
	}
	return buf
}

func (g *Generator) EmitArgument(arg *ast.Argument) error {
	if arg == nil {
		return fmt.Errorf("generator: nil argument")
	}
	if !arg.Activated {
		return fmt.Errorf("generator: argument at %v was never activated by the validator", arg.Pos)
	}
	switch arg.Type {
	case ast.ArgString:
		g.EmitByte(byte(ast.ArgString))
		g.EmitString(arg.Str)
	case ast.ArgNumber:
		g.EmitByte(byte(ast.ArgNumber))
		g.EmitPackedInt(arg.Num)
	case ast.ArgStringList:
		g.EmitByte(byte(ast.ArgStringList))
		g.EmitStringList(arg.List)
	case ast.ArgTag:
		g.EmitByte(byte(ast.ArgTag))
		g.EmitString(arg.Tag)
	default:
		return fmt.Errorf("generator: unexpected argument type %v", arg.Type)
	}
	return nil
}

// EmitTest compiles a single test node, leaving its boolean result on the
// interpreter's test-result stack (see package interp). Composite tests
// call this recursively for each of their subtests: `not` follows its
// subtest with a NOT opcode, while anyof/allof place a JMPTRUE/JMPFALSE
// forward jump after every subtest but the last, so they short-circuit
// the same way if/elsif/else branch.
func (g *Generator) EmitTest(test *ast.Node) error { return g.emit(test) }

// EmitBlock compiles a sequence of commands in place, with no implicit
// terminator - callers nesting a block inside a control-flow command (if's
// branches) rely on execution simply falling through to whatever follows in
// the linear instruction stream once the block ends.
func (g *Generator) EmitBlock(block []*ast.Node) error {
	for _, cmd := range block {
		if err := g.emit(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) emit(node *ast.Node) error {
	if node.Name == "require" {
		return nil // require has no runtime effect, it only gated validation
	}
	cmd, ok := g.cmds.LookupCommand(node.Name)
	if !ok || cmd.Hooks.Generate == nil {
		return fmt.Errorf("generator: %s %q has no generator hook", kindName(node.Kind), node.Name)
	}
	return cmd.Hooks.Generate(g, node)
}

// Generate compiles script top to bottom into a fresh binary. It assumes
// script has already passed validator.Validator.Run with zero errors.
func Generate(cmds CommandSource, script *ast.Script) (*sbinary.Binary, error) {
	g := New(cmds)
	if err := g.EmitBlock(script.Commands); err != nil {
		return nil, err
	}
	g.EmitOpcode(uint8(opcode.Stop))
	return g.Binary(), nil
}

func kindName(k ast.Kind) string {
	if k == ast.KindTest {
		return "test"
	}
	return "command"
}
