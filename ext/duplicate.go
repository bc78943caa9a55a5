package ext

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/result"
	"github.com/foxcpp/go-sieve/validator"
	"lukechampine.com/blake3"
)

const dupOp = 0

func init() {
	interp.RegisterOp("duplicate", dupOp, runDuplicateTest)
}

// registerDuplicate wires the `duplicate` test (draft-ietf-sieve-duplicate),
// grounded on ext-duplicate-common.c's ext_duplicate_check: it hashes a
// handle/value pair and reports whether that hash has already been seen,
// letting a script fold near-identical messages with e.g.
// `if duplicate { discard; }`.
func registerDuplicate(reg *extreg.Registry) {
	reg.Register(&extreg.Extension{
		Name: "duplicate",
		ValidatorLoad: func(v *validator.Validator) error {
			v.RegisterCommand(&validator.Command{
				Name: "duplicate", Kind: validator.KindTest, PositionalArity: 0,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, reg *validator.CommandRegistration) error {
						registerDuplicateTags(v, reg)
						return nil
					},
					Generate: generateDuplicate,
				},
			})
			return nil
		},
	})
}

type duplicateState struct {
	handle    string
	header    string
	uniqueID  string
	seconds   int64
	last      bool
}

func dupData(cmd *ast.Node) *duplicateState {
	ds, ok := cmd.Data.(*duplicateState)
	if !ok {
		ds = &duplicateState{header: "Message-ID", seconds: 90 * 24 * 3600}
		cmd.Data = ds
	}
	return ds
}

func registerDuplicateTags(v *validator.Validator, reg *validator.CommandRegistration) {
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "handle",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":handle requires a string argument")
			}
			dupData(cmd).handle = args[1].Str
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "header",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":header requires a string argument")
			}
			dupData(cmd).header = args[1].Str
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "uniqueid",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":uniqueid requires a string argument")
			}
			dupData(cmd).uniqueID = args[1].Str
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "seconds",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgNumber {
				return fmt.Errorf(":seconds requires a numeric argument")
			}
			dupData(cmd).seconds = args[1].Num
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "last",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			dupData(cmd).last = true
			*arg = (*arg)[1:]
			return nil
		},
	}, 0)
}

func generateDuplicate(g validator.Generator, cmd *ast.Node) error {
	ds := dupData(cmd)
	g.EmitExtOpcode("duplicate", dupOp)
	g.EmitString(ds.handle)
	g.EmitString(ds.header)
	g.EmitString(ds.uniqueID)
	g.EmitPackedInt(ds.seconds)
	if ds.last {
		g.EmitByte(1)
	} else {
		g.EmitByte(0)
	}
	return nil
}

func runDuplicateTest(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	handle, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("duplicate: truncated :handle")
	}
	header, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("duplicate: truncated :header")
	}
	uniqueID, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("duplicate: truncated :uniqueid")
	}
	if _, ok := cur.ReadPackedInt(addr); !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("duplicate: truncated :seconds")
	}
	if _, ok := cur.ReadU8(addr); !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("duplicate: truncated :last")
	}

	data := ctx.Data()
	value := uniqueID
	if value == "" {
		vals, _ := data.Message.HeaderValues(header)
		if len(vals) > 0 {
			value = vals[0]
		}
	}
	if value == "" {
		ctx.Push(false)
		return interp.StatusOK, nil
	}

	if handle == "" {
		handle = "default"
	}
	sum := blake3.Sum256([]byte(handle + "\x00" + value))
	key := fmt.Sprintf("duplicate:%x", sum[:])

	store, ok := data.Policy.(DuplicateStore)
	if !ok {
		ctx.Push(false)
		return interp.StatusOK, nil
	}
	seen, err := store.Seen(key)
	if err != nil {
		return interp.StatusTempFailure, err
	}
	ctx.Push(seen)
	if !seen {
		// Only marked via a deferred action so a script that evaluates
		// `duplicate` but aborts before the run commits never burns the
		// handle, matching ext-duplicate-common.c's finish-time commit.
		_ = data.Result.Add(&markDuplicateAction{key: key})
	}
	return interp.StatusOK, nil
}

type markDuplicateAction struct{ key string }

func (a *markDuplicateAction) Name() string { return "duplicate-mark" }
func (a *markDuplicateAction) CheckDuplicate(other result.Action) bool {
	o, ok := other.(*markDuplicateAction)
	return ok && o.key == a.key
}
func (a *markDuplicateAction) CheckConflict(result.Action) (string, bool) {
	return "", false
}
func (a *markDuplicateAction) Execute(interface{}) error { return nil }
func (a *markDuplicateAction) Finish(policy interface{}, outcome error) {
	if outcome != nil {
		return
	}
	if store, ok := policy.(DuplicateStore); ok {
		_ = store.Mark(a.key)
	}
}
func (a *markDuplicateAction) SuppressesImplicitKeep() bool { return false }
