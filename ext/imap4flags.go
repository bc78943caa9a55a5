package ext

import (
	"fmt"
	"strings"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/core"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/validator"
)

const (
	opSetFlag = 0
	opAddFlag = 1
	opRemoveFlag = 2
)

func init() {
	interp.RegisterOp("imap4flags", opSetFlag, runFlagOp(setFlagMode))
	interp.RegisterOp("imap4flags", opAddFlag, runFlagOp(addFlagMode))
	interp.RegisterOp("imap4flags", opRemoveFlag, runFlagOp(removeFlagMode))
}

func registerImap4Flags(reg *extreg.Registry) {
	reg.Register(&extreg.Extension{
		Name: "imap4flags",
		ValidatorLoad: func(v *validator.Validator) error {
			for mode, name := range map[flagMode]string{setFlagMode: "setflag", addFlagMode: "addflag", removeFlagMode: "removeflag"} {
				mode, name := mode, name
				v.RegisterCommand(&validator.Command{
					Name: name, Kind: validator.KindCommand, PositionalArity: -1,
					Hooks: validator.Hooks{
						Validate: validateFlagCommand,
						Generate: generateFlagCommand(mode),
					},
				})
			}
			v.RegisterCommand(&validator.Command{
				Name: "hasflag", Kind: validator.KindTest,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						// hasflag takes no :comparator or match-type tags;
						// runHasFlag compares flags by case-insensitive equality.
						return nil
					},
					Validate: validateHasFlag,
					Generate: generateHasFlag,
				},
			})

			// Attach :flags onto keep and fileinto, mirroring
			// ext_imapflags_attach_flags_tag in the original C extension.
			for _, name := range []string{"keep", "fileinto"} {
				creg, ok := v.LookupRegistration(name)
				if !ok {
					continue
				}
				v.RegisterTag(creg, &validator.TagArgument{
					Identifier: "flags",
					Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
						args := *arg
						if len(args) < 2 {
							return fmt.Errorf(":flags requires a string-list argument")
						}
						core.SetFlags(cmd, core2List(args[1]))
						*arg = args[2:]
						return nil
					},
				}, 0)
			}
			return nil
		},
	})
}

type flagMode int

const (
	setFlagMode flagMode = iota
	addFlagMode
	removeFlagMode
)

func validateFlagCommand(v *validator.Validator, cmd *ast.Node) error {
	// [<variablename: string>] <list-of-flags: string-list>
	switch len(cmd.Args) {
	case 1:
		if cmd.Args[0].Type != ast.ArgString && cmd.Args[0].Type != ast.ArgStringList {
			return fmt.Errorf("%s: expected a flag list", cmd.Name)
		}
		v.ArgumentActivate(cmd.Args[0])
	case 2:
		if cmd.Args[0].Type != ast.ArgString {
			return fmt.Errorf("%s: expected a variable name as the first argument", cmd.Name)
		}
		v.ArgumentActivate(cmd.Args[0])
		v.ArgumentActivate(cmd.Args[1])
	default:
		return fmt.Errorf("%s: expected 1 or 2 arguments", cmd.Name)
	}
	return nil
}

func generateFlagCommand(mode flagMode) func(g validator.Generator, cmd *ast.Node) error {
	return func(g validator.Generator, cmd *ast.Node) error {
		var varName string
		var flags []string
		if len(cmd.Args) == 2 {
			varName = cmd.Args[0].Str
			flags = core2List(cmd.Args[1])
		} else {
			flags = core2List(cmd.Args[0])
		}
		op := uint8(opSetFlag)
		switch mode {
		case addFlagMode:
			op = opAddFlag
		case removeFlagMode:
			op = opRemoveFlag
		}
		g.EmitExtOpcode("imap4flags", op)
		g.EmitString(varName)
		g.EmitStringList(flags)
		return nil
	}
}

func runFlagOp(mode flagMode) interp.OpHandler {
	return func(ctx *interp.Context, addr *int) (interp.Status, error) {
		cur := ctx.Cursor()
		varName, ok := cur.ReadString(addr)
		if !ok {
			return interp.StatusBinaryCorrupt, fmt.Errorf("imap4flags: truncated variable name")
		}
		flags, ok := cur.ReadStringList(addr)
		if !ok {
			return interp.StatusBinaryCorrupt, fmt.Errorf("imap4flags: truncated flag list")
		}
		if varName == "" {
			varName = interp.ImplicitFlagsVar
		}
		for i, f := range flags {
			flags[i] = strings.ToLower(f)
		}
		data := ctx.Data()
		if data.Variables == nil {
			data.Variables = make(map[string]string)
		}
		current := strings.Fields(data.Variables[varName])
		switch mode {
		case setFlagMode:
			current = flags
		case addFlagMode:
			current = unionFlags(current, flags)
		case removeFlagMode:
			current = subtractFlags(current, flags)
		}
		data.Variables[varName] = strings.Join(current, " ")
		return interp.StatusOK, nil
	}
}

func unionFlags(a, b []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(a)+len(b))
	for _, f := range append(append([]string{}, a...), b...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func subtractFlags(a, b []string) []string {
	remove := make(map[string]bool, len(b))
	for _, f := range b {
		remove[f] = true
	}
	out := make([]string, 0, len(a))
	for _, f := range a {
		if !remove[f] {
			out = append(out, f)
		}
	}
	return out
}

func validateHasFlag(v *validator.Validator, cmd *ast.Node) error {
	if len(cmd.Args) == 0 || len(cmd.Args) > 2 {
		return fmt.Errorf("hasflag: expected 1 or 2 string-list arguments")
	}
	for _, a := range cmd.Args {
		v.ArgumentActivate(a)
	}
	return nil
}

func generateHasFlag(g validator.Generator, cmd *ast.Node) error {
	var varName string
	var keys []string
	if len(cmd.Args) == 2 {
		varName = cmd.Args[0].Str
		keys = core2List(cmd.Args[1])
	} else {
		keys = core2List(cmd.Args[0])
	}
	g.EmitExtOpcode("imap4flags", 3)
	g.EmitString(varName)
	g.EmitStringList(keys)
	return nil
}

func init() {
	interp.RegisterOp("imap4flags", 3, runHasFlag)
}

func runHasFlag(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	varName, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("hasflag: truncated variable name")
	}
	keys, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("hasflag: truncated key list")
	}
	if varName == "" {
		varName = interp.ImplicitFlagsVar
	}
	data := ctx.Data()
	current := strings.Fields(data.Variables[varName])
	for _, want := range keys {
		for _, have := range current {
			if strings.EqualFold(want, have) {
				ctx.Push(true)
				return interp.StatusOK, nil
			}
		}
	}
	ctx.Push(false)
	return interp.StatusOK, nil
}
