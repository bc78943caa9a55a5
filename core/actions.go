package core

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/opcode"
	"github.com/foxcpp/go-sieve/validator"
)

// keepState and fileIntoState both carry an optional flags slice, attached
// by the imap4flags extension's :flags tag when that extension is
// required - mirroring ext-imapflags.c's ext_imapflags_attach_flags_tag
// onto both commands. Core itself never sets flags; GetFlags simply
// returns nil when imap4flags was never loaded.
type keepState struct{ flags []string }

type fileIntoState struct {
	copy   bool
	create bool
	flags  []string
}

func fileIntoData(cmd *ast.Node) *fileIntoState {
	fs, ok := cmd.Data.(*fileIntoState)
	if !ok {
		fs = &fileIntoState{}
		cmd.Data = fs
	}
	return fs
}

// SetFlags is called by the imap4flags extension's :flags tag validator,
// on whichever of "keep"/"fileinto" it was registered against.
func SetFlags(cmd *ast.Node, flags []string) {
	switch cmd.Name {
	case "fileinto":
		fileIntoData(cmd).flags = flags
	default:
		if ks, ok := cmd.Data.(*keepState); ok {
			ks.flags = flags
			return
		}
		cmd.Data = &keepState{flags: flags}
	}
}

// GetFlags returns whatever flags imap4flags attached to cmd, or nil.
func GetFlags(cmd *ast.Node) []string {
	switch h := cmd.Data.(type) {
	case *keepState:
		return h.flags
	case *fileIntoState:
		return h.flags
	}
	return nil
}

type redirectState struct{ copy bool }

func registerActions(v *validator.Validator) {
	v.RegisterCommand(&validator.Command{
		Name: "keep", Kind: validator.KindCommand, PositionalArity: 0,
		Hooks: validator.Hooks{
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				g.EmitOpcode(uint8(opcode.Keep))
				g.EmitStringList(GetFlags(cmd))
				return nil
			},
		},
	})

	v.RegisterCommand(&validator.Command{
		Name: "discard", Kind: validator.KindCommand, PositionalArity: 0,
		Hooks: validator.Hooks{
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				g.EmitOpcode(uint8(opcode.Discard))
				return nil
			},
		},
	})

	v.RegisterCommand(&validator.Command{
		Name: "fileinto", Kind: validator.KindCommand, PositionalArity: 1,
		Hooks: validator.Hooks{
			Registered: func(v *validator.Validator, reg *validator.CommandRegistration) error {
				v.RegisterTag(reg, &validator.TagArgument{
					Identifier: "copy",
					Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
						if !v.RequiresExtension("copy") {
							return fmt.Errorf(":copy requires the \"copy\" extension")
						}
						fileIntoData(cmd).copy = true
						*arg = (*arg)[1:]
						return nil
					},
				}, 0)
				v.RegisterTag(reg, &validator.TagArgument{
					Identifier: "create",
					Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
						fileIntoData(cmd).create = true
						*arg = (*arg)[1:]
						return nil
					},
				}, 0)
				return nil
			},
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Args) != 1 || cmd.Args[0].Type != ast.ArgString {
					return fmt.Errorf("fileinto: expected a mailbox name argument")
				}
				v.ArgumentActivate(cmd.Args[0])
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				fs := fileIntoData(cmd)
				g.EmitOpcode(uint8(opcode.FileInto))
				g.EmitStringList(GetFlags(cmd))
				if fs.copy {
					g.EmitByte(1)
				} else {
					g.EmitByte(0)
				}
				if fs.create {
					g.EmitByte(1)
				} else {
					g.EmitByte(0)
				}
				g.EmitString(cmd.Args[0].Str)
				return nil
			},
		},
	})

	v.RegisterCommand(&validator.Command{
		Name: "redirect", Kind: validator.KindCommand, PositionalArity: 1,
		Hooks: validator.Hooks{
			Registered: func(v *validator.Validator, reg *validator.CommandRegistration) error {
				v.RegisterTag(reg, &validator.TagArgument{
					Identifier: "copy",
					Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
						if !v.RequiresExtension("copy") {
							return fmt.Errorf(":copy requires the \"copy\" extension")
						}
						cmd.Data = &redirectState{copy: true}
						*arg = (*arg)[1:]
						return nil
					},
				}, 0)
				return nil
			},
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Args) != 1 || cmd.Args[0].Type != ast.ArgString {
					return fmt.Errorf("redirect: expected an address argument")
				}
				v.ArgumentActivate(cmd.Args[0])
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				copyFlag := byte(0)
				if rs, ok := cmd.Data.(*redirectState); ok && rs.copy {
					copyFlag = 1
				}
				g.EmitOpcode(uint8(opcode.Redirect))
				g.EmitByte(copyFlag)
				g.EmitString(cmd.Args[0].Str)
				return nil
			},
		},
	})
}
