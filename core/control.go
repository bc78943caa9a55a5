package core

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/opcode"
	"github.com/foxcpp/go-sieve/validator"
)

// registerControl wires "if" (with its desugared elsif/else chain in
// Node.Else) and "stop".
func registerControl(v *validator.Validator) {
	v.RegisterCommand(&validator.Command{
		Name:          "if",
		Kind:          validator.KindCommand,
		HasBlock:      true,
		BlockRequired: true,
		SubtestArity:  1,
		Hooks: validator.Hooks{
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Tests) != 1 {
					return fmt.Errorf("if: expected exactly one condition")
				}
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				if err := g.EmitTest(cmd.Tests[0]); err != nil {
					return err
				}
				g.EmitOpcode(uint8(opcode.JmpFalse))
				falseLbl := g.NewJump()
				if err := g.EmitBlock(cmd.Block); err != nil {
					return err
				}
				if len(cmd.Else) > 0 {
					g.EmitOpcode(uint8(opcode.Jmp))
					endLbl := g.NewJump()
					g.ResolveJump(falseLbl)
					if err := g.EmitBlock(cmd.Else); err != nil {
						return err
					}
					g.ResolveJump(endLbl)
				} else {
					g.ResolveJump(falseLbl)
				}
				return nil
			},
		},
	})

	v.RegisterCommand(&validator.Command{
		Name:            "stop",
		Kind:            validator.KindCommand,
		PositionalArity: 0,
		Hooks: validator.Hooks{
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				g.EmitOpcode(uint8(opcode.Stop))
				return nil
			},
		},
	})
}
