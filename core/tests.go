package core

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/opcode"
	"github.com/foxcpp/go-sieve/validator"
)

func registerTests(v *validator.Validator, matchReg *match.Registry) {
	registerLogicTests(v)
	registerAddressLikeTests(v, matchReg)
	registerExistsSizeTests(v)
}

func registerLogicTests(v *validator.Validator) {
	v.RegisterCommand(&validator.Command{
		Name: "anyof", Kind: validator.KindTest, SubtestArity: -1,
		Hooks: validator.Hooks{
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Tests) == 0 {
					return fmt.Errorf("anyof: requires at least one subtest")
				}
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				return emitShortCircuit(g, cmd.Tests, opcode.JmpTrue, opcode.True)
			},
		},
	})
	v.RegisterCommand(&validator.Command{
		Name: "allof", Kind: validator.KindTest, SubtestArity: -1,
		Hooks: validator.Hooks{
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Tests) == 0 {
					return fmt.Errorf("allof: requires at least one subtest")
				}
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				return emitShortCircuit(g, cmd.Tests, opcode.JmpFalse, opcode.False)
			},
		},
	})
	v.RegisterCommand(&validator.Command{
		Name: "not", Kind: validator.KindTest, SubtestArity: 1,
		Hooks: validator.Hooks{
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				if err := g.EmitTest(cmd.Tests[0]); err != nil {
					return err
				}
				g.EmitOpcode(uint8(opcode.Not))
				return nil
			},
		},
	})
	v.RegisterCommand(&validator.Command{
		Name: "true", Kind: validator.KindTest, SubtestArity: 0,
		Hooks: validator.Hooks{Generate: func(g validator.Generator, cmd *ast.Node) error {
			g.EmitOpcode(uint8(opcode.True))
			return nil
		}},
	})
	v.RegisterCommand(&validator.Command{
		Name: "false", Kind: validator.KindTest, SubtestArity: 0,
		Hooks: validator.Hooks{Generate: func(g validator.Generator, cmd *ast.Node) error {
			g.EmitOpcode(uint8(opcode.False))
			return nil
		}},
	})
}

// emitShortCircuit compiles anyof/allof into a chain of decide-and-jump
// tests instead of evaluating every subtest and folding the results with
// AND/OR: each subtest but the last is followed by decideJmp (JmpTrue for
// anyof, JmpFalse for allof), which pops that subtest's result and, on a
// match, jumps straight past the remaining subtests to shortOp (True/False
// respectively) without ever evaluating them. Falling through to the last
// subtest leaves its own result as the final value, mirroring how "if"
// backpatches a single forward jump in core/control.go.
func emitShortCircuit(g validator.Generator, tests []*ast.Node, decideJmp, shortOp opcode.Op) error {
	var shortLabels []validator.Label
	for _, t := range tests[:len(tests)-1] {
		if err := g.EmitTest(t); err != nil {
			return err
		}
		g.EmitOpcode(uint8(decideJmp))
		shortLabels = append(shortLabels, g.NewJump())
	}
	if err := g.EmitTest(tests[len(tests)-1]); err != nil {
		return err
	}
	g.EmitOpcode(uint8(opcode.Jmp))
	endLbl := g.NewJump()
	for _, lbl := range shortLabels {
		g.ResolveJump(lbl)
	}
	g.EmitOpcode(uint8(shortOp))
	g.ResolveJump(endLbl)
	return nil
}

func registerAddressLikeTests(v *validator.Validator, matchReg *match.Registry) {
	v.RegisterCommand(&validator.Command{
		Name: "address", Kind: validator.KindTest,
		Hooks: validator.Hooks{
			Registered: func(v *validator.Validator, reg *validator.CommandRegistration) error {
				registerMatchTags(v, reg, matchReg, true)
				return nil
			},
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Args) != 2 {
					return fmt.Errorf("address: expected header-list and key-list arguments")
				}
				ok1 := v.ValidatePositionalArgument(cmd, cmd.Args[0], "header-list", 0, ast.ArgStringList)
				ok2 := v.ValidatePositionalArgument(cmd, cmd.Args[1], "key-list", 1, ast.ArgStringList)
				if !ok1 || !ok2 {
					return fmt.Errorf("address: invalid arguments")
				}
				v.ArgumentActivate(cmd.Args[0])
				v.ArgumentActivate(cmd.Args[1])
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				g.EmitOpcode(uint8(opcode.Address))
				g.EmitStringList(stringList(cmd.Args[0]))
				emitKeyMatchTail(g, keyState(cmd, matchReg), true, stringList(cmd.Args[1]))
				return nil
			},
		},
	})

	v.RegisterCommand(&validator.Command{
		Name: "envelope", Kind: validator.KindTest,
		Hooks: validator.Hooks{
			Registered: func(v *validator.Validator, reg *validator.CommandRegistration) error {
				registerMatchTags(v, reg, matchReg, true)
				return nil
			},
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Args) != 2 {
					return fmt.Errorf("envelope: expected envelope-part-list and key-list arguments")
				}
				ok1 := v.ValidatePositionalArgument(cmd, cmd.Args[0], "envelope-part-list", 0, ast.ArgStringList)
				ok2 := v.ValidatePositionalArgument(cmd, cmd.Args[1], "key-list", 1, ast.ArgStringList)
				if !ok1 || !ok2 {
					return fmt.Errorf("envelope: invalid arguments")
				}
				v.ArgumentActivate(cmd.Args[0])
				v.ArgumentActivate(cmd.Args[1])
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				g.EmitOpcode(uint8(opcode.Envelope))
				g.EmitStringList(stringList(cmd.Args[0]))
				emitKeyMatchTail(g, keyState(cmd, matchReg), true, stringList(cmd.Args[1]))
				return nil
			},
		},
	})

	v.RegisterCommand(&validator.Command{
		Name: "header", Kind: validator.KindTest,
		Hooks: validator.Hooks{
			Registered: func(v *validator.Validator, reg *validator.CommandRegistration) error {
				registerMatchTags(v, reg, matchReg, false)
				return nil
			},
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Args) != 2 {
					return fmt.Errorf("header: expected header-list and key-list arguments")
				}
				ok1 := v.ValidatePositionalArgument(cmd, cmd.Args[0], "header-list", 0, ast.ArgStringList)
				ok2 := v.ValidatePositionalArgument(cmd, cmd.Args[1], "key-list", 1, ast.ArgStringList)
				if !ok1 || !ok2 {
					return fmt.Errorf("header: invalid arguments")
				}
				v.ArgumentActivate(cmd.Args[0])
				v.ArgumentActivate(cmd.Args[1])
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				g.EmitOpcode(uint8(opcode.Header))
				g.EmitStringList(stringList(cmd.Args[0]))
				emitKeyMatchTail(g, keyState(cmd, matchReg), false, stringList(cmd.Args[1]))
				return nil
			},
		},
	})
}

// sizeState records :over/:under - a pointer distinguishes "tag absent"
// (nil, an error the Validate hook catches) from either explicit choice.
type sizeState struct{ over bool }

func registerExistsSizeTests(v *validator.Validator) {
	v.RegisterCommand(&validator.Command{
		Name: "exists", Kind: validator.KindTest, PositionalArity: 1,
		Hooks: validator.Hooks{
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if len(cmd.Args) != 1 {
					return fmt.Errorf("exists: expected a header-list argument")
				}
				if !v.ValidatePositionalArgument(cmd, cmd.Args[0], "header-list", 0, ast.ArgStringList) {
					return fmt.Errorf("exists: invalid argument")
				}
				v.ArgumentActivate(cmd.Args[0])
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				g.EmitOpcode(uint8(opcode.Exists))
				g.EmitStringList(stringList(cmd.Args[0]))
				return nil
			},
		},
	})

	v.RegisterCommand(&validator.Command{
		Name: "size", Kind: validator.KindTest, PositionalArity: 1,
		Hooks: validator.Hooks{
			Registered: func(v *validator.Validator, reg *validator.CommandRegistration) error {
				v.RegisterTag(reg, &validator.TagArgument{
					Identifier: "over",
					Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
						cmd.Data = &sizeState{over: true}
						*arg = (*arg)[1:]
						return nil
					},
				}, 0)
				v.RegisterTag(reg, &validator.TagArgument{
					Identifier: "under",
					Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
						cmd.Data = &sizeState{over: false}
						*arg = (*arg)[1:]
						return nil
					},
				}, 0)
				return nil
			},
			Validate: func(v *validator.Validator, cmd *ast.Node) error {
				if cmd.Data == nil {
					return fmt.Errorf("size: requires :over or :under")
				}
				if len(cmd.Args) != 1 || cmd.Args[0].Type != ast.ArgNumber {
					return fmt.Errorf("size: expected a numeric limit argument")
				}
				v.ArgumentActivate(cmd.Args[0])
				return nil
			},
			Generate: func(g validator.Generator, cmd *ast.Node) error {
				s := cmd.Data.(*sizeState)
				g.EmitOpcode(uint8(opcode.Size))
				if s.over {
					g.EmitByte(1)
				} else {
					g.EmitByte(0)
				}
				g.EmitPackedInt(cmd.Args[0].Num)
				return nil
			},
		},
	})
}
