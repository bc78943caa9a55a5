// Package core wires the always-available RFC 5228 commands and tests
// (control structures, address/header/envelope/exists/size tests, and the
// keep/discard/fileinto/redirect/stop actions) into a validator.Validator,
// generating the opcode.* stream package interp knows how to run. Unlike
// extensions, core commands need no runtime registration - interp's main
// switch implements their semantics directly - so this package only
// contributes Validate/Generate hooks.
package core

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/validator"
)

// Register attaches every core command/test to v. matchReg supplies the
// comparator/match-type/address-part objects tag validators resolve
// against; it is normally extreg.Registry.Match.
func Register(v *validator.Validator, matchReg *match.Registry) {
	registerControl(v)
	registerTests(v, matchReg)
	registerActions(v)
}

// keyMatchState is the per-occurrence state the :comparator/:is/:contains/
// :matches/:value/:count/address-part tags accumulate on a test node's
// Data field before Generate reads it back.
type keyMatchState struct {
	comparator  *match.Comparator
	matchType   *match.MatchType
	addressPart *match.AddressPart
	relational  match.Relational
}

func keyState(cmd *ast.Node, matchReg *match.Registry) *keyMatchState {
	if cmd.Data == nil {
		cmp, _ := matchReg.Comparator(match.DefaultComparator)
		mt, _ := matchReg.MatchType(match.MatchIs)
		all, _ := matchReg.AddressPart(match.PartAll)
		cmd.Data = &keyMatchState{comparator: cmp, matchType: mt, addressPart: all}
	}
	return cmd.Data.(*keyMatchState)
}

// registerMatchTags links the shared comparator/match-type/(address-part)
// tag set onto reg, storing the chosen objects on the owning node's Data.
func registerMatchTags(v *validator.Validator, reg *validator.CommandRegistration, matchReg *match.Registry, withAddressPart bool) {
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "comparator",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":comparator requires a string argument")
			}
			cmp, ok := matchReg.Comparator(args[1].Str)
			if !ok {
				return fmt.Errorf("unknown comparator %q", args[1].Str)
			}
			keyState(cmd, matchReg).comparator = cmp
			*arg = args[2:]
			return nil
		},
	}, 0)

	for _, name := range []string{match.MatchIs, match.MatchContains, match.MatchMatches, match.MatchRegex} {
		name := name
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: name,
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				if name == match.MatchRegex && !v.RequiresExtension("regex") {
					return fmt.Errorf(":regex requires the \"regex\" extension")
				}
				mt, ok := matchReg.MatchType(name)
				if !ok {
					return fmt.Errorf("match-type %q not available", name)
				}
				keyState(cmd, matchReg).matchType = mt
				*arg = (*arg)[1:]
				return nil
			},
		}, 0)
	}
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "value",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			if !v.RequiresExtension("relational") {
				return fmt.Errorf(":value requires the \"relational\" extension")
			}
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":value requires a relational-match string argument")
			}
			rel, err := match.ParseRelational(args[1].Str)
			if err != nil {
				return err
			}
			mt, _ := matchReg.MatchType(match.MatchValue)
			s := keyState(cmd, matchReg)
			s.matchType = mt
			s.relational = rel
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "count",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			if !v.RequiresExtension("relational") {
				return fmt.Errorf(":count requires the \"relational\" extension")
			}
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":count requires a relational-match string argument")
			}
			rel, err := match.ParseRelational(args[1].Str)
			if err != nil {
				return err
			}
			mt, _ := matchReg.MatchType(match.MatchCount)
			s := keyState(cmd, matchReg)
			s.matchType = mt
			s.relational = rel
			*arg = args[2:]
			return nil
		},
	}, 0)

	if withAddressPart {
		for _, name := range []string{match.PartAll, match.PartLocalPart, match.PartDomain, match.PartUser, match.PartDetail} {
			name := name
			v.RegisterTag(reg, &validator.TagArgument{
				Identifier: name,
				Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
					ap, ok := matchReg.AddressPart(name)
					if !ok {
						return fmt.Errorf("address-part %q not available", name)
					}
					keyState(cmd, matchReg).addressPart = ap
					*arg = (*arg)[1:]
					return nil
				},
			}, 0)
		}
	}
}

// stringList coerces a validated string/string-list argument into a plain
// slice - the grammar accepts a bare string wherever a string-list is
// expected, collapsing to a single-element list.
func stringList(arg *ast.Argument) []string {
	if arg.Type == ast.ArgString {
		return []string{arg.Str}
	}
	return arg.List
}

// emitKeyMatchTail writes the match-type/comparator/relational/keys
// sequence shared by HEADER/ADDRESS/ENVELOPE, and - when withAddressPart -
// the address-part operand ADDRESS/ENVELOPE carry ahead of it. This must
// stay byte-for-byte in sync with interp's execHeader/execAddress decoders.
func emitKeyMatchTail(g validator.Generator, s *keyMatchState, withAddressPart bool, keys []string) {
	if withAddressPart {
		g.EmitObject(s.addressPart.Object)
	}
	g.EmitObject(s.matchType.Object)
	g.EmitObject(s.comparator.Object)
	g.EmitString(string(s.relational))
	g.EmitStringList(keys)
}

