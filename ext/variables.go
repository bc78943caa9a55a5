package ext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/sobj"
	"github.com/foxcpp/go-sieve/validator"
)

const (
	opSet    = 0
	opString = 1
)

func init() {
	interp.RegisterOp("variables", opSet, runSet)
	interp.RegisterOp("variables", opString, runStringTest)
}

// setModifier names the value transform "set" applies before storing,
// RFC 5229 §4.1 - at most one may be given, and none of them are
// cumulative across a single "set" invocation.
type setModifier byte

const (
	modNone setModifier = iota
	modLower
	modUpper
	modLowerFirst
	modUpperFirst
	modQuoteWildcard
	modLength
)

var modifierTags = map[string]setModifier{
	"lower": modLower, "upper": modUpper,
	"lowerfirst": modLowerFirst, "upperfirst": modUpperFirst,
	"quotewildcard": modQuoteWildcard, "length": modLength,
}

type setState struct{ mod setModifier }

func setData(cmd *ast.Node) *setState {
	s, ok := cmd.Data.(*setState)
	if !ok {
		s = &setState{}
		cmd.Data = s
	}
	return s
}

func isValidVariableName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// registerVariables wires the "set" command and the "string" test (RFC
// 5229 §4, §5), plus ${...} expansion of every string/string-list
// argument other commands already read back at runtime via
// interp.ExpandVariables.
func registerVariables(reg *extreg.Registry) {
	reg.Register(&extreg.Extension{
		Name: "variables",
		ValidatorLoad: func(v *validator.Validator) error {
			v.RegisterCommand(&validator.Command{
				Name: "set", Kind: validator.KindCommand, PositionalArity: 2,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						for tag, mod := range modifierTags {
							mod := mod
							v.RegisterTag(creg, &validator.TagArgument{
								Identifier: tag,
								Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
									setData(cmd).mod = mod
									*arg = (*arg)[1:]
									return nil
								},
							}, 0)
						}
						return nil
					},
					Validate: validateSet,
					Generate: generateSet,
				},
			})

			v.RegisterCommand(&validator.Command{
				Name: "string", Kind: validator.KindTest,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						registerStringTags(v, creg, reg.Match)
						return nil
					},
					Validate: validateStringWith(reg.Match),
					Generate: generateString,
				},
			})
			return nil
		},
	})
}

func validateSet(v *validator.Validator, cmd *ast.Node) error {
	if len(cmd.Args) != 2 || cmd.Args[0].Type != ast.ArgString || cmd.Args[1].Type != ast.ArgString {
		return fmt.Errorf("set: expected a variable name and a value")
	}
	if !isValidVariableName(cmd.Args[0].Str) {
		return fmt.Errorf("set: %q is not a valid variable name", cmd.Args[0].Str)
	}
	v.ArgumentActivate(cmd.Args[0])
	v.ArgumentActivate(cmd.Args[1])
	return nil
}

func generateSet(g validator.Generator, cmd *ast.Node) error {
	s := setData(cmd)
	g.EmitExtOpcode("variables", opSet)
	g.EmitByte(byte(s.mod))
	g.EmitString(cmd.Args[0].Str)
	g.EmitString(cmd.Args[1].Str)
	return nil
}

func runSet(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	mod, ok := cur.ReadU8(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("set: truncated modifier")
	}
	name, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("set: truncated variable name")
	}
	value, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("set: truncated value")
	}
	data := ctx.Data()
	value = interp.ExpandVariables(data, value)
	value = applyModifier(setModifier(mod), value)
	if data.Variables == nil {
		data.Variables = make(map[string]string)
	}
	data.Variables[strings.ToLower(name)] = value
	return interp.StatusOK, nil
}

func applyModifier(mod setModifier, value string) string {
	switch mod {
	case modLower:
		return strings.ToLower(value)
	case modUpper:
		return strings.ToUpper(value)
	case modLowerFirst:
		if value == "" {
			return value
		}
		return strings.ToLower(value[:1]) + value[1:]
	case modUpperFirst:
		if value == "" {
			return value
		}
		return strings.ToUpper(value[:1]) + value[1:]
	case modQuoteWildcard:
		var b strings.Builder
		for _, c := range value {
			if c == '*' || c == '?' || c == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(c)
		}
		return b.String()
	case modLength:
		return strconv.Itoa(len(value))
	default:
		return value
	}
}

// stringTestState is "string"'s own comparator/match-type state, kept
// separate from core's keyMatchState since "string" lives in this
// package, not core.
type stringTestState struct {
	comparator *match.Comparator
	matchType  *match.MatchType
	relational match.Relational
}

func stringTestData(cmd *ast.Node) *stringTestState {
	s, ok := cmd.Data.(*stringTestState)
	if !ok {
		s = &stringTestState{}
		cmd.Data = s
	}
	return s
}

// registerStringTags links the shared [COMPARATOR] [MATCH-TYPE] prefix
// onto "string", storing the chosen objects on stringTestState rather than
// core's keyMatchState.
func registerStringTags(v *validator.Validator, reg *validator.CommandRegistration, matchReg *match.Registry) {
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
			stringTestData(cmd).comparator = cmp
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
				stringTestData(cmd).matchType = mt
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
			s := stringTestData(cmd)
			s.matchType = mt
			s.relational = rel
			*arg = args[2:]
			return nil
		},
	}, 0)
}

func validateStringWith(matchReg *match.Registry) func(*validator.Validator, *ast.Node) error {
	return func(v *validator.Validator, cmd *ast.Node) error {
		if len(cmd.Args) != 2 {
			return fmt.Errorf("string: expected source and key-list arguments")
		}
		ok1 := v.ValidatePositionalArgument(cmd, cmd.Args[0], "source", 0, ast.ArgStringList)
		ok2 := v.ValidatePositionalArgument(cmd, cmd.Args[1], "key-list", 1, ast.ArgStringList)
		if !ok1 || !ok2 {
			return fmt.Errorf("string: invalid arguments")
		}
		s := stringTestData(cmd)
		if s.comparator == nil {
			s.comparator, _ = matchReg.Comparator(match.DefaultComparator)
		}
		if s.matchType == nil {
			s.matchType, _ = matchReg.MatchType(match.MatchIs)
		}
		v.ArgumentActivate(cmd.Args[0])
		v.ArgumentActivate(cmd.Args[1])
		return nil
	}
}

func generateString(g validator.Generator, cmd *ast.Node) error {
	s := cmd.Data.(*stringTestState)
	g.EmitExtOpcode("variables", opString)
	g.EmitObject(s.matchType.Object)
	g.EmitObject(s.comparator.Object)
	g.EmitString(string(s.relational))
	g.EmitStringList(core2List(cmd.Args[0]))
	g.EmitStringList(core2List(cmd.Args[1]))
	return nil
}

func runStringTest(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	data := ctx.Data()
	mtObj, ok := cur.ReadObject(addr, data.Registry.Objects, sobj.ClassMatchType)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("string: truncated match-type operand")
	}
	cmpObj, ok := cur.ReadObject(addr, data.Registry.Objects, sobj.ClassComparator)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("string: truncated comparator operand")
	}
	relStr, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("string: truncated relational operand")
	}
	source, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("string: truncated source list")
	}
	keys, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("string: truncated key list")
	}

	cmp, ok := data.Registry.Match.Comparator(cmpObj.Identifier)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("string: unknown comparator %q", cmpObj.Identifier)
	}
	mt, ok := data.Registry.Match.MatchType(mtObj.Identifier)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("string: unknown match-type %q", mtObj.Identifier)
	}
	var rel match.Relational
	if relStr != "" {
		r, err := match.ParseRelational(relStr)
		if err != nil {
			return interp.StatusBinaryCorrupt, err
		}
		rel = r
	}

	source = interp.ExpandVariablesList(data, source)
	keys = interp.ExpandVariablesList(data, keys)

	ok, err := dateEvalContext(cmp, mt, rel, keys, source)
	if err != nil {
		return interp.StatusTempFailure, err
	}
	ctx.Push(ok)
	return interp.StatusOK, nil
}
