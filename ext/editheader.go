package ext

import (
	"fmt"
	"strings"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/result"
	"github.com/foxcpp/go-sieve/sobj"
	"github.com/foxcpp/go-sieve/validator"
)

const (
	opAddHeader    = 0
	opDeleteHeader = 1
)

func init() {
	interp.RegisterOp("editheader", opAddHeader, runAddHeader)
	interp.RegisterOp("editheader", opDeleteHeader, runDeleteHeader)
}

// protectedHeaders MUST NOT be removed by deleteheader, per RFC 5293 §6.
var protectedHeaders = map[string]bool{
	"received":       true,
	"auto-submitted": true,
}

func isValidHeaderName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 33 || c > 126 || c == ':' {
			return false
		}
	}
	return true
}

// registerEditheader wires addheader/deleteheader (RFC 5293).
func registerEditheader(reg *extreg.Registry) {
	reg.Register(&extreg.Extension{
		Name: "editheader",
		ValidatorLoad: func(v *validator.Validator) error {
			v.RegisterCommand(&validator.Command{
				Name: "addheader", Kind: validator.KindCommand, PositionalArity: -1,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						v.RegisterTag(creg, &validator.TagArgument{
							Identifier: "last",
							Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
								addHeaderData(cmd).last = true
								*arg = (*arg)[1:]
								return nil
							},
						}, 0)
						return nil
					},
					Validate: validateAddHeader,
					Generate: generateAddHeader,
				},
			})
			v.RegisterCommand(&validator.Command{
				Name: "deleteheader", Kind: validator.KindCommand, PositionalArity: -1,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						registerMatchTagsLocal(v, creg, reg.Match)
						v.RegisterTag(creg, &validator.TagArgument{
							Identifier: "index",
							Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
								args := *arg
								if len(args) < 2 || args[1].Type != ast.ArgNumber {
									return fmt.Errorf(":index requires a numeric argument")
								}
								deleteHeaderData(cmd).index = args[1].Num
								*arg = args[2:]
								return nil
							},
						}, 0)
						v.RegisterTag(creg, &validator.TagArgument{
							Identifier: "last",
							Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
								deleteHeaderData(cmd).last = true
								*arg = (*arg)[1:]
								return nil
							},
						}, 0)
						return nil
					},
					Validate: validateDeleteHeaderWith(reg.Match),
					Generate: generateDeleteHeader,
				},
			})
			return nil
		},
	})
}

type addHeaderState struct{ last bool }

func addHeaderData(cmd *ast.Node) *addHeaderState {
	hs, ok := cmd.Data.(*addHeaderState)
	if !ok {
		hs = &addHeaderState{}
		cmd.Data = hs
	}
	return hs
}

type deleteHeaderState struct {
	index      int64
	last       bool
	comparator *match.Comparator
	matchType  *match.MatchType
}

func deleteHeaderData(cmd *ast.Node) *deleteHeaderState {
	hs, ok := cmd.Data.(*deleteHeaderState)
	if !ok {
		hs = &deleteHeaderState{}
		cmd.Data = hs
	}
	return hs
}

// registerMatchTagsLocal mirrors core.registerMatchTags for deleteheader's
// [COMPARATOR] [MATCH-TYPE] prefix, kept local since core's version is
// wired to core's own keyMatchState rather than deleteHeaderState.
func registerMatchTagsLocal(v *validator.Validator, reg *validator.CommandRegistration, matchReg *match.Registry) {
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
			deleteHeaderData(cmd).comparator = cmp
			*arg = args[2:]
			return nil
		},
	}, 0)
	for _, name := range []string{match.MatchIs, match.MatchContains, match.MatchMatches} {
		name := name
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: name,
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				mt, _ := matchReg.MatchType(name)
				deleteHeaderData(cmd).matchType = mt
				*arg = (*arg)[1:]
				return nil
			},
		}, 0)
	}
}

func validateAddHeader(v *validator.Validator, cmd *ast.Node) error {
	if len(cmd.Args) != 2 || cmd.Args[0].Type != ast.ArgString || cmd.Args[1].Type != ast.ArgString {
		return fmt.Errorf("addheader: expected field-name and value string arguments")
	}
	if !isValidHeaderName(cmd.Args[0].Str) {
		return fmt.Errorf("addheader: invalid header field name %q", cmd.Args[0].Str)
	}
	v.ArgumentActivate(cmd.Args[0])
	v.ArgumentActivate(cmd.Args[1])
	return nil
}

func generateAddHeader(g validator.Generator, cmd *ast.Node) error {
	hs := addHeaderData(cmd)
	g.EmitExtOpcode("editheader", opAddHeader)
	g.EmitString(cmd.Args[0].Str)
	g.EmitString(cmd.Args[1].Str)
	if hs.last {
		g.EmitByte(1)
	} else {
		g.EmitByte(0)
	}
	return nil
}

func validateDeleteHeaderWith(matchReg *match.Registry) func(*validator.Validator, *ast.Node) error {
	return func(v *validator.Validator, cmd *ast.Node) error {
		if len(cmd.Args) < 1 || len(cmd.Args) > 2 || cmd.Args[0].Type != ast.ArgString {
			return fmt.Errorf("deleteheader: expected a field-name and optional value-patterns argument")
		}
		hs := deleteHeaderData(cmd)
		if hs.last && hs.index == 0 {
			return fmt.Errorf("deleteheader: :last can only be specified with :index")
		}
		if len(cmd.Args) == 2 {
			if hs.comparator == nil {
				hs.comparator, _ = matchReg.Comparator(match.DefaultComparator)
			}
			if hs.matchType == nil {
				hs.matchType, _ = matchReg.MatchType(match.MatchIs)
			}
		}
		for _, a := range cmd.Args {
			v.ArgumentActivate(a)
		}
		return nil
	}
}

func generateDeleteHeader(g validator.Generator, cmd *ast.Node) error {
	hs := deleteHeaderData(cmd)
	cmp := hs.comparator
	if cmp == nil {
		cmp = &match.Comparator{}
	}
	mt := hs.matchType
	g.EmitExtOpcode("editheader", opDeleteHeader)
	g.EmitString(cmd.Args[0].Str)
	g.EmitPackedInt(hs.index)
	if hs.last {
		g.EmitByte(1)
	} else {
		g.EmitByte(0)
	}
	if mt != nil {
		g.EmitByte(1)
		g.EmitObject(mt.Object)
		g.EmitObject(cmp.Object)
	} else {
		g.EmitByte(0)
	}
	if len(cmd.Args) == 2 {
		g.EmitStringList(core2List(cmd.Args[1]))
	} else {
		g.EmitStringList(nil)
	}
	return nil
}

func runAddHeader(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	fieldName, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("addheader: truncated field name")
	}
	value, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("addheader: truncated value")
	}
	lastByte, ok := cur.ReadU8(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("addheader: truncated :last")
	}
	if !isValidHeaderName(fieldName) {
		return interp.StatusOK, nil
	}
	data := ctx.Data()
	return interp.StatusOK, data.Result.Add(&EditHeaderAction{
		Add: true, FieldName: fieldName, Value: value, Last: lastByte != 0,
	})
}

func runDeleteHeader(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	fieldName, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("deleteheader: truncated field name")
	}
	index, ok := cur.ReadPackedInt(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("deleteheader: truncated :index")
	}
	lastByte, ok := cur.ReadU8(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("deleteheader: truncated :last")
	}
	hasMatch, ok := cur.ReadU8(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("deleteheader: truncated match flag")
	}
	var cmp *match.Comparator
	var mt *match.MatchType
	data := ctx.Data()
	if hasMatch != 0 {
		mtObj, ok := cur.ReadObject(addr, data.Registry.Objects, sobj.ClassMatchType)
		if !ok {
			return interp.StatusBinaryCorrupt, fmt.Errorf("deleteheader: truncated match-type")
		}
		cmpObj, ok := cur.ReadObject(addr, data.Registry.Objects, sobj.ClassComparator)
		if !ok {
			return interp.StatusBinaryCorrupt, fmt.Errorf("deleteheader: truncated comparator")
		}
		mt, _ = data.Registry.Match.MatchType(mtObj.Identifier)
		cmp, _ = data.Registry.Match.Comparator(cmpObj.Identifier)
	}
	patterns, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("deleteheader: truncated value patterns")
	}

	if !isValidHeaderName(fieldName) || protectedHeaders[strings.ToLower(fieldName)] {
		return interp.StatusOK, nil
	}

	if len(patterns) == 0 {
		return interp.StatusOK, data.Result.Add(&EditHeaderAction{
			Add: false, FieldName: fieldName, Index: index, Last: lastByte != 0,
		})
	}

	values, _ := data.Message.HeaderValues(fieldName)
	for i, v := range values {
		occurrence := int64(i + 1)
		if index > 0 && occurrence != indexFor(index, lastByte != 0, len(values)) {
			continue
		}
		matched, err := dateEvalContext(cmp, mt, "", patterns, []string{strings.TrimSpace(v)})
		if err != nil {
			return interp.StatusTempFailure, err
		}
		if matched {
			if err := data.Result.Add(&EditHeaderAction{Add: false, FieldName: fieldName, Value: v}); err != nil {
				return interp.StatusTempFailure, err
			}
		}
	}
	return interp.StatusOK, nil
}

func indexFor(index int64, last bool, total int) int64 {
	if last {
		return int64(total) - index + 1
	}
	return index
}

// EditHeaderAction is a queued addheader/deleteheader effect; it carries no
// implicit-keep semantics and never conflicts, so multiple edits simply
// accumulate in script order (applied by the host's MessageData wrapper).
type EditHeaderAction struct {
	Add       bool
	FieldName string
	Value     string
	Index     int64
	Last      bool
}

func (a *EditHeaderAction) Name() string { return "editheader" }

func (a *EditHeaderAction) CheckDuplicate(result.Action) bool { return false }

func (a *EditHeaderAction) CheckConflict(result.Action) (string, bool) { return "", false }

func (a *EditHeaderAction) Execute(policy interface{}) error {
	editor, ok := policy.(HeaderEditor)
	if !ok {
		return nil
	}
	if a.Add {
		return editor.AddHeader(a.FieldName, a.Value, a.Last)
	}
	return editor.DeleteHeader(a.FieldName, a.Value, a.Index, a.Last)
}

func (a *EditHeaderAction) SuppressesImplicitKeep() bool { return false }

// HeaderEditor is the optional capability a Policy implements to actually
// mutate the outgoing message's headers; without it addheader/deleteheader
// are recorded but have no observable effect, matching how core's Keep
// delivers the message unchanged when nothing suppresses it.
type HeaderEditor interface {
	AddHeader(name, value string, last bool) error
	DeleteHeader(name, value string, index int64, last bool) error
}
