package ext

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/sbinary"
	"github.com/foxcpp/go-sieve/sobj"
	"github.com/foxcpp/go-sieve/validator"
)

const (
	opDate        = 0
	opCurrentDate = 1
)

func init() {
	interp.RegisterOp("date", opDate, runDateTest)
	interp.RegisterOp("date", opCurrentDate, runCurrentDateTest)
}

var validDateParts = map[string]bool{
	"year": true, "month": true, "day": true, "date": true, "julian": true,
	"hour": true, "minute": true, "second": true, "time": true,
	"iso8601": true, "std11": true, "zone": true, "weekday": true,
}

// registerDate wires the date/currentdate tests (RFC 5260).
func registerDate(reg *extreg.Registry) {
	reg.Register(&extreg.Extension{
		Name: "date",
		ValidatorLoad: func(v *validator.Validator) error {
			v.RegisterCommand(&validator.Command{
				Name: "date", Kind: validator.KindTest,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						registerDateTags(v, creg, reg.Match, true)
						return nil
					},
					Validate: validateDate,
					Generate: generateDate,
				},
			})
			v.RegisterCommand(&validator.Command{
				Name: "currentdate", Kind: validator.KindTest,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						registerDateTags(v, creg, reg.Match, false)
						return nil
					},
					Validate: validateCurrentDate,
					Generate: generateCurrentDate,
				},
			})
			return nil
		},
	})
}

type dateState struct {
	zone         string
	originalZone bool
	index        int64
	last         bool
	comparator   *match.Comparator
	matchType    *match.MatchType
	relational   match.Relational
}

func dateData(cmd *ast.Node, matchReg *match.Registry) *dateState {
	ds, ok := cmd.Data.(*dateState)
	if !ok {
		cmp, _ := matchReg.Comparator(match.DefaultComparator)
		mt, _ := matchReg.MatchType(match.MatchIs)
		ds = &dateState{comparator: cmp, matchType: mt}
		cmd.Data = ds
	}
	return ds
}

func registerDateTags(v *validator.Validator, reg *validator.CommandRegistration, matchReg *match.Registry, withZone bool) {
	if withZone {
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: "zone",
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				args := *arg
				if len(args) < 2 || args[1].Type != ast.ArgString {
					return fmt.Errorf(":zone requires a string argument")
				}
				dateData(cmd, matchReg).zone = args[1].Str
				*arg = args[2:]
				return nil
			},
		}, 0)
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: "originalzone",
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				dateData(cmd, matchReg).originalZone = true
				*arg = (*arg)[1:]
				return nil
			},
		}, 0)
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: "index",
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				args := *arg
				if len(args) < 2 || args[1].Type != ast.ArgNumber {
					return fmt.Errorf(":index requires a numeric argument")
				}
				dateData(cmd, matchReg).index = args[1].Num
				*arg = args[2:]
				return nil
			},
		}, 0)
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: "last",
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				dateData(cmd, matchReg).last = true
				*arg = (*arg)[1:]
				return nil
			},
		}, 0)
	} else {
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: "zone",
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				args := *arg
				if len(args) < 2 || args[1].Type != ast.ArgString {
					return fmt.Errorf(":zone requires a string argument")
				}
				dateData(cmd, matchReg).zone = args[1].Str
				*arg = args[2:]
				return nil
			},
		}, 0)
	}
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
			dateData(cmd, matchReg).comparator = cmp
			*arg = args[2:]
			return nil
		},
	}, 0)
	for _, name := range []string{match.MatchIs, match.MatchContains, match.MatchMatches, match.MatchRegex} {
		name := name
		v.RegisterTag(reg, &validator.TagArgument{
			Identifier: name,
			Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
				mt, _ := matchReg.MatchType(name)
				dateData(cmd, matchReg).matchType = mt
				*arg = (*arg)[1:]
				return nil
			},
		}, 0)
	}
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "value",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":value requires a relational-match string argument")
			}
			rel, err := match.ParseRelational(args[1].Str)
			if err != nil {
				return err
			}
			mt, _ := matchReg.MatchType(match.MatchValue)
			ds := dateData(cmd, matchReg)
			ds.matchType = mt
			ds.relational = rel
			*arg = args[2:]
			return nil
		},
	}, 0)
}

func validateDate(v *validator.Validator, cmd *ast.Node) error {
	if len(cmd.Args) != 3 {
		return fmt.Errorf("date: expected header-name, date-part, and key-list arguments")
	}
	if cmd.Args[0].Type != ast.ArgString || cmd.Args[1].Type != ast.ArgString {
		return fmt.Errorf("date: header-name and date-part must be strings")
	}
	if !validDateParts[strings.ToLower(cmd.Args[1].Str)] {
		return fmt.Errorf("date: invalid date-part %q", cmd.Args[1].Str)
	}
	for _, a := range cmd.Args {
		v.ArgumentActivate(a)
	}
	return nil
}

func validateCurrentDate(v *validator.Validator, cmd *ast.Node) error {
	if len(cmd.Args) != 2 {
		return fmt.Errorf("currentdate: expected date-part and key-list arguments")
	}
	if cmd.Args[0].Type != ast.ArgString {
		return fmt.Errorf("currentdate: date-part must be a string")
	}
	if !validDateParts[strings.ToLower(cmd.Args[0].Str)] {
		return fmt.Errorf("currentdate: invalid date-part %q", cmd.Args[0].Str)
	}
	for _, a := range cmd.Args {
		v.ArgumentActivate(a)
	}
	return nil
}

func emitDateTail(g validator.Generator, ds *dateState) {
	g.EmitString(ds.zone)
	if ds.originalZone {
		g.EmitByte(1)
	} else {
		g.EmitByte(0)
	}
	g.EmitPackedInt(ds.index)
	if ds.last {
		g.EmitByte(1)
	} else {
		g.EmitByte(0)
	}
	g.EmitObject(ds.matchType.Object)
	g.EmitObject(ds.comparator.Object)
	g.EmitString(string(ds.relational))
}

func generateDate(g validator.Generator, cmd *ast.Node) error {
	ds := cmd.Data.(*dateState)
	g.EmitExtOpcode("date", opDate)
	g.EmitString(cmd.Args[0].Str)
	g.EmitString(strings.ToLower(cmd.Args[1].Str))
	emitDateTail(g, ds)
	g.EmitStringList(core2List(cmd.Args[2]))
	return nil
}

func generateCurrentDate(g validator.Generator, cmd *ast.Node) error {
	ds := cmd.Data.(*dateState)
	g.EmitExtOpcode("date", opCurrentDate)
	g.EmitString(strings.ToLower(cmd.Args[0].Str))
	emitDateTail(g, ds)
	g.EmitStringList(core2List(cmd.Args[1]))
	return nil
}

// dateTail is the zone/index/matcher operand block shared by date's and
// currentdate's encodings, read back in the same order emitDateTail writes.
type dateTail struct {
	zone       string
	origZone   bool
	index      int64
	last       bool
	matchType  *match.MatchType
	comparator *match.Comparator
	relational match.Relational
}

func readDateTail(data *interp.RuntimeData, cur *sbinary.Cursor, addr *int) (*dateTail, bool) {
	zone, ok := cur.ReadString(addr)
	if !ok {
		return nil, false
	}
	origZoneByte, ok := cur.ReadU8(addr)
	if !ok {
		return nil, false
	}
	index, ok := cur.ReadPackedInt(addr)
	if !ok {
		return nil, false
	}
	lastByte, ok := cur.ReadU8(addr)
	if !ok {
		return nil, false
	}
	mtObj, ok := cur.ReadObject(addr, data.Registry.Objects, sobj.ClassMatchType)
	if !ok {
		return nil, false
	}
	cmpObj, ok := cur.ReadObject(addr, data.Registry.Objects, sobj.ClassComparator)
	if !ok {
		return nil, false
	}
	relStr, ok := cur.ReadString(addr)
	if !ok {
		return nil, false
	}
	mt, ok := data.Registry.Match.MatchType(mtObj.Identifier)
	if !ok {
		return nil, false
	}
	cmp, ok := data.Registry.Match.Comparator(cmpObj.Identifier)
	if !ok {
		return nil, false
	}
	var rel match.Relational
	if relStr != "" {
		r, err := match.ParseRelational(relStr)
		if err != nil {
			return nil, false
		}
		rel = r
	}
	return &dateTail{
		zone: zone, origZone: origZoneByte != 0, index: index, last: lastByte != 0,
		matchType: mt, comparator: cmp, relational: rel,
	}, true
}

func dateEvalContext(cmp *match.Comparator, mt *match.MatchType, rel match.Relational, keys []string, values []string) (bool, error) {
	mctx := match.NewContext(cmp, mt, keys, rel)
	for _, v := range values {
		ok, err := mctx.Feed(v)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return mctx.Finalize()
}

func runDateTest(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	data := ctx.Data()
	header, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("date: truncated header name")
	}
	datePart, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("date: truncated date-part")
	}
	tail, ok := readDateTail(data, cur, addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("date: truncated tail")
	}
	keys, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("date: truncated keys")
	}

	values, _ := data.Message.HeaderValues(header)

	idx := 0
	if tail.index > 0 {
		idx = int(tail.index) - 1
		if tail.last {
			idx = len(values) - int(tail.index)
		}
	}
	if idx < 0 || idx >= len(values) {
		ctx.Push(false)
		return interp.StatusOK, nil
	}
	t, err := parseDateHeader(values[idx])
	if err != nil {
		ctx.Push(false)
		return interp.StatusOK, nil
	}
	t = applyDateZone(t, tail.zone, tail.origZone)
	partValue, err := extractDatePart(t, datePart)
	if err != nil {
		return interp.StatusBinaryCorrupt, err
	}
	matched, err := dateEvalContext(tail.comparator, tail.matchType, tail.relational, keys, []string{partValue})
	if err != nil {
		return interp.StatusTempFailure, err
	}
	ctx.Push(matched)
	return interp.StatusOK, nil
}

func runCurrentDateTest(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	data := ctx.Data()
	datePart, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("currentdate: truncated date-part")
	}
	tail, ok := readDateTail(data, cur, addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("currentdate: truncated tail")
	}
	keys, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("currentdate: truncated keys")
	}

	t := time.Now()
	if tail.zone != "" {
		if off, err := parseZoneOffset(tail.zone); err == nil {
			t = t.In(time.FixedZone("", off))
		}
	}
	partValue, err := extractDatePart(t, datePart)
	if err != nil {
		return interp.StatusBinaryCorrupt, err
	}
	matched, err := dateEvalContext(tail.comparator, tail.matchType, tail.relational, keys, []string{partValue})
	if err != nil {
		return interp.StatusTempFailure, err
	}
	ctx.Push(matched)
	return interp.StatusOK, nil
}

func applyDateZone(t time.Time, zone string, original bool) time.Time {
	if original {
		return t
	}
	if zone != "" {
		if off, err := parseZoneOffset(zone); err == nil {
			return t.In(time.FixedZone("", off))
		}
	}
	return t.Local()
}

// parseDateHeader accepts RFC 5322 dates (and a handful of legacy variants
// mail clients still emit) the way the original date test does.
func parseDateHeader(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t, nil
	}
	formats := []string{
		time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822,
		time.RFC3339, time.RFC3339Nano,
		"Mon, 2 Jan 2006 15:04:05 -0700", "Mon, 2 Jan 2006 15:04:05 MST",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", value)
}

func parseZoneOffset(zone string) (int, error) {
	if len(zone) != 5 {
		return 0, fmt.Errorf("invalid zone format: %s", zone)
	}
	sign := 1
	if zone[0] == '-' {
		sign = -1
	} else if zone[0] != '+' {
		return 0, fmt.Errorf("invalid zone format: %s", zone)
	}
	hours, err := strconv.Atoi(zone[1:3])
	if err != nil {
		return 0, fmt.Errorf("invalid zone hours: %s", zone)
	}
	minutes, err := strconv.Atoi(zone[3:5])
	if err != nil {
		return 0, fmt.Errorf("invalid zone minutes: %s", zone)
	}
	return sign * (hours*3600 + minutes*60), nil
}

// extractDatePart mirrors RFC 5260 Section 5's date-part table.
func extractDatePart(t time.Time, part string) (string, error) {
	switch part {
	case "year":
		return strconv.Itoa(t.Year()), nil
	case "month":
		return fmt.Sprintf("%02d", int(t.Month())), nil
	case "day":
		return fmt.Sprintf("%02d", t.Day()), nil
	case "date":
		return t.Format("2006-01-02"), nil
	case "julian":
		return strconv.Itoa(modifiedJulianDay(t)), nil
	case "hour":
		return fmt.Sprintf("%02d", t.Hour()), nil
	case "minute":
		return fmt.Sprintf("%02d", t.Minute()), nil
	case "second":
		return fmt.Sprintf("%02d", t.Second()), nil
	case "time":
		return t.Format("15:04:05"), nil
	case "iso8601":
		return t.Format("2006-01-02T15:04:05-07:00"), nil
	case "std11":
		return t.Format(time.RFC1123Z), nil
	case "zone":
		return t.Format("-0700"), nil
	case "weekday":
		return strconv.Itoa(int(t.Weekday())), nil
	default:
		return "", fmt.Errorf("unknown date-part: %s", part)
	}
}

func modifiedJulianDay(t time.Time) int {
	year, month, day := t.Year(), int(t.Month()), t.Day()
	a := (14 - month) / 12
	y := year + 4800 - a
	m := month + 12*a - 3
	jdn := day + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045
	return jdn - 2400001
}
