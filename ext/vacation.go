// Package ext implements the optional extensions a script may `require`:
// vacation (RFC 5230), imap4flags (RFC 5232), duplicate, editheader
// (RFC 5293), date/currentdate (RFC 5260), mailbox, and the address-part/
// match-type extensions already wired into package match (subaddress,
// relational, regex). Each file registers itself into an extreg.Registry
// via Register and into package interp's runtime opcode table via
// interp.RegisterOp, called from this package's init functions.
package ext

import (
	"fmt"
	"strings"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/result"
	"github.com/foxcpp/go-sieve/validator"
	"lukechampine.com/blake3"
)

const vacationOp = 0

func init() {
	interp.RegisterOp("vacation", vacationOp, runVacation)
}

// registerVacation links the vacation command's validator/generator hooks
// into reg; called from Register for every extreg.Registry.
func registerVacation(reg *extreg.Registry) {
	reg.Register(&extreg.Extension{
		Name: "vacation",
		ValidatorLoad: func(v *validator.Validator) error {
			v.RegisterCommand(&validator.Command{
				Name: "vacation", Kind: validator.KindCommand, PositionalArity: 1,
				Hooks: validator.Hooks{
					Registered: func(v *validator.Validator, creg *validator.CommandRegistration) error {
						registerVacationTags(v, creg)
						return nil
					},
					Validate:   validateVacation,
					Generate:   generateVacation,
				},
			})
			return nil
		},
	})
}

type vacationState struct {
	days      int64
	subject   string
	from      string
	addresses []string
	mime      bool
	handle    string
	hasHandle bool
}

func vacData(cmd *ast.Node) *vacationState {
	vs, ok := cmd.Data.(*vacationState)
	if !ok {
		vs = &vacationState{days: 7}
		cmd.Data = vs
	}
	return vs
}

func registerVacationTags(v *validator.Validator, reg *validator.CommandRegistration) {
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "days",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgNumber {
				return fmt.Errorf(":days requires a numeric argument")
			}
			days := args[1].Num
			if days < 1 {
				v.Warning(args[1].Pos, "vacation: :days 0 is clamped to 1 (RFC 5230 permits 0)")
				days = 1
			}
			vacData(cmd).days = days
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "subject",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":subject requires a string argument")
			}
			vacData(cmd).subject = args[1].Str
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "from",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":from requires a string argument")
			}
			vacData(cmd).from = args[1].Str
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "addresses",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 {
				return fmt.Errorf(":addresses requires a string-list argument")
			}
			vacData(cmd).addresses = core2List(args[1])
			*arg = args[2:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "mime",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			vacData(cmd).mime = true
			*arg = (*arg)[1:]
			return nil
		},
	}, 0)
	v.RegisterTag(reg, &validator.TagArgument{
		Identifier: "handle",
		Validate: func(v *validator.Validator, arg *[]*ast.Argument, cmd *ast.Node) error {
			args := *arg
			if len(args) < 2 || args[1].Type != ast.ArgString {
				return fmt.Errorf(":handle requires a string argument")
			}
			vs := vacData(cmd)
			vs.handle = args[1].Str
			vs.hasHandle = true
			*arg = args[2:]
			return nil
		},
	}, 0)
}

func core2List(arg *ast.Argument) []string {
	if arg.Type == ast.ArgString {
		return []string{arg.Str}
	}
	return arg.List
}

func validateVacation(v *validator.Validator, cmd *ast.Node) error {
	if len(cmd.Args) != 1 || cmd.Args[0].Type != ast.ArgString {
		return fmt.Errorf("vacation: expected a reason string argument")
	}
	v.ArgumentActivate(cmd.Args[0])
	return nil
}

// autoHandle mirrors cmd-vacation.c's _handle_empty_subject/_handle_empty_from/
// _handle_mime_enabled/_handle_mime_disabled sentinel construction: when the
// script gives no explicit :handle, one is synthesized from whichever other
// tags were given, so two vacation calls with identical effective content
// share a duplicate-suppression handle even without an explicit one.
func autoHandle(vs *vacationState) string {
	if vs.hasHandle {
		return vs.handle
	}
	var b strings.Builder
	b.WriteString("implicit")
	if vs.subject == "" {
		b.WriteString(":empty-subject")
	} else {
		b.WriteString(":subject=" + vs.subject)
	}
	if vs.from == "" {
		b.WriteString(":empty-from")
	} else {
		b.WriteString(":from=" + vs.from)
	}
	if vs.mime {
		b.WriteString(":mime-enabled")
	} else {
		b.WriteString(":mime-disabled")
	}
	return b.String()
}

func generateVacation(g validator.Generator, cmd *ast.Node) error {
	vs := vacData(cmd)
	g.EmitExtOpcode("vacation", vacationOp)
	g.EmitPackedInt(vs.days)
	g.EmitString(vs.subject)
	g.EmitString(vs.from)
	g.EmitStringList(vs.addresses)
	if vs.mime {
		g.EmitByte(1)
	} else {
		g.EmitByte(0)
	}
	g.EmitString(autoHandle(vs))
	g.EmitString(cmd.Args[0].Str)
	return nil
}

func runVacation(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	days, ok := cur.ReadPackedInt(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("vacation: truncated :days")
	}
	if days < 1 {
		days = 1
	}
	subject, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("vacation: truncated :subject")
	}
	from, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("vacation: truncated :from")
	}
	addresses, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("vacation: truncated :addresses")
	}
	mimeByte, ok := cur.ReadU8(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("vacation: truncated :mime")
	}
	handle, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("vacation: truncated :handle")
	}
	reason, ok := cur.ReadString(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("vacation: truncated reason")
	}

	data := ctx.Data()
	if suppressed(data) {
		return interp.StatusOK, nil
	}

	own := from
	if own == "" {
		own = data.Env.To()
	}
	for _, a := range append([]string{own}, addresses...) {
		if strings.EqualFold(data.Env.From(), a) {
			return interp.StatusOK, nil
		}
	}
	key := duplicateKey(data.Env.From(), handle)
	if store, ok := data.Policy.(DuplicateStore); ok {
		seen, err := store.Seen(key)
		if err != nil {
			return interp.StatusTempFailure, err
		}
		if seen {
			return interp.StatusOK, nil
		}
	}

	action := &VacationAction{
		Days:      days,
		Subject:   subject,
		From:      from,
		Addresses: addresses,
		MIME:      mimeByte != 0,
		Reason:    reason,
		DupeKey:   key,
		To:        data.Env.From(),
	}
	if err := data.Result.Add(action); err != nil {
		return interp.StatusTempFailure, err
	}
	return interp.StatusOK, nil
}

// suppressed implements cmd-vacation.c's act_vacation_commit suppression
// chain: never auto-reply to an empty envelope sender, a mailing list, an
// Auto-Submitted message, bulk/junk/list Precedence, or common system
// addresses.
func suppressed(data *interp.RuntimeData) bool {
	sender := data.Env.From()
	if sender == "" {
		return true
	}
	lower := strings.ToLower(sender)
	for _, prefix := range []string{"mailer-daemon", "listserv", "majordomo", "owner-"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	if strings.Contains(lower, "-request@") {
		return true
	}
	for _, h := range []string{"list-id", "list-owner", "list-subscribe", "list-post", "list-unsubscribe", "list-help", "list-archive"} {
		if _, ok := data.Message.HeaderValues(h); ok {
			return true
		}
	}
	if _, ok := data.Message.HeaderValues("auto-submitted"); ok {
		return true
	}
	if vals, ok := data.Message.HeaderValues("precedence"); ok {
		for _, v := range vals {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "bulk" || v == "junk" || v == "list" {
				return true
			}
		}
	}
	return false
}

func duplicateKey(returnPath, handle string) string {
	sum := blake3.Sum256([]byte(returnPath + "\x00" + handle))
	return fmt.Sprintf("vacation:%x", sum[:])
}

// DuplicateStore is the optional capability a Policy implements to persist
// vacation/duplicate handles across runs; without it every run behaves as
// if nothing has ever been seen before.
type DuplicateStore interface {
	Seen(key string) (bool, error)
	Mark(key string) error
}

// VacationAction is the queued effect of a `vacation` command: an
// auto-reply to the envelope sender. It conflicts with any other action
// that also sends a response to the network (RFC 5230 forbids more than
// one auto-reply per message) and is deduplicated by its handle.
type VacationAction struct {
	Days      int64
	Subject   string
	From      string
	Addresses []string
	MIME      bool
	Reason    string
	DupeKey   string
	To        string
}

func (a *VacationAction) Name() string { return "vacation" }

func (a *VacationAction) CheckDuplicate(other result.Action) bool {
	o, ok := other.(*VacationAction)
	return ok && o.DupeKey == a.DupeKey
}

func (a *VacationAction) CheckConflict(other result.Action) (string, bool) {
	if _, ok := other.(*VacationAction); ok {
		return "a message may only trigger one vacation auto-reply", true
	}
	return "", false
}

func (a *VacationAction) Execute(policy interface{}) error {
	sender, ok := policy.(VacationSender)
	if !ok {
		return nil
	}
	if err := sender.SendVacationResponse(a.To, a.Subject, a.Reason, a.MIME); err != nil {
		return err
	}
	return nil
}

func (a *VacationAction) Finish(policy interface{}, outcome error) {
	if outcome != nil {
		return
	}
	if store, ok := policy.(DuplicateStore); ok {
		_ = store.Mark(a.DupeKey)
	}
}

func (a *VacationAction) SuppressesImplicitKeep() bool { return false }

// VacationSender is the capability a Policy implements to actually send
// the auto-reply; without it VacationAction.Execute is a no-op (useful for
// dry-run/test policies).
type VacationSender interface {
	SendVacationResponse(to, subject, reason string, mime bool) error
}
