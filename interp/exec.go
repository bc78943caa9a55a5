package interp

import (
	"fmt"
	"strings"

	"github.com/foxcpp/go-sieve/match"
	"github.com/foxcpp/go-sieve/sobj"
)

// ImplicitFlagsVar is the imap4flags extension's unnamed flag-variable
// name (RFC 5232 §3): setflag/addflag/removeflag with no explicit
// variable name read and write this key in RuntimeData.Variables, and
// keep/fileinto fall back to it when given no :flags tag of their own.
const ImplicitFlagsVar = "__internal_flags"

func evalContext(cmp *match.Comparator, mt *match.MatchType, rel match.Relational, keys []string, values []string) (bool, error) {
	ctx := match.NewContext(cmp, mt, keys, rel)
	for _, v := range values {
		ok, err := ctx.Feed(v)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return ctx.Finalize()
}

// execAddress implements both ADDRESS and ENVELOPE, which share an operand
// layout (header/part names, address-part, match-type, comparator,
// relational, keys) - ENVELOPE just reads "from"/"to" off the envelope
// instead of message headers.
func (m *vm) execAddress(addr *int, envelope bool) error {
	names, ok := m.cur.ReadStringList(addr)
	if !ok {
		return fmt.Errorf("interp: truncated header/part list at %s", m.cur.String(*addr))
	}
	apObj, ok := m.cur.ReadObject(addr, m.data.Registry.Objects, sobj.ClassAddressPart)
	if !ok {
		return fmt.Errorf("interp: truncated address-part operand at %s", m.cur.String(*addr))
	}
	mtObj, ok := m.cur.ReadObject(addr, m.data.Registry.Objects, sobj.ClassMatchType)
	if !ok {
		return fmt.Errorf("interp: truncated match-type operand at %s", m.cur.String(*addr))
	}
	cmpObj, ok := m.cur.ReadObject(addr, m.data.Registry.Objects, sobj.ClassComparator)
	if !ok {
		return fmt.Errorf("interp: truncated comparator operand at %s", m.cur.String(*addr))
	}
	relStr, ok := m.cur.ReadString(addr)
	if !ok {
		return fmt.Errorf("interp: truncated relational operand at %s", m.cur.String(*addr))
	}
	keys, ok := m.cur.ReadStringList(addr)
	if !ok {
		return fmt.Errorf("interp: truncated key list at %s", m.cur.String(*addr))
	}
	keys = ExpandVariablesList(m.data, keys)

	ap, ok := m.data.Registry.Match.AddressPart(apObj.Identifier)
	if !ok {
		return fmt.Errorf("interp: unknown address-part %q", apObj.Identifier)
	}
	cmp, ok := m.data.Registry.Match.Comparator(cmpObj.Identifier)
	if !ok {
		return fmt.Errorf("interp: unknown comparator %q", cmpObj.Identifier)
	}
	mt, ok := m.data.Registry.Match.MatchType(mtObj.Identifier)
	if !ok {
		return fmt.Errorf("interp: unknown match-type %q", mtObj.Identifier)
	}
	var rel match.Relational
	if relStr != "" {
		r, err := match.ParseRelational(relStr)
		if err != nil {
			return err
		}
		rel = r
	}

	var raws []string
	if envelope {
		for _, part := range names {
			switch part {
			case "from":
				raws = append(raws, m.data.Env.From())
			case "to":
				raws = append(raws, m.data.Env.To())
			case "auth":
				raws = append(raws, m.data.Env.Auth())
			}
		}
	} else {
		for _, header := range names {
			values, _ := m.data.Message.HeaderValues(header)
			for _, v := range values {
				raws = append(raws, match.SplitAddressHeader(v)...)
			}
		}
	}

	values := make([]string, len(raws))
	for i, raw := range raws {
		values[i] = ap.Extract(raw)
	}

	ok, err := evalContext(cmp, mt, rel, keys, values)
	if err != nil {
		return err
	}
	m.push(ok)
	return nil
}

func (m *vm) execHeader(addr *int) error {
	names, ok := m.cur.ReadStringList(addr)
	if !ok {
		return fmt.Errorf("interp: truncated header list at %s", m.cur.String(*addr))
	}
	mtObj, ok := m.cur.ReadObject(addr, m.data.Registry.Objects, sobj.ClassMatchType)
	if !ok {
		return fmt.Errorf("interp: truncated match-type operand at %s", m.cur.String(*addr))
	}
	cmpObj, ok := m.cur.ReadObject(addr, m.data.Registry.Objects, sobj.ClassComparator)
	if !ok {
		return fmt.Errorf("interp: truncated comparator operand at %s", m.cur.String(*addr))
	}
	relStr, ok := m.cur.ReadString(addr)
	if !ok {
		return fmt.Errorf("interp: truncated relational operand at %s", m.cur.String(*addr))
	}
	keys, ok := m.cur.ReadStringList(addr)
	if !ok {
		return fmt.Errorf("interp: truncated key list at %s", m.cur.String(*addr))
	}
	keys = ExpandVariablesList(m.data, keys)

	cmp, ok := m.data.Registry.Match.Comparator(cmpObj.Identifier)
	if !ok {
		return fmt.Errorf("interp: unknown comparator %q", cmpObj.Identifier)
	}
	mt, ok := m.data.Registry.Match.MatchType(mtObj.Identifier)
	if !ok {
		return fmt.Errorf("interp: unknown match-type %q", mtObj.Identifier)
	}
	var rel match.Relational
	if relStr != "" {
		r, err := match.ParseRelational(relStr)
		if err != nil {
			return err
		}
		rel = r
	}

	var values []string
	for _, header := range names {
		v, _ := m.data.Message.HeaderValues(header)
		values = append(values, v...)
	}

	ok, err := evalContext(cmp, mt, rel, keys, values)
	if err != nil {
		return err
	}
	m.push(ok)
	return nil
}

func (m *vm) execExists(addr *int) error {
	names, ok := m.cur.ReadStringList(addr)
	if !ok {
		return fmt.Errorf("interp: truncated header list at %s", m.cur.String(*addr))
	}
	for _, name := range names {
		if _, ok := m.data.Message.HeaderValues(name); !ok {
			m.push(false)
			return nil
		}
	}
	m.push(true)
	return nil
}

func (m *vm) execSize(addr *int) error {
	over, ok := m.cur.ReadU8(addr)
	if !ok {
		return fmt.Errorf("interp: truncated size operand at %s", m.cur.String(*addr))
	}
	limit, ok := m.cur.ReadPackedInt(addr)
	if !ok {
		return fmt.Errorf("interp: truncated size limit at %s", m.cur.String(*addr))
	}
	size := m.data.Message.Size()
	if over != 0 {
		m.push(size > limit)
	} else {
		m.push(size < limit)
	}
	return nil
}

func (m *vm) execKeep(addr *int) error {
	flags, ok := m.cur.ReadStringList(addr)
	if !ok {
		return fmt.Errorf("interp: truncated flags list at %s", m.cur.String(*addr))
	}
	flags = resolveFlags(m.data, ExpandVariablesList(m.data, flags))
	return m.data.Result.Add(&KeepAction{Flags: flags})
}

func (m *vm) execFileInto(addr *int) error {
	flags, ok := m.cur.ReadStringList(addr)
	if !ok {
		return fmt.Errorf("interp: truncated flags list at %s", m.cur.String(*addr))
	}
	copyFlag, ok := m.cur.ReadU8(addr)
	if !ok {
		return fmt.Errorf("interp: truncated copy flag at %s", m.cur.String(*addr))
	}
	create, ok := m.cur.ReadU8(addr)
	if !ok {
		return fmt.Errorf("interp: truncated create flag at %s", m.cur.String(*addr))
	}
	mailbox, ok := m.cur.ReadString(addr)
	if !ok {
		return fmt.Errorf("interp: truncated mailbox name at %s", m.cur.String(*addr))
	}
	mailbox = ExpandVariables(m.data, mailbox)
	if create != 0 {
		if creator, ok := m.data.Policy.(MailboxCreator); ok {
			if err := creator.CreateMailbox(mailbox); err != nil {
				return fmt.Errorf("fileinto :create %q: %w", mailbox, err)
			}
		}
	}
	flags = resolveFlags(m.data, ExpandVariablesList(m.data, flags))
	return m.data.Result.Add(&FileIntoAction{Mailbox: mailbox, Flags: flags, Copy: copyFlag != 0})
}

// resolveFlags is keep/fileinto's shared flags resolution: an explicit
// :flags tag's list wins; with none given, it falls back to whatever
// setflag/addflag/removeflag left in the implicit flags variable (RFC
// 5232 §3's "the variable is used automatically" rule), and every flag
// keyword is folded to lowercase so hasflag/comparisons stay
// case-insensitive without every caller having to remember to fold.
func resolveFlags(data *RuntimeData, flags []string) []string {
	if len(flags) == 0 {
		if s := data.Variables[ImplicitFlagsVar]; s != "" {
			flags = strings.Fields(s)
		}
	}
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = strings.ToLower(f)
	}
	return out
}

func (m *vm) execRedirect(addr *int) error {
	copyFlag, ok := m.cur.ReadU8(addr)
	if !ok {
		return fmt.Errorf("interp: truncated copy flag at %s", m.cur.String(*addr))
	}
	address, ok := m.cur.ReadString(addr)
	if !ok {
		return fmt.Errorf("interp: truncated address at %s", m.cur.String(*addr))
	}
	address = ExpandVariables(m.data, address)
	return m.data.Result.Add(&RedirectAction{Address: address, Copy: copyFlag != 0})
}

// MailboxChecker and MailboxCreator are optional capabilities a Policy may
// implement; fileinto's :create tag only has an effect if the policy
// implements the latter, mirroring the teacher's optional-interface
// pattern for host-provided mailbox operations.
type MailboxChecker interface {
	MailboxExists(name string) (bool, error)
}

type MailboxCreator interface {
	CreateMailbox(name string) error
}
