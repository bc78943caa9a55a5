package interp

import (
	"fmt"

	"github.com/foxcpp/go-sieve/result"
)

// FlagStore is the optional capability a Policy implements to receive the
// imap4flags extension's :flags side effect on keep/fileinto, matching
// ext-imapflags.c's ext_imapflags_attach_flags_tag on both commands.
type FlagStore interface {
	SetFlags(mailbox string, flags []string) error
}

// Deliverer is the mailbox-delivery capability keep/fileinto execute
// against.
type Deliverer interface {
	Deliver(mailbox string, flags []string) error
}

// Redirector is the capability redirect executes against.
type Redirector interface {
	Redirect(address string, copyOnly bool) error
}

// KeepAction implicitly-and-explicitly delivers the message to the
// default mailbox ("INBOX"); a second keep in the same run folds into the
// first, keeping the union of any :flags each specified.
type KeepAction struct {
	Flags []string
}

func (a *KeepAction) Name() string { return "keep" }

// CheckDuplicate folds a second keep into the first, merging flags rather
// than letting the later keep silently drop whatever :flags the earlier
// one carried - other is the incoming action that will replace a in the
// result, so the union is written onto other before it takes a's place.
func (a *KeepAction) CheckDuplicate(other result.Action) bool {
	o, ok := other.(*KeepAction)
	if !ok {
		return false
	}
	o.Flags = mergeFlags(a.Flags, o.Flags)
	return true
}

func mergeFlags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, f := range append(append([]string{}, a...), b...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func (a *KeepAction) CheckConflict(result.Action) (string, bool) { return "", false }

func (a *KeepAction) Execute(policy interface{}) error {
	if d, ok := policy.(Deliverer); ok {
		return d.Deliver("INBOX", a.Flags)
	}
	if len(a.Flags) > 0 {
		if fs, ok := policy.(FlagStore); ok {
			if err := fs.SetFlags("INBOX", a.Flags); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *KeepAction) SuppressesImplicitKeep() bool { return false }

// FileIntoAction delivers into a named mailbox, optionally alongside
// (rather than instead of) whatever else the script does, per :copy.
type FileIntoAction struct {
	Mailbox string
	Flags   []string
	Copy    bool
}

func (a *FileIntoAction) Name() string { return fmt.Sprintf("fileinto %q", a.Mailbox) }

func (a *FileIntoAction) CheckDuplicate(other result.Action) bool {
	o, ok := other.(*FileIntoAction)
	if !ok || o.Mailbox != a.Mailbox {
		return false
	}
	o.Flags = mergeFlags(a.Flags, o.Flags)
	return true
}

func (a *FileIntoAction) CheckConflict(result.Action) (string, bool) { return "", false }

func (a *FileIntoAction) Execute(policy interface{}) error {
	if d, ok := policy.(Deliverer); ok {
		return d.Deliver(a.Mailbox, a.Flags)
	}
	if len(a.Flags) > 0 {
		if fs, ok := policy.(FlagStore); ok {
			if err := fs.SetFlags(a.Mailbox, a.Flags); err != nil {
				return err
			}
		}
	}
	return nil
}

// SuppressesImplicitKeep is false for a :copy fileinto, since :copy asks
// for the message to be filed *in addition to* whatever else happens,
// matching RFC 3894's redefinition of fileinto/redirect.
func (a *FileIntoAction) SuppressesImplicitKeep() bool { return !a.Copy }

type RedirectAction struct {
	Address string
	Copy    bool
}

func (a *RedirectAction) Name() string { return fmt.Sprintf("redirect %q", a.Address) }

func (a *RedirectAction) CheckDuplicate(other result.Action) bool {
	o, ok := other.(*RedirectAction)
	return ok && o.Address == a.Address
}

func (a *RedirectAction) CheckConflict(result.Action) (string, bool) { return "", false }

func (a *RedirectAction) Execute(policy interface{}) error {
	if r, ok := policy.(Redirector); ok {
		return r.Redirect(a.Address, a.Copy)
	}
	return nil
}

func (a *RedirectAction) SuppressesImplicitKeep() bool { return !a.Copy }
