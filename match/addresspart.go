package match

import (
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/foxcpp/go-sieve/sobj"
)

const (
	PartAll       = "all"
	PartLocalPart = "localpart"
	PartDomain    = "domain"
	PartUser      = "user"
	PartDetail    = "detail"
)

// AddressPart extracts one slice of an RFC 5322 address per RFC 5228 §2.7.4
// and the RFC 5233 :user/:detail subaddress extension.
type AddressPart struct {
	Object     *sobj.Object
	Identifier string
	extract    func(localPart, domain string) string
}

func (r *Registry) RegisterAddressPart(extension, identifier string, extract func(localPart, domain string) string) *AddressPart {
	ap := &AddressPart{Identifier: identifier, extract: extract}
	ap.Object = r.Objects.Register(sobj.ClassAddressPart, extension, identifier)
	r.addrParts[identifier] = ap
	return ap
}

func (r *Registry) AddressPart(identifier string) (*AddressPart, bool) {
	ap, ok := r.addrParts[identifier]
	return ap, ok
}

// Extract splits addr into local-part and domain (at the last '@') and
// applies ap's extraction rule. An address with no '@' has an empty domain.
func (ap *AddressPart) Extract(addr string) string {
	local, domain := splitAddress(addr)
	return ap.extract(local, domain)
}

func splitAddress(addr string) (local, domain string) {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

// SplitAddressHeader parses an address-header value (which may carry a
// display name, RFC 2822 comments, and several comma-separated mailboxes,
// e.g. `"Wile E. Coyote (desert) <coyote@desert.example.org>, ops@acme.com`)
// into the bare addresses the ADDRESS test's extraction rules run over. A
// value that fails RFC 5322 address parsing is returned unchanged as a
// single entry, so malformed headers still participate rather than vanish.
func SplitAddressHeader(value string) []string {
	addrs, err := mail.ParseAddressList(value)
	if err != nil || len(addrs) == 0 {
		return []string{value}
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Address
	}
	return out
}

// SubaddressSeparator is the RFC 5233 detail separator, "+" by default; it
// is a package variable that nothing in this module changes.
var SubaddressSeparator = "+"

func splitSubaddress(local string) (user, detail string) {
	i := strings.Index(local, SubaddressSeparator)
	if i < 0 {
		return local, ""
	}
	return local[:i], local[i+len(SubaddressSeparator):]
}

func (r *Registry) registerCoreAddressParts() {
	r.RegisterAddressPart("", PartAll, func(local, domain string) string {
		if domain == "" {
			return local
		}
		return local + "@" + domain
	})
	r.RegisterAddressPart("", PartLocalPart, func(local, domain string) string { return local })
	r.RegisterAddressPart("", PartDomain, func(local, domain string) string { return domain })
	r.RegisterAddressPart("subaddress", PartUser, func(local, domain string) string {
		user, _ := splitSubaddress(local)
		return user
	})
	r.RegisterAddressPart("subaddress", PartDetail, func(local, domain string) string {
		_, detail := splitSubaddress(local)
		return detail
	})
}
