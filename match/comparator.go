package match

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/foxcpp/go-sieve/sobj"
)

// Comparator is the pluggable notion of "equal"/"ordered"/"contains" a
// match-type relies on. Built-ins mirror RFC 4790's registered collations.
type Comparator struct {
	Object *sobj.Object

	// Equals reports octet/codepoint equality under this collation.
	Equals func(value, key string) bool
	// Contains reports whether key occurs as a substring of value.
	Contains func(value, key string) bool
	// Compare orders value against key; used by the :value relational
	// match-type. Numeric comparators compare the leading digit run, non-
	// numeric comparators compare octets/codepoints lexically.
	Compare func(value, key string) int
	// Fold normalizes a string for glob/regex matching (identity for
	// case-sensitive comparators).
	Fold func(s string) string
}

const (
	IOctet          = "i;octet"
	IASCIICasemap   = "i;ascii-casemap"
	IASCIINumeric   = "i;ascii-numeric"
	IUnicodeCasemap = "i;unicode-casemap"

	DefaultComparator = IASCIICasemap
)

// Registry holds every registered comparator/match-type/address-part,
// keyed by the sobj.Object identifier assigned at extension load time.
type Registry struct {
	Objects     *sobj.Registry
	comparators map[string]*Comparator
	matchTypes  map[string]*MatchType
	addrParts   map[string]*AddressPart
}

func NewRegistry(objects *sobj.Registry) *Registry {
	r := &Registry{
		Objects:     objects,
		comparators: make(map[string]*Comparator),
		matchTypes:  make(map[string]*MatchType),
		addrParts:   make(map[string]*AddressPart),
	}
	r.registerCoreComparators()
	r.registerCoreMatchTypes()
	r.registerCoreAddressParts()
	return r
}

func (r *Registry) RegisterComparator(extension, identifier string, c *Comparator) *Comparator {
	c.Object = r.Objects.Register(sobj.ClassComparator, extension, identifier)
	r.comparators[identifier] = c
	return c
}

func (r *Registry) Comparator(identifier string) (*Comparator, bool) {
	c, ok := r.comparators[identifier]
	return c, ok
}

func toLowerASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// numericPrefix parses the leading decimal-digit run of s, per RFC 4790
// §9.1; a non-digit-leading string has no numeric value.
func numericPrefix(s string) (uint64, bool) {
	if s == "" || !unicode.IsDigit([]rune(s)[0]) {
		return 0, false
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Registry) registerCoreComparators() {
	r.RegisterComparator("", IOctet, &Comparator{
		Equals:   func(v, k string) bool { return v == k },
		Contains: strings.Contains,
		Compare:  strings.Compare,
		Fold:     func(s string) string { return s },
	})
	r.RegisterComparator("", IASCIICasemap, &Comparator{
		Equals:   func(v, k string) bool { return toLowerASCII(v) == toLowerASCII(k) },
		Contains: func(v, k string) bool { return strings.Contains(toLowerASCII(v), toLowerASCII(k)) },
		Compare:  func(v, k string) int { return strings.Compare(toLowerASCII(v), toLowerASCII(k)) },
		Fold:     toLowerASCII,
	})
	r.RegisterComparator("", IASCIINumeric, &Comparator{
		Equals: func(v, k string) bool {
			vn, vok := numericPrefix(v)
			kn, kok := numericPrefix(k)
			return vok == kok && (!vok || vn == kn)
		},
		Contains: func(v, k string) bool { return false }, // unsupported per RFC 4790
		Compare: func(v, k string) int {
			vn, _ := numericPrefix(v)
			kn, _ := numericPrefix(k)
			switch {
			case vn < kn:
				return -1
			case vn > kn:
				return 1
			default:
				return 0
			}
		},
		Fold: func(s string) string { return s },
	})
	r.RegisterComparator("", IUnicodeCasemap, &Comparator{
		Equals:   strings.EqualFold,
		Contains: func(v, k string) bool { return strings.Contains(strings.ToLower(v), strings.ToLower(k)) },
		Compare:  func(v, k string) int { return strings.Compare(strings.ToLower(v), strings.ToLower(k)) },
		Fold:     strings.ToLower,
	})
}
