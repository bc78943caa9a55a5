package match

import (
	"strings"

	"rsc.io/binaryregexp"
)

// compileGlob translates a Sieve :matches wildcard pattern (`*` any
// sequence, `?` one octet, `\` escapes the following character) into a
// binaryregexp.Regexp anchored on both ends. binaryregexp operates on raw
// bytes rather than requiring valid UTF-8, which matters here since header
// octets are not guaranteed to be valid UTF-8 before RFC 2047 decoding.
func compileGlob(pattern string, foldCase bool) (*binaryregexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s)^")
	if foldCase {
		b.WriteString("(?i)")
	}
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(binaryregexp.QuoteMeta(string(runes[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(binaryregexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return binaryregexp.Compile(b.String())
}

// matchGlob reports whether value matches a literal (non-regex) glob
// pattern under the given case-folding rule.
func matchGlob(pattern, value string, foldCase bool) (bool, error) {
	re, err := compileGlob(pattern, foldCase)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}
