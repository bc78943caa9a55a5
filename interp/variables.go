package interp

import (
	"strconv"
	"strings"
)

// ExpandVariables substitutes every ${...} reference in s: hex:/unicode:
// encoded-character escapes (RFC 5228 §2.4.2.4) are decoded in place,
// anything else is looked up (case-insensitively) in data.Variables and
// substituted with "" if undefined, mirroring the variables extension's
// "undefined variables expand to the empty string" rule (RFC 5229 §3).
// data.Variables may be nil (no `set` has run yet), in which case every
// variable reference expands to ""; a string without ${ is returned
// unchanged.
func ExpandVariables(data *RuntimeData, s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				i++
				continue
			}
			ref := s[i+2 : i+2+end]
			b.WriteString(expandRef(data, ref))
			i += 2 + end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func expandRef(data *RuntimeData, ref string) string {
	if v, ok := strings.CutPrefix(ref, "hex:"); ok {
		return decodeHexChars(v)
	}
	if v, ok := strings.CutPrefix(ref, "unicode:"); ok {
		return decodeUnicodeChars(v)
	}
	if data.Variables == nil {
		return ""
	}
	v, ok := data.Variables[strings.ToLower(ref)]
	if !ok {
		return ""
	}
	return v
}

func decodeHexChars(s string) string {
	var b strings.Builder
	for _, tok := range strings.Fields(s) {
		n, err := strconv.ParseUint(tok, 16, 32)
		if err != nil {
			continue
		}
		b.WriteRune(rune(n))
	}
	return b.String()
}

func decodeUnicodeChars(s string) string {
	var b strings.Builder
	for _, tok := range strings.Fields(s) {
		n, err := strconv.ParseUint(tok, 16, 32)
		if err != nil {
			continue
		}
		b.WriteRune(rune(n))
	}
	return b.String()
}

// ExpandVariablesList applies ExpandVariables to every element of list.
func ExpandVariablesList(data *RuntimeData, list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = ExpandVariables(data, s)
	}
	return out
}
