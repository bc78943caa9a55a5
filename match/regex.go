package match

import (
	"fmt"

	"rsc.io/binaryregexp"
)

// RegexLimits bounds the :regex match-type (RFC draft-ietf-sieve-regex) so
// a hostile or mistaken pattern cannot blow up interpretation time; unlike
// backtracking engines binaryregexp is already linear-time, so these
// limits exist purely to cap pattern/input size, not catastrophic
// backtracking.
type RegexLimits struct {
	MaxPatternLength int
	MaxInputLength   int
}

var DefaultRegexLimits = RegexLimits{MaxPatternLength: 1000, MaxInputLength: 10000}

func compileRegex(pattern string, foldCase bool, limits RegexLimits) (*binaryregexp.Regexp, error) {
	if len(pattern) > limits.MaxPatternLength {
		return nil, fmt.Errorf("regex pattern too long: %d > %d", len(pattern), limits.MaxPatternLength)
	}
	if foldCase {
		pattern = "(?i)" + pattern
	}
	return binaryregexp.Compile(pattern)
}

func matchRegex(pattern, value string, foldCase bool, limits RegexLimits) (bool, error) {
	if len(value) > limits.MaxInputLength {
		return false, fmt.Errorf("input too long for regex: %d > %d", len(value), limits.MaxInputLength)
	}
	re, err := compileRegex(pattern, foldCase, limits)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}
