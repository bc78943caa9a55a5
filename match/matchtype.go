package match

import (
	"fmt"

	"github.com/foxcpp/go-sieve/sobj"
)

// Relational is the RFC 5231 comparator operator used by the :value and
// :count match-types.
type Relational string

const (
	RelGT Relational = "gt"
	RelGE Relational = "ge"
	RelLT Relational = "lt"
	RelEQ Relational = "eq"
	RelLE Relational = "le"
	RelNE Relational = "ne"
)

func (r Relational) apply(cmp int) bool {
	switch r {
	case RelGT:
		return cmp > 0
	case RelGE:
		return cmp >= 0
	case RelLT:
		return cmp < 0
	case RelLE:
		return cmp <= 0
	case RelEQ:
		return cmp == 0
	case RelNE:
		return cmp != 0
	default:
		return false
	}
}

const (
	MatchIs       = "is"
	MatchContains = "contains"
	MatchMatches  = "matches"
	MatchValue    = "value"
	MatchCount    = "count"
	MatchRegex    = "regex"
)

// MatchType implements one of is/contains/matches plus the extension-
// provided count/value/regex kinds. Accumulating kinds (count) only
// produce a verdict once every header value has been fed in, so the
// engine exposes Context.Feed/Finalize rather than a single predicate.
type MatchType struct {
	Object       *sobj.Object
	Identifier   string
	Accumulating bool

	// match is called by Context.Feed once per (candidate value, key)
	// pair; its return value is the verdict for that pair and Feed stops
	// at the first true. :count is counted by Context.Feed itself and
	// never reaches match.
	match func(state *matchState, value, key string) (bool, error)
	// finalize is stored for accumulating types; Context.Finalize computes
	// the :count verdict itself and does not call it.
	finalize func(state *matchState) bool
}

type matchState struct {
	comparator *Comparator
	rel        Relational
	regexLimits RegexLimits
	count      uint64
}

func (r *Registry) RegisterMatchType(extension, identifier string, accumulating bool,
	match func(state *matchState, value, key string) (bool, error),
	finalize func(state *matchState) bool) *MatchType {
	mt := &MatchType{Identifier: identifier, Accumulating: accumulating, match: match, finalize: finalize}
	mt.Object = r.Objects.Register(sobj.ClassMatchType, extension, identifier)
	r.matchTypes[identifier] = mt
	return mt
}

func (r *Registry) MatchType(identifier string) (*MatchType, bool) {
	mt, ok := r.matchTypes[identifier]
	return mt, ok
}

func (r *Registry) registerCoreMatchTypes() {
	r.RegisterMatchType("", MatchIs, false, func(s *matchState, value, key string) (bool, error) {
		return s.comparator.Equals(value, key), nil
	}, nil)
	r.RegisterMatchType("", MatchContains, false, func(s *matchState, value, key string) (bool, error) {
		return s.comparator.Contains(value, key), nil
	}, nil)
	r.RegisterMatchType("", MatchMatches, false, func(s *matchState, value, key string) (bool, error) {
		foldCase := s.comparator.Object.Identifier != IOctet
		return matchGlob(key, value, foldCase)
	}, nil)
	r.RegisterMatchType("", MatchValue, false, func(s *matchState, value, key string) (bool, error) {
		return s.rel.apply(s.comparator.Compare(value, key)), nil
	}, nil)
	r.RegisterMatchType("", MatchCount, true, func(s *matchState, value, key string) (bool, error) {
		s.count++
		return false, nil
	}, func(s *matchState) bool {
		// not called: Context.Finalize compares s.count against each
		// key's numeric prefix with compareUint64.
		return false
	})
	r.RegisterMatchType("", MatchRegex, false, func(s *matchState, value, key string) (bool, error) {
		foldCase := s.comparator.Object.Identifier != IOctet
		return matchRegex(key, value, foldCase, s.regexLimits)
	}, nil)
}

// Context drives a test's header/value iteration against one (comparator,
// match-type, key-list) triple, matching spec.md §3's match context.
type Context struct {
	comparator *Comparator
	matchType  *MatchType
	keys       []string
	state      *matchState
}

func NewContext(comparator *Comparator, matchType *MatchType, keys []string, rel Relational) *Context {
	return &Context{
		comparator: comparator,
		matchType:  matchType,
		keys:       keys,
		state:      &matchState{comparator: comparator, rel: rel, regexLimits: DefaultRegexLimits},
	}
}

// Feed tests value against every key; for non-accumulating match-types it
// returns true on the first key that matches (short-circuiting further
// header iteration), for accumulating types it always returns false and
// updates internal state - the verdict comes from Finalize.
func (c *Context) Feed(value string) (bool, error) {
	if c.matchType.Identifier == MatchCount {
		c.state.count++
		return false, nil
	}
	for _, key := range c.keys {
		ok, err := c.matchType.match(c.state, value, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Finalize computes the verdict for accumulating match-types (:count);
// non-accumulating types must never reach here with a false verdict
// already decided by Feed, but calling Finalize is always safe.
func (c *Context) Finalize() (bool, error) {
	if c.matchType.Identifier != MatchCount {
		return false, nil
	}
	for _, key := range c.keys {
		n, ok := numericPrefix(key)
		if !ok {
			continue
		}
		if c.state.rel.apply(compareUint64(c.state.count, n)) {
			return true, nil
		}
	}
	return false, nil
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

var ErrUnknownRelational = fmt.Errorf("unknown relational operator")

func ParseRelational(s string) (Relational, error) {
	switch Relational(s) {
	case RelGT, RelGE, RelLT, RelLE, RelEQ, RelNE:
		return Relational(s), nil
	default:
		return "", ErrUnknownRelational
	}
}
