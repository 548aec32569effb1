// internal/rules/operators.go
package rules

import (
	"strings"

	"github.com/solatis/sievefold/internal/types"
)

/*
 * Operator comparison logic.
 *
 * All comparisons are case-insensitive, matching Sieve's default
 * i;ascii-casemap comparator. "matches" is a glob where '*' spans any run of
 * characters and '?' exactly one; '\' escapes the next character.
 *
 * "has" tests presence rather than comparing values and is handled by
 * MatchCondition.
 */

// Compare applies the operator to a message value and one pattern.
func Compare(op types.Operator, value, pattern string) bool {
	v, p := strings.ToLower(value), strings.ToLower(pattern)
	switch op {
	case types.OpContains:
		return strings.Contains(v, p)
	case types.OpIs:
		return v == p
	case types.OpMatches:
		return globMatch(p, v)
	case types.OpStartsWith:
		return strings.HasPrefix(v, p)
	case types.OpEndsWith:
		return strings.HasSuffix(v, p)
	default:
		return false
	}
}

// globMatch matches value against a Sieve :matches pattern using iterative
// backtracking on the last '*'.
func globMatch(pattern, value string) bool {
	p := []rune(pattern)
	v := []rune(value)

	pi, vi := 0, 0
	starP, starV := -1, 0
	for vi < len(v) {
		switch {
		case pi < len(p) && p[pi] == '*':
			starP, starV = pi, vi
			pi++
		case pi < len(p) && p[pi] == '\\' && pi+1 < len(p) && p[pi+1] == v[vi]:
			pi += 2
			vi++
		case pi < len(p) && p[pi] != '\\' && (p[pi] == '?' || p[pi] == v[vi]):
			pi++
			vi++
		case starP >= 0:
			starV++
			pi, vi = starP+1, starV
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
