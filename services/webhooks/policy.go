package webhooks

import (
	"fmt"
	"strings"

	"forged/services/builds"
)

// PushAllowed decides whether a push to ref may build under the project's
// policy. Patterns is the project's newline-separated glob list, consulted
// only under PATTERNS. An unrecognized policy value is an error, not a silent
// decline.
func PushAllowed(policy builds.Policy, patterns, ref string) (bool, error) {
	switch policy {
	case builds.PolicyAll:
		return true, nil
	case builds.PolicyNone, builds.PolicyPR:
		return false, nil
	case builds.PolicyPatterns:
		return MatchAny(patterns, ref), nil
	default:
		return false, fmt.Errorf("unknown trigger policy %q", policy)
	}
}

// MatchAny reports whether ref matches any of the newline-separated glob
// patterns, case-insensitively.
func MatchAny(patterns, ref string) bool {
	for _, line := range strings.Split(patterns, "\n") {
		pattern := strings.TrimSpace(line)
		if pattern == "" {
			continue
		}
		if matchGlob(pattern, ref) {
			return true
		}
	}
	return false
}

// matchGlob matches s against a glob where '*' spans any run of characters
// and '?' exactly one, ignoring case. Iterative with single-star backtracking.
func matchGlob(pattern, s string) bool {
	p := []rune(strings.ToLower(pattern))
	t := []rune(strings.ToLower(s))

	pi, ti := 0, 0
	star, starTi := -1, 0

	for ti < len(t) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == t[ti]):
			pi++
			ti++
		case pi < len(p) && p[pi] == '*':
			star = pi
			starTi = ti
			pi++
		case star >= 0:
			pi = star + 1
			starTi++
			ti = starTi
		default:
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
