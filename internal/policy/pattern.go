package policy

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// PatternString is a policy-document string that names either a glob
// pattern or a regex pattern (prefixed "re:" / "regex:", or wrapped in
// "{regex}"), per spec.md §4.5. It round-trips through YAML/JSON as a
// plain string.
type PatternString string

// CompiledPattern is a pre-compiled allow/redact pattern, cached by
// audit.EnvelopeBuilder per loaded policy document so header/query
// matching never recompiles a pattern per request.
type CompiledPattern struct {
	raw   string
	glob  glob.Glob
	regex *regexp.Regexp
}

// Compile parses a PatternString into a CompiledPattern. Regex compile
// errors return an error rather than silently dropping the pattern here;
// callers building a long-lived cache (envelope.go) go through CompileAll,
// which drops failing patterns silently.
func Compile(p PatternString) (*CompiledPattern, error) {
	s := string(p)
	if rx, ok := regexSource(s); ok {
		re, err := regexp.Compile(rx)
		if err != nil {
			return nil, err
		}
		return &CompiledPattern{raw: s, regex: re}, nil
	}
	g, err := glob.Compile(strings.ToLower(s))
	if err != nil {
		return nil, err
	}
	return &CompiledPattern{raw: s, glob: g}, nil
}

// regexSource extracts the regex source from a "re:"/"regex:"-prefixed or
// "{regex}"-wrapped pattern string.
func regexSource(s string) (string, bool) {
	switch {
	case strings.HasPrefix(s, "re:"):
		return strings.TrimPrefix(s, "re:"), true
	case strings.HasPrefix(s, "regex:"):
		return strings.TrimPrefix(s, "regex:"), true
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && len(s) > 2:
		return s[1 : len(s)-1], true
	default:
		return "", false
	}
}

// Match reports whether candidate matches the compiled pattern, case
// insensitively for glob patterns (candidate is lower-cased before
// matching); regex patterns match as written.
func (c *CompiledPattern) Match(candidate string) bool {
	if c.regex != nil {
		return c.regex.MatchString(candidate)
	}
	return c.glob.Match(strings.ToLower(candidate))
}

// CompileAll compiles a slice of PatternStrings, silently dropping any
// pattern that fails to compile (the validator is expected to have
// already rejected invalid patterns before the document reached this
// point; a bad pattern surviving to here degrades to "matches nothing"
// rather than panicking request handling).
func CompileAll(patterns []PatternString) []*CompiledPattern {
	out := make([]*CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		c, err := Compile(p)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// MatchAny reports whether candidate matches any of the compiled
// patterns.
func MatchAny(patterns []*CompiledPattern, candidate string) bool {
	for _, p := range patterns {
		if p.Match(candidate) {
			return true
		}
	}
	return false
}
