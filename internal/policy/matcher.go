package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// MatcherKind identifies which of the three tagged-variant shapes a Matcher
// was ingested as, per spec.md §9: Matcher = Scalar(value) | Any(list) |
// Op(kind, arg).
type MatcherKind int

const (
	// KindScalar matches by equality against a single value.
	KindScalar MatcherKind = iota
	// KindAny matches if the payload value equals any element of a list.
	KindAny
	// KindOp matches via one of the named operators.
	KindOp
)

// Op names the single operator key an object-shaped Matcher may carry.
type Op string

const (
	OpIn       Op = "in"
	OpEq       Op = "eq"
	OpContains Op = "contains"
	OpRegex    Op = "regex"
)

// Matcher is a payload matcher: scalar equality, any-of-a-list, or an
// operator object with exactly one key. The validator is responsible for
// rejecting object variants with more than one operator key or an unknown
// key before a document is saved, so runtime code assumes a well-formed
// variant once it reaches here (spec.md §9).
type Matcher struct {
	Kind MatcherKind

	Scalar any
	Any    []any

	Op    Op
	OpArg any
}

// UnmarshalYAML accepts a scalar, a list, or a single-key operator mapping.
func (m *Matcher) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []any
		if err := value.Decode(&list); err != nil {
			return err
		}
		m.Kind = KindAny
		m.Any = list
		return nil
	case yaml.MappingNode:
		var asMap map[string]any
		if err := value.Decode(&asMap); err != nil {
			return err
		}
		return m.fromMap(asMap)
	default:
		var scalar any
		if err := value.Decode(&scalar); err != nil {
			return err
		}
		m.Kind = KindScalar
		m.Scalar = scalar
		return nil
	}
}

// UnmarshalJSON mirrors UnmarshalYAML for the JSON Merge Patch / API
// surface, since policy documents round-trip through both encodings.
func (m *Matcher) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case []any:
		m.Kind = KindAny
		m.Any = v
		return nil
	case map[string]any:
		return m.fromMap(v)
	default:
		m.Kind = KindScalar
		m.Scalar = v
		return nil
	}
}

// MarshalYAML re-emits a Matcher in its original scalar/list/operator-map
// shape, so save-then-reload round trips without thickening the document.
func (m Matcher) MarshalYAML() (any, error) {
	switch m.Kind {
	case KindAny:
		return m.Any, nil
	case KindOp:
		return map[string]any{string(m.Op): m.OpArg}, nil
	default:
		return m.Scalar, nil
	}
}

// MarshalJSON mirrors MarshalYAML for the JSON encoding.
func (m Matcher) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindAny:
		return json.Marshal(m.Any)
	case KindOp:
		return json.Marshal(map[string]any{string(m.Op): m.OpArg})
	default:
		return json.Marshal(m.Scalar)
	}
}

func (m *Matcher) fromMap(asMap map[string]any) error {
	if len(asMap) != 1 {
		return fmt.Errorf("policy: matcher object must have exactly one operator key, got %d", len(asMap))
	}
	for k, v := range asMap {
		op := Op(strings.ToLower(k))
		switch op {
		case OpIn, OpEq, OpContains, OpRegex:
			m.Kind = KindOp
			m.Op = op
			m.OpArg = v
			return nil
		default:
			return fmt.Errorf("policy: unknown matcher operator %q", k)
		}
	}
	return nil
}

// Matches reports whether payloadValue satisfies this matcher.
func (m *Matcher) Matches(payloadValue any) bool {
	switch m.Kind {
	case KindScalar:
		return equalLoose(m.Scalar, payloadValue)
	case KindAny:
		for _, candidate := range m.Any {
			if equalLoose(candidate, payloadValue) {
				return true
			}
		}
		return false
	case KindOp:
		return m.matchesOp(payloadValue)
	default:
		return false
	}
}

func (m *Matcher) matchesOp(payloadValue any) bool {
	switch m.Op {
	case OpEq:
		return equalLoose(m.OpArg, payloadValue)
	case OpIn:
		list, ok := m.OpArg.([]any)
		if !ok {
			return false
		}
		for _, candidate := range list {
			if equalLoose(candidate, payloadValue) {
				return true
			}
		}
		return false
	case OpContains:
		needle := fmt.Sprintf("%v", m.OpArg)
		return containsLoose(payloadValue, needle)
	case OpRegex:
		pattern := fmt.Sprintf("%v", m.OpArg)
		c, err := Compile(PatternString("re:" + pattern))
		if err != nil {
			return false
		}
		return c.Match(fmt.Sprintf("%v", payloadValue))
	default:
		return false
	}
}

// containsLoose implements the "contains" operator: substring match on a
// string value, or "any element contains" on a list value. Per SPEC_FULL's
// C3 supplement, needle may itself be a glob pattern (e.g. "infra.tags.*")
// for convenience parity with the audit envelope matcher; a needle with no
// glob metacharacters falls back to a plain substring test.
func containsLoose(payloadValue any, needle string) bool {
	switch v := payloadValue.(type) {
	case []any:
		for _, el := range v {
			if containsLoose(el, needle) {
				return true
			}
		}
		return false
	default:
		s := fmt.Sprintf("%v", v)
		if strings.ContainsAny(needle, "*?[") {
			if g, err := glob.Compile(needle); err == nil {
				return g.Match(s)
			}
		}
		return strings.Contains(s, needle)
	}
}

// equalLoose compares two decoded JSON/YAML scalars loosely: numbers
// compare by float64 value regardless of concrete numeric type, everything
// else by string form unless both sides are directly comparable.
func equalLoose(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
