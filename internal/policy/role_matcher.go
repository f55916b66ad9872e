package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleWhenKind identifies the shape a RoleWhen was ingested as: a bare
// glob string, a list of glob alternatives, or an operator object
// ({patterns|regex|contains|in}).
type RoleWhenKind int

const (
	RoleWhenGlob RoleWhenKind = iota
	RoleWhenAny
	RoleWhenPatterns
	RoleWhenRegex
	RoleWhenContains
	RoleWhenIn
)

// RoleWhen is role_mapping.group_rules[*].when / entitlement_rules[*].when,
// a distinct matcher vocabulary from the payload-rule Matcher: spec.md §3
// describes it as "glob string, list, or {patterns|regex|contains|in}".
// Unlike Matcher, a bare scalar here is a glob pattern, not an equality
// test.
type RoleWhen struct {
	Kind     RoleWhenKind
	Glob     string
	List     []string
	Regex    string
	Contains string
}

// UnmarshalYAML accepts a scalar glob string, a list of glob strings, or a
// single-key operator mapping.
func (w *RoleWhen) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		w.Kind = RoleWhenAny
		w.List = list
		return nil
	case yaml.MappingNode:
		var asMap map[string]any
		if err := value.Decode(&asMap); err != nil {
			return err
		}
		return w.fromMap(asMap)
	default:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		w.Kind = RoleWhenGlob
		w.Glob = s
		return nil
	}
}

// UnmarshalJSON mirrors UnmarshalYAML.
func (w *RoleWhen) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case []any:
		list := make([]string, 0, len(v))
		for _, el := range v {
			list = append(list, fmt.Sprintf("%v", el))
		}
		w.Kind = RoleWhenAny
		w.List = list
		return nil
	case map[string]any:
		return w.fromMap(v)
	case string:
		w.Kind = RoleWhenGlob
		w.Glob = v
		return nil
	default:
		return fmt.Errorf("policy: role_when: unexpected shape %T", v)
	}
}

func (w *RoleWhen) fromMap(asMap map[string]any) error {
	if patterns, ok := asMap["patterns"]; ok {
		w.Kind = RoleWhenPatterns
		w.List = toStringSlice(patterns)
		return nil
	}
	if rx, ok := asMap["regex"]; ok {
		w.Kind = RoleWhenRegex
		w.Regex = fmt.Sprintf("%v", rx)
		return nil
	}
	if c, ok := asMap["contains"]; ok {
		w.Kind = RoleWhenContains
		w.Contains = fmt.Sprintf("%v", c)
		return nil
	}
	if in, ok := asMap["in"]; ok {
		w.Kind = RoleWhenIn
		w.List = toStringSlice(in)
		return nil
	}
	return fmt.Errorf("policy: role_when: object must have one of patterns|regex|contains|in")
}

func toStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, el := range list {
		out = append(out, fmt.Sprintf("%v", el))
	}
	return out
}

// Matches reports whether value satisfies this RoleWhen.
func (w RoleWhen) Matches(value string) bool {
	switch w.Kind {
	case RoleWhenGlob:
		return globMatch(w.Glob, value)
	case RoleWhenAny, RoleWhenPatterns:
		for _, p := range w.List {
			if globMatch(p, value) {
				return true
			}
		}
		return false
	case RoleWhenIn:
		for _, p := range w.List {
			if p == value {
				return true
			}
		}
		return false
	case RoleWhenRegex:
		c, err := Compile(PatternString("re:" + w.Regex))
		if err != nil {
			return false
		}
		return c.regex.MatchString(value)
	case RoleWhenContains:
		return strings.Contains(value, w.Contains)
	default:
		return false
	}
}

func globMatch(pattern, value string) bool {
	c, err := Compile(PatternString(pattern))
	if err != nil {
		return false
	}
	return c.Match(value)
}
