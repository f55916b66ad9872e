package policy

import (
	"net/http"
	"strings"
)

// Actor is the normalized `{sub, email, role, groups, entitlements,
// identity_provider}` tuple produced by C2, per spec.md §4.2.
type Actor struct {
	Sub              string
	Email            string
	Name             string
	Groups           []string
	Entitlements     []string
	Role             string
	IdentityProvider string
	// Source records which layer resolved Role: headers|mapped|channel.
	// Role is never read from token claims.
	Source string
}

var headerNames = map[string][]string{
	"sub":          {"X-User-Id", "X-Subject"},
	"name_sub":     {"X-User"},
	"email":        {"X-User-Email", "X-Email"},
	"name":         {"X-User-Name", "X-Name"},
	"groups":       {"X-User-Groups", "X-Groups"},
	"entitlements": {"X-User-Entitlements", "X-Entitlements"},
	"role":         {"X-User-Role", "X-Role"},
}

// NormalizeActor resolves the actor tuple from trusted gateway headers,
// optional bearer-token claims, and the channel, applying the per-field
// precedence order in spec.md §4.2.
func (d *Document) NormalizeActor(headers http.Header, claims map[string]any, channel string) Actor {
	a := Actor{}

	a.Sub = firstHeader(headers, headerNames["sub"]...)
	if a.Sub == "" {
		a.Sub = firstHeader(headers, headerNames["name_sub"]...)
	}
	a.Email = firstHeader(headers, headerNames["email"]...)
	a.Name = firstHeader(headers, headerNames["name"]...)
	a.Groups = splitHeaderList(firstHeader(headers, headerNames["groups"]...))
	a.Entitlements = splitHeaderList(firstHeader(headers, headerNames["entitlements"]...))
	headerRole := firstHeader(headers, headerNames["role"]...)

	provider := resolveProvider(claims, d.Identity)
	a.IdentityProvider = provider
	pc := d.Identity.Providers[provider]

	if a.Sub == "" {
		a.Sub = firstClaim(claims, pc.Sub)
	}
	if a.Email == "" {
		a.Email = firstClaim(claims, pc.Email)
	}
	if a.Name == "" {
		a.Name = firstClaim(claims, pc.Name)
	}
	if len(a.Groups) == 0 {
		a.Groups = claimList(claims, pc.Groups)
	}
	if len(a.Entitlements) == 0 {
		a.Entitlements = claimList(claims, pc.Entitlements)
	}

	switch {
	case headerRole != "":
		a.Role = headerRole
		a.Source = "headers"
	default:
		if role, ok := d.DeriveRole(a.Groups, a.Entitlements); ok {
			a.Role = role
			a.Source = "mapped"
		} else {
			a.Role = channelRole(d.RBAC.Channels, channel)
			a.Source = "channel"
		}
	}

	return a
}

func channelRole(channels map[string]string, channel string) string {
	if role, ok := channels[channel]; ok && role != "" {
		return role
	}
	if channel != "" {
		return channel
	}
	return "ui"
}

// DeriveRole implements spec.md §4.2 step 3: scan group_rules (falling
// back to entitlement_rules only if groups produced nothing), honoring
// deny lists and first_match_wins.
func (d *Document) DeriveRole(groups, entitlements []string) (string, bool) {
	rm := d.RBAC.RoleMapping

	for _, g := range groups {
		if valueDenied(rm.Deny, g) {
			return "denied", true
		}
	}
	for _, e := range entitlements {
		if valueDenied(rm.Deny, e) {
			return "denied", true
		}
	}

	if role, ok := scanRoleRules(rm.GroupRules, groups, rm); ok {
		return role, true
	}
	if role, ok := scanRoleRules(rm.EntitlementRules, entitlements, rm); ok {
		return role, true
	}
	return "", false
}

func valueDenied(deny []string, value string) bool {
	for _, d := range deny {
		if d == value {
			return true
		}
	}
	return false
}

// scanRoleRules implements the open-question decision recorded in
// DESIGN.md: first_match_wins=true scans rules in order and returns on
// the first match; first_match_wins=false collects every matching rule's
// role plus every exact sources[] candidate, then picks by role_priority
// (falling back to the first candidate found if none of the candidates
// appear in role_priority).
func scanRoleRules(rules []RoleRule, values []string, rm RoleMapping) (string, bool) {
	if rm.FirstMatchWins {
		for _, rule := range rules {
			for _, v := range values {
				if rule.When.Matches(v) {
					return rule.Role, true
				}
			}
		}
		return "", false
	}

	var candidates []string
	for _, rule := range rules {
		for _, v := range values {
			if rule.When.Matches(v) {
				candidates = append(candidates, rule.Role)
				break
			}
		}
	}
	for _, v := range values {
		if role, ok := rm.Sources[v]; ok {
			candidates = append(candidates, role)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	for _, p := range rm.RolePriority {
		for _, c := range candidates {
			if c == p {
				return p, true
			}
		}
	}
	return candidates[0], true
}

func resolveProvider(claims map[string]any, identity Identity) string {
	for _, hint := range identity.ProviderHintClaims {
		if v, ok := claims[hint]; ok {
			if s, ok := v.(string); ok && s != "" {
				if _, known := identity.Providers[s]; known {
					return s
				}
			}
		}
	}
	if identity.DefaultProvider != "" {
		return identity.DefaultProvider
	}
	for name := range identity.Providers {
		return name
	}
	return ""
}

func firstHeader(headers http.Header, names ...string) string {
	if headers == nil {
		return ""
	}
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func splitHeaderList(raw string) []string {
	if raw == "" {
		return nil
	}
	raw = strings.ReplaceAll(raw, ";", ",")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstClaim(claims map[string]any, names []string) string {
	for _, name := range names {
		if v, ok := claims[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func claimList(claims map[string]any, names []string) []string {
	for _, name := range names {
		v, ok := claims[name]
		if !ok {
			continue
		}
		switch list := v.(type) {
		case []any:
			out := make([]string, 0, len(list))
			for _, el := range list {
				out = append(out, strOf(el))
			}
			return out
		case string:
			return splitHeaderList(list)
		}
	}
	return nil
}

func strOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
