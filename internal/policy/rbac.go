package policy

import (
	"fmt"
	"strings"
)

// Request carries the inputs RBAC evaluation needs: the actor's resolved
// role, the action being attempted, its payload, and the case's risk
// score (nil if unknown/not applicable).
type Request struct {
	Role           string
	ActionType     string
	Payload        map[string]any
	CaseRiskScore  *int
}

// CanExecute implements spec.md §4.3's can_execute.
func (d *Document) CanExecute(req Request) (bool, string) {
	return d.checkRBAC(d.RBAC.Permissions.Execute, req)
}

// CanApprove implements spec.md §4.3's can_approve (identical to
// can_execute but against permissions.approve).
func (d *Document) CanApprove(req Request) (bool, string) {
	return d.checkRBAC(d.RBAC.Permissions.Approve, req)
}

func (d *Document) checkRBAC(perm map[string][]string, req Request) (bool, string) {
	if !permitsAction(perm, req.Role, req.ActionType) {
		return false, fmt.Sprintf("role %q is not permitted to perform %q", req.Role, req.ActionType)
	}

	if req.Role == "operator" && req.ActionType == "UpdateCardStatus" {
		if newStatus, ok := dotPath(req.Payload, "new_status"); ok {
			ns := fmt.Sprintf("%v", newStatus)
			for _, denied := range d.RBAC.Constraints.OperatorUpdateCardStatus.DenyNewStatus {
				if denied == ns {
					return false, fmt.Sprintf("operators may not set card status to %q", ns)
				}
			}
		}
	}

	for _, rule := range d.RBAC.ActionPayloadRules {
		if rule.ActionType != req.ActionType {
			continue
		}
		if !payloadMatchesWhen(req.Payload, rule.When) {
			continue
		}
		if ok, reason := enforceRule(rule, req); !ok {
			return false, reason
		}
	}

	return true, ""
}

func permitsAction(perm map[string][]string, role, actionType string) bool {
	allowed, ok := perm[role]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == actionType {
			return true
		}
	}
	return false
}

func payloadMatchesWhen(payload map[string]any, when map[string]Matcher) bool {
	for path, matcher := range when {
		value, ok := dotPath(payload, path)
		if !ok {
			return false
		}
		m := matcher
		if !m.Matches(value) {
			return false
		}
	}
	return true
}

func enforceRule(rule ActionPayloadRule, req Request) (bool, string) {
	reason := rule.Reason
	if reason == "" {
		reason = fmt.Sprintf("payload rule for action %q denied the request", rule.ActionType)
	}

	if len(rule.RequireRoles) > 0 && !roleIn(rule.RequireRoles, req.Role) {
		return false, reason
	}
	if len(rule.DenyRoles) > 0 && roleIn(rule.DenyRoles, req.Role) {
		return false, reason
	}
	if rule.RequireRiskGE != nil {
		if req.CaseRiskScore == nil || *req.CaseRiskScore < *rule.RequireRiskGE {
			return false, reason
		}
	}
	return true, ""
}

func roleIn(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// dotPath dereferences a dotted path ("infra.tags.0" style is NOT
// supported for array indices; only nested object keys are) against a
// payload map, returning (value, found).
func dotPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
