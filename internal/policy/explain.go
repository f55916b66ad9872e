package policy

import "fmt"

// DecisionTrace records why can_execute/can_approve reached its verdict,
// for the /governance/explain dry-run endpoint. The shape mirrors the
// teacher's DecisionTrace/PolicyTrace/RuleTrace/ConditionTrace usage in
// engine.go and explain.go, whose type definitions were absent from the
// retrieved tree; this is an original definition inferred from that usage.
type DecisionTrace struct {
	Allowed       bool        `json:"allowed"`
	Reason        string      `json:"reason,omitempty"`
	PermissionHit bool        `json:"permission_hit"`
	Rules         []RuleTrace `json:"rules"`
	Explanation   string      `json:"explanation"`
}

// RuleTrace records one action_payload_rules entry's evaluation.
type RuleTrace struct {
	ActionType string           `json:"action_type"`
	Applied    bool             `json:"applied"`
	Passed     bool             `json:"passed"`
	Conditions []ConditionTrace `json:"conditions,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// ConditionTrace records one require_roles/deny_roles/require_risk_ge
// check within a rule.
type ConditionTrace struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ExplainExecute runs can_execute while recording a full decision trace,
// for the explainability endpoint.
func (d *Document) ExplainExecute(req Request) DecisionTrace {
	return d.explain(d.RBAC.Permissions.Execute, req)
}

// ExplainApprove mirrors ExplainExecute against permissions.approve.
func (d *Document) ExplainApprove(req Request) DecisionTrace {
	return d.explain(d.RBAC.Permissions.Approve, req)
}

func (d *Document) explain(perm map[string][]string, req Request) DecisionTrace {
	trace := DecisionTrace{}

	trace.PermissionHit = permitsAction(perm, req.Role, req.ActionType)
	if !trace.PermissionHit {
		trace.Allowed = false
		trace.Reason = fmt.Sprintf("role %q is not permitted to perform %q", req.Role, req.ActionType)
		trace.Explanation = trace.Reason
		return trace
	}

	if req.Role == "operator" && req.ActionType == "UpdateCardStatus" {
		if newStatus, ok := dotPath(req.Payload, "new_status"); ok {
			ns := fmt.Sprintf("%v", newStatus)
			for _, denied := range d.RBAC.Constraints.OperatorUpdateCardStatus.DenyNewStatus {
				if denied == ns {
					trace.Allowed = false
					trace.Reason = fmt.Sprintf("operators may not set card status to %q", ns)
					trace.Explanation = trace.Reason
					return trace
				}
			}
		}
	}

	for _, rule := range d.RBAC.ActionPayloadRules {
		rt := RuleTrace{ActionType: rule.ActionType}
		if rule.ActionType != req.ActionType {
			trace.Rules = append(trace.Rules, rt)
			continue
		}
		rt.Applied = payloadMatchesWhen(req.Payload, rule.When)
		if !rt.Applied {
			trace.Rules = append(trace.Rules, rt)
			continue
		}
		rt.Passed, rt.Conditions, rt.Reason = evaluateRuleWithTrace(rule, req)
		trace.Rules = append(trace.Rules, rt)
		if !rt.Passed {
			trace.Allowed = false
			trace.Reason = rt.Reason
			trace.Explanation = fmt.Sprintf("denied by action_payload_rules entry for %q: %s", rule.ActionType, rt.Reason)
			return trace
		}
	}

	trace.Allowed = true
	trace.Explanation = fmt.Sprintf("role %q permitted to perform %q; all applicable payload rules passed", req.Role, req.ActionType)
	return trace
}

func evaluateRuleWithTrace(rule ActionPayloadRule, req Request) (bool, []ConditionTrace, string) {
	var conditions []ConditionTrace
	reason := rule.Reason
	if reason == "" {
		reason = fmt.Sprintf("payload rule for action %q denied the request", rule.ActionType)
	}

	if len(rule.RequireRoles) > 0 {
		ok := roleIn(rule.RequireRoles, req.Role)
		conditions = append(conditions, ConditionTrace{Name: "require_roles", Passed: ok})
		if !ok {
			return false, conditions, reason
		}
	}
	if len(rule.DenyRoles) > 0 {
		ok := !roleIn(rule.DenyRoles, req.Role)
		conditions = append(conditions, ConditionTrace{Name: "deny_roles", Passed: ok})
		if !ok {
			return false, conditions, reason
		}
	}
	if rule.RequireRiskGE != nil {
		ok := req.CaseRiskScore != nil && *req.CaseRiskScore >= *rule.RequireRiskGE
		detail := "case risk score unknown"
		if req.CaseRiskScore != nil {
			detail = fmt.Sprintf("case risk score %d vs threshold %d", *req.CaseRiskScore, *rule.RequireRiskGE)
		}
		conditions = append(conditions, ConditionTrace{Name: "require_risk_ge", Passed: ok, Detail: detail})
		if !ok {
			return false, conditions, reason
		}
	}
	return true, conditions, ""
}
