package policy

import (
	"encoding/json"
	"fmt"
)

// validStatuses is the fixed KanbanCard status closure from spec.md §3.
var validStatuses = map[string]bool{
	"todo": true, "in_progress": true, "blocked": true, "resolved": true,
}

var validPendingStatuses = map[string]bool{
	"pending": true, "approved": true, "rejected": true,
	"executed": true, "blocked": true, "canceled": true,
}

// Validate performs the structural checks spec.md §4.1 requires of every
// policy subtree, returning (errors, warnings). A non-empty errors slice
// means the document must not be saved or hot-reloaded into service.
func Validate(doc *Document) (errors []string, warnings []string) {
	errors = append(errors, validateCardStatusPolicy(doc.CardStatusPolicy)...)
	errors = append(errors, validateRBAC(doc.RBAC)...)
	errors = append(errors, validatePendingActionPolicy(doc.PendingActionPolicy)...)
	errs, warns := validateAuditPolicy(doc.Audit)
	errors = append(errors, errs...)
	warnings = append(warnings, warns...)

	if doc.Idempotency.TTLHours < 0 {
		errors = append(errors, "idempotency.ttl_hours must be >= 0")
	}
	if doc.ActionApprovalPolicy.ApprovalGate.Resolve.HighRiskThreshold < 0 ||
		doc.ActionApprovalPolicy.ApprovalGate.Resolve.HighRiskThreshold > 100 {
		warnings = append(warnings, "action_approval_policy.approval_gate.resolve.high_risk_threshold outside [0,100]")
	}
	return errors, warnings
}

func validateCardStatusPolicy(p CardStatusPolicy) []string {
	var errs []string
	for from, tos := range p.AllowedTransitions {
		if !validStatuses[from] {
			errs = append(errs, fmt.Sprintf("card_status_policy: unknown source status %q", from))
		}
		for _, to := range tos {
			if !validStatuses[to] {
				errs = append(errs, fmt.Sprintf("card_status_policy: unknown target status %q (from %q)", to, from))
			}
		}
	}
	return errs
}

func validateRBAC(r RBAC) []string {
	var errs []string
	for i, rule := range r.ActionPayloadRules {
		if rule.ActionType == "" {
			errs = append(errs, fmt.Sprintf("rbac.action_payload_rules[%d]: action_type required", i))
		}
		for key, matcher := range rule.When {
			if matcher.Kind == KindOp && matcher.Op == OpRegex {
				pattern := fmt.Sprintf("%v", matcher.OpArg)
				if _, err := Compile(PatternString("re:" + pattern)); err != nil {
					errs = append(errs, fmt.Sprintf("rbac.action_payload_rules[%d].when[%s]: invalid regex: %v", i, key, err))
				}
			}
		}
	}
	for i, rule := range r.RoleMapping.GroupRules {
		if rule.Role == "" {
			errs = append(errs, fmt.Sprintf("rbac.role_mapping.group_rules[%d]: role required", i))
		}
	}
	for i, rule := range r.RoleMapping.EntitlementRules {
		if rule.Role == "" {
			errs = append(errs, fmt.Sprintf("rbac.role_mapping.entitlement_rules[%d]: role required", i))
		}
	}
	return errs
}

func validatePendingActionPolicy(p PendingActionPolicy) []string {
	var errs []string
	for from, tos := range p.AllowedTransitions {
		if !validPendingStatuses[from] {
			errs = append(errs, fmt.Sprintf("pending_action_policy: unknown source status %q", from))
		}
		for _, to := range tos {
			if !validPendingStatuses[to] {
				errs = append(errs, fmt.Sprintf("pending_action_policy: unknown target status %q (from %q)", to, from))
			}
		}
	}
	return errs
}

func validateAuditPolicy(a AuditPolicy) (errs, warns []string) {
	checkPatterns := func(field string, patterns []PatternString) {
		for _, p := range patterns {
			if _, err := Compile(p); err != nil {
				errs = append(errs, fmt.Sprintf("audit.request.%s: invalid pattern %q: %v", field, p, err))
			}
		}
	}
	checkPatterns("allowlist_headers", a.Request.AllowlistHeaders)
	checkPatterns("redact_headers", a.Request.RedactHeaders)
	if a.Request.HeaderValueMaxLen < 0 {
		errs = append(errs, "audit.request.header_value_max_len must be >= 0")
	}
	if a.Request.QueryValueMaxLen < 0 {
		errs = append(errs, "audit.request.query_value_max_len must be >= 0")
	}
	if a.Request.HeaderValueMaxLen == 0 {
		warns = append(warns, "audit.request.header_value_max_len is 0 (defaulting to 256 at use)")
	}
	return errs, warns
}

// ApplyMergePatch applies an RFC 7396 JSON Merge Patch over doc and
// returns the merged document. doc is not mutated; the patch is applied
// to a generic map representation and re-decoded into a fresh Document so
// merge semantics (null deletes a key, objects merge recursively, any
// other value replaces) apply uniformly across the whole tree.
func ApplyMergePatch(doc *Document, patch []byte) (*Document, error) {
	baseJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal base: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(baseJSON, &base); err != nil {
		return nil, fmt.Errorf("policy: decode base: %w", err)
	}

	var patchMap map[string]any
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return nil, fmt.Errorf("policy: decode patch: %w", err)
	}

	merged := mergePatch(base, patchMap)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal merged: %w", err)
	}
	var out Document
	if err := json.Unmarshal(mergedJSON, &out); err != nil {
		return nil, fmt.Errorf("policy: decode merged: %w", err)
	}
	return &out, nil
}

// mergePatch implements RFC 7396 merge semantics for map[string]any trees:
// a null value deletes the key; an object value merges recursively;
// anything else replaces the key wholesale (including arrays, which RFC
// 7396 never merges element-wise).
func mergePatch(target, patch map[string]any) map[string]any {
	if target == nil {
		target = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		patchObj, patchIsObj := v.(map[string]any)
		targetObj, targetIsObj := target[k].(map[string]any)
		if patchIsObj && targetIsObj {
			target[k] = mergePatch(targetObj, patchObj)
		} else if patchIsObj {
			target[k] = mergePatch(map[string]any{}, patchObj)
		} else {
			target[k] = v
		}
	}
	return target
}
