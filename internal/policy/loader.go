package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses a policy document from disk. YAML is assumed
// unless the path ends in ".json". Environment variables referenced as
// "${VAR}" in the raw text are expanded before parsing, mirroring the
// teacher's os.ExpandEnv-before-unmarshal convention.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Load(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Load parses raw policy document bytes.
func Load(data []byte, isJSON bool) (*Document, error) {
	expanded := os.ExpandEnv(string(data))
	var doc Document
	var err error
	if isJSON {
		err = json.Unmarshal([]byte(expanded), &doc)
	} else {
		err = yaml.Unmarshal([]byte(expanded), &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	if errs, _ := Validate(&doc); len(errs) > 0 {
		return nil, fmt.Errorf("policy: invalid document: %s", strings.Join(errs, "; "))
	}
	return &doc, nil
}

// SaveFile writes doc to path atomically: encode to a temp file in the
// same directory, then rename over the target, per spec.md §4.1.
func SaveFile(path string, doc *Document) error {
	dir := filepath.Dir(path)
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")

	var out []byte
	var err error
	if isJSON {
		out, err = json.MarshalIndent(doc, "", "  ")
	} else {
		out, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("policy: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".policy-*.tmp")
	if err != nil {
		return fmt.Errorf("policy: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("policy: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("policy: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("policy: rename into place: %w", err)
	}
	return nil
}

// DefaultDocument returns a minimal, safe-by-default policy: reads allowed
// everywhere, writes require approval, destructive-leaning transitions
// deny by default. Used when no policy file exists yet.
func DefaultDocument() *Document {
	return &Document{
		Revision:  1,
		UpdatedAt: time.Now().UTC(),
		CardStatusPolicy: CardStatusPolicy{
			AllowedTransitions: map[string][]string{
				"todo":        {"in_progress", "blocked"},
				"in_progress": {"blocked", "resolved", "todo"},
				"blocked":     {"in_progress", "todo"},
				"resolved":    {},
			},
			RequireBlockedReason: true,
			RequireResolvedAt:    true,
		},
		RBAC: RBAC{
			Channels: map[string]string{
				"ui": "operator", "api": "service", "supervisor": "supervisor",
				"system": "system", "agent": "agent", "slack": "operator",
			},
			Permissions: Permissions{
				Approve: map[string][]string{"supervisor": {"*"}, "admin": {"*"}},
				Execute: map[string][]string{"operator": {"UpdateCardStatus"}, "service": {"*"}, "admin": {"*"}},
			},
			RoleMapping: RoleMapping{FirstMatchWins: true},
		},
		Identity: Identity{
			DefaultProvider: "default",
			Providers: map[string]ProviderClaims{
				"default": {
					Sub: []string{"sub"}, Email: []string{"email"}, Name: []string{"name"},
					Groups: []string{"groups"}, Entitlements: []string{"entitlements"},
				},
			},
		},
		Audit: AuditPolicy{
			Request: RequestAuditPolicy{
				AllowlistHeaders:  []PatternString{"x-request-id", "x-channel"},
				RedactHeaders:     []PatternString{"re:^x-secret-", "re:^x-pii-"},
				HeaderValueMaxLen: 256,
				QueryValueMaxLen:  256,
			},
		},
		Idempotency: IdempotencyPolicy{Enabled: true, TTLHours: 24},
		ActionApprovalPolicy: ActionApprovalPolicy{},
		PendingActionPolicy: PendingActionPolicy{
			AllowedTransitions: map[string][]string{
				"pending":  {"approved", "rejected", "canceled", "blocked"},
				"approved": {"executed", "blocked", "canceled"},
			},
			SupersedeStatuses: []string{"pending", "approved"},
		},
		MaterializationPolicy: MaterializationPolicy{TTLHours: 24},
	}
}
