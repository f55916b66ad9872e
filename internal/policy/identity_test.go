package policy

import (
	"net/http"
	"testing"
)

func TestNormalizeActor_HeaderRoleWins(t *testing.T) {
	doc := DefaultDocument()
	headers := http.Header{}
	headers.Set("X-User-Id", "u-1")
	headers.Set("X-User-Role", "admin")
	headers.Set("X-User-Groups", "sre, oncall")

	actor := doc.NormalizeActor(headers, nil, "ui")

	if actor.Role != "admin" || actor.Source != "headers" {
		t.Fatalf("got role=%q source=%q, want role=admin source=headers", actor.Role, actor.Source)
	}
	if actor.Sub != "u-1" {
		t.Errorf("got sub=%q, want u-1", actor.Sub)
	}
	if len(actor.Groups) != 2 || actor.Groups[0] != "sre" || actor.Groups[1] != "oncall" {
		t.Errorf("got groups=%v, want [sre oncall]", actor.Groups)
	}
}

func TestNormalizeActor_ChannelFallback(t *testing.T) {
	doc := DefaultDocument()
	actor := doc.NormalizeActor(http.Header{}, nil, "api")

	if actor.Role != "service" {
		t.Fatalf("got role=%q, want service (channel default for api)", actor.Role)
	}
	if actor.Source != "channel" {
		t.Errorf("got source=%q, want channel", actor.Source)
	}
}

func TestNormalizeActor_GroupMapping(t *testing.T) {
	doc := DefaultDocument()
	doc.RBAC.RoleMapping.GroupRules = []RoleRule{
		{Role: "supervisor", When: RoleWhen{Kind: RoleWhenPatterns, List: []string{"sre-leads"}}},
	}
	headers := http.Header{}
	headers.Set("X-User-Groups", "sre-leads")

	actor := doc.NormalizeActor(headers, nil, "ui")
	if actor.Role != "supervisor" || actor.Source != "mapped" {
		t.Fatalf("got role=%q source=%q, want role=supervisor source=mapped", actor.Role, actor.Source)
	}
}

func TestNormalizeActor_DeniedGroup(t *testing.T) {
	doc := DefaultDocument()
	doc.RBAC.RoleMapping.Deny = []string{"suspended"}
	headers := http.Header{}
	headers.Set("X-User-Groups", "suspended")

	actor := doc.NormalizeActor(headers, nil, "ui")
	if actor.Role != "denied" {
		t.Fatalf("got role=%q, want denied", actor.Role)
	}
}
