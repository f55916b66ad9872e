package audit

import (
	"net/http/httptest"
	"testing"

	"governor/internal/policy"
)

func TestBuild_StripsAuthorizationHeaderOutright(t *testing.T) {
	doc := policy.DefaultDocument()
	b := NewEnvelopeBuilder()

	r := httptest.NewRequest("POST", "/actions/execute?case_id=case-1", nil)
	r.Header.Set("Authorization", "Bearer secret-token")
	r.Header.Set("X-Request-Id", "req-1")

	env := b.Build(doc, policy.Actor{Role: "operator"}, r, "req-1", "")
	if _, present := env.Request.Headers["authorization"]; present {
		t.Error("expected authorization header to be stripped outright, never redacted-and-kept")
	}
	if env.Request.Headers["x-request-id"] != "req-1" {
		t.Errorf("got headers %v, want x-request-id allowlisted through", env.Request.Headers)
	}
}

func TestBuild_RedactsSecretPatternHeaders(t *testing.T) {
	doc := policy.DefaultDocument()
	doc.Audit.Request.AllowlistHeaders = append(doc.Audit.Request.AllowlistHeaders, "x-secret-token")
	b := NewEnvelopeBuilder()

	r := httptest.NewRequest("POST", "/actions/execute", nil)
	r.Header.Set("X-Secret-Token", "do-not-leak")

	env := b.Build(doc, policy.Actor{Role: "operator"}, r, "req-2", "")
	if env.Request.Headers["x-secret-token"] != "REDACTED" {
		t.Errorf("got %q, want REDACTED for a redact-pattern header even when allowlisted", env.Request.Headers["x-secret-token"])
	}
}

func TestBuild_DropsHeadersNotAllowlisted(t *testing.T) {
	doc := policy.DefaultDocument()
	b := NewEnvelopeBuilder()

	r := httptest.NewRequest("GET", "/cases", nil)
	r.Header.Set("X-Random-Header", "value")

	env := b.Build(doc, policy.Actor{Role: "operator"}, r, "req-3", "")
	if _, present := env.Request.Headers["x-random-header"]; present {
		t.Error("expected a non-allowlisted header to be dropped entirely")
	}
}

func TestBuild_TruncatesOverlongValues(t *testing.T) {
	doc := policy.DefaultDocument()
	doc.Audit.Request.HeaderValueMaxLen = 4
	b := NewEnvelopeBuilder()

	r := httptest.NewRequest("GET", "/cases", nil)
	r.Header.Set("X-Request-Id", "abcdefgh")

	env := b.Build(doc, policy.Actor{Role: "operator"}, r, "req-4", "")
	got := env.Request.Headers["x-request-id"]
	if got != "abcd…" {
		t.Errorf("got %q, want truncated to 4 chars plus suffix", got)
	}
}

func TestBuild_CachesCompiledPatternsPerDocument(t *testing.T) {
	doc := policy.DefaultDocument()
	b := NewEnvelopeBuilder()

	r := httptest.NewRequest("GET", "/cases", nil)
	r.Header.Set("X-Request-Id", "req-5")

	first := b.Build(doc, policy.Actor{Role: "operator"}, r, "req-5", "")
	second := b.Build(doc, policy.Actor{Role: "operator"}, r, "req-5", "")
	if first.Request.Headers["x-request-id"] != second.Request.Headers["x-request-id"] {
		t.Error("expected identical envelopes across repeated Build calls against the same document")
	}
}

func TestWithAudit_DoesNotMutateOriginalPayload(t *testing.T) {
	original := map[string]any{"card_id": "card-1"}
	env := Envelope{RequestID: "req-6"}

	out := WithAudit(original, env)
	if _, present := original["_audit"]; present {
		t.Fatal("expected WithAudit to leave the original payload untouched")
	}
	if out["_audit"] == nil {
		t.Fatal("expected the returned copy to carry the _audit envelope")
	}
}
