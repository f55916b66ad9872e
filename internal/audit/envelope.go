package audit

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"governor/internal/policy"
)

// hardDenylist is stripped irrespective of policy, per spec.md §4.5.
var hardDenylist = map[string]bool{
	"authorization":      true,
	"cookie":             true,
	"set-cookie":         true,
	"proxy-authorization": true,
}

const (
	defaultHeaderValueMaxLen = 256
	defaultQueryValueMaxLen  = 256
	truncationSuffix         = "…"
)

// RequestEnvelope is the `request` subtree of the `_audit` envelope.
type RequestEnvelope struct {
	Path    string            `json:"path"`
	Method  string            `json:"method"`
	Query   map[string]string `json:"query"`
	Headers map[string]string `json:"headers"`
}

// Envelope is the full `_audit` object attached to audited payloads, per
// spec.md §4.5.
type Envelope struct {
	Actor             ActorView       `json:"actor"`
	Request           RequestEnvelope `json:"request"`
	PolicyRevision    int             `json:"policy_revision"`
	MaterializationID string          `json:"materialization_id,omitempty"`
	RequestID         string          `json:"request_id"`
	CorrelationID     string          `json:"correlation_id"`
}

// ActorView is the actor fields embedded in the envelope (no internal
// source/provider bookkeeping, just what an auditor needs to see).
type ActorView struct {
	Sub          string   `json:"sub,omitempty"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role,omitempty"`
	Groups       []string `json:"groups,omitempty"`
	Entitlements []string `json:"entitlements,omitempty"`
}

// EnvelopeBuilder sanitizes inbound requests into audit envelopes,
// caching the compiled allow/redact pattern set against the policy
// document pointer that produced it, so envelope construction never
// recompiles patterns per request (SPEC_FULL §C5).
type EnvelopeBuilder struct {
	mu     sync.Mutex
	forDoc *policy.Document
	allow  []*policy.CompiledPattern
	redact []*policy.CompiledPattern
}

// NewEnvelopeBuilder returns an empty builder; its cache is populated
// lazily on first Build call.
func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{}
}

func (b *EnvelopeBuilder) patternsFor(doc *policy.Document) ([]*policy.CompiledPattern, []*policy.CompiledPattern) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forDoc == doc {
		return b.allow, b.redact
	}
	b.forDoc = doc
	b.allow = policy.CompileAll(doc.Audit.Request.AllowlistHeaders)
	b.redact = policy.CompileAll(doc.Audit.Request.RedactHeaders)
	return b.allow, b.redact
}

// Build constructs the audit envelope for an inbound request.
func (b *EnvelopeBuilder) Build(doc *policy.Document, actor policy.Actor, r *http.Request, requestID, materializationID string) Envelope {
	allow, redact := b.patternsFor(doc)

	headerMaxLen := doc.Audit.Request.HeaderValueMaxLen
	if headerMaxLen <= 0 {
		headerMaxLen = defaultHeaderValueMaxLen
	}
	queryMaxLen := doc.Audit.Request.QueryValueMaxLen
	if queryMaxLen <= 0 {
		queryMaxLen = defaultQueryValueMaxLen
	}

	var path, method string
	var headers map[string]string
	var query map[string]string
	if r != nil {
		path = r.URL.Path
		method = r.Method
		headers = sanitizeHeaders(r.Header, allow, redact, headerMaxLen)
		query = sanitizeQuery(r.URL.Query(), doc.Audit.Request.AllowlistQuery, queryMaxLen)
	}

	return Envelope{
		Actor: ActorView{
			Sub: actor.Sub, Email: actor.Email, Role: actor.Role,
			Groups: actor.Groups, Entitlements: actor.Entitlements,
		},
		Request: RequestEnvelope{
			Path: path, Method: method, Query: query, Headers: headers,
		},
		PolicyRevision:    doc.Revision,
		MaterializationID: materializationID,
		RequestID:         requestID,
		CorrelationID:     requestID,
	}
}

func sanitizeHeaders(headers http.Header, allow, redact []*policy.CompiledPattern, maxLen int) map[string]string {
	out := map[string]string{}
	for name, values := range headers {
		lower := strings.ToLower(name)
		if hardDenylist[lower] {
			continue
		}
		if policy.MatchAny(redact, lower) {
			out[lower] = "REDACTED"
			continue
		}
		if !policy.MatchAny(allow, lower) {
			continue
		}
		if len(values) == 0 {
			continue
		}
		out[lower] = truncate(values[0], maxLen)
	}
	return out
}

func sanitizeQuery(query url.Values, allowlist []string, maxLen int) map[string]string {
	allowed := make(map[string]bool, len(allowlist))
	for _, k := range allowlist {
		allowed[k] = true
	}
	out := map[string]string{}
	for key, values := range query {
		if !allowed[key] || len(values) == 0 {
			continue
		}
		out[key] = truncate(values[0], maxLen)
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return truncationSuffix
	}
	return s[:maxLen] + truncationSuffix
}

// WithAudit returns a shallow copy of payload with key "_audit" set to
// envelope; payload itself is never mutated.
func WithAudit(payload map[string]any, envelope Envelope) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["_audit"] = envelope
	return out
}
