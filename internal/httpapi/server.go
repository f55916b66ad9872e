// Package httpapi implements the public HTTP surface (C9): admission
// middleware, governance endpoints, the execute/pending-action/case/audit
// resource handlers, and the chi route table wiring them together.
// Grounded on the teacher's cmd/auditd server construction, generalized
// from its bare http.ServeMux to go-chi/chi/v5 for the larger, more
// deeply nested route surface spec.md §6 names.
package httpapi

import (
	"database/sql"
	"net/http"

	"governor/internal/audit"
	"governor/internal/execution"
	"governor/internal/idempotency"
	"governor/internal/pending"
	"governor/internal/policy"
	"governor/internal/store"
)

// Server holds every collaborator the handlers dispatch through.
type Server struct {
	db         *sql.DB
	isPostgres bool

	policyStore *policy.Store
	auditStore  *audit.Store
	idemStore   *idempotency.Store
	envelopes   *audit.EnvelopeBuilder

	cases           *store.CaseRepo
	cards           *store.CardRepo
	materializations *store.MaterializationRepo

	pendingLifecycle *pending.Lifecycle
	pipeline         *execution.ActionPipeline
	connectors       *execution.ConnectorRegistry

	devMode    bool
	policyPath string
	jwtSecret  string
	jwtAlg     string
	jwtVerify  bool
}

// Config carries Server's construction-time settings.
type Config struct {
	DevMode    bool
	PolicyPath string
	JWTSecret  string
	JWTAlg     string
	JWTVerify  bool
}

// NewServer wires a Server against its collaborators.
func NewServer(
	db *sql.DB,
	isPostgres bool,
	policyStore *policy.Store,
	auditStore *audit.Store,
	idemStore *idempotency.Store,
	cases *store.CaseRepo,
	cards *store.CardRepo,
	materializations *store.MaterializationRepo,
	pendingLifecycle *pending.Lifecycle,
	pipeline *execution.ActionPipeline,
	connectors *execution.ConnectorRegistry,
	cfg Config,
) *Server {
	return &Server{
		db:               db,
		isPostgres:       isPostgres,
		policyStore:      policyStore,
		auditStore:       auditStore,
		idemStore:        idemStore,
		envelopes:        audit.NewEnvelopeBuilder(),
		cases:            cases,
		cards:            cards,
		materializations: materializations,
		pendingLifecycle: pendingLifecycle,
		pipeline:         pipeline,
		connectors:       connectors,
		devMode:          cfg.DevMode,
		policyPath:       cfg.PolicyPath,
		jwtSecret:        cfg.JWTSecret,
		jwtAlg:           cfg.JWTAlg,
		jwtVerify:        cfg.JWTVerify,
	}
}

// actorAndChannel resolves the normalized actor and the request's channel
// per spec.md §4.2, decoding an optional bearer token first.
func (s *Server) actorAndChannel(doc *policy.Document, r *http.Request) (policy.Actor, string) {
	channel := r.Header.Get("X-Channel")
	if channel == "" {
		channel = "ui"
	}

	var claims map[string]any
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if decoded, err := policy.DecodeBearerToken(authHeader, s.jwtSecret, s.jwtAlg, s.jwtVerify); err == nil {
			claims = decoded
		}
	}

	actor := doc.NormalizeActor(r.Header, claims, channel)
	return actor, channel
}
