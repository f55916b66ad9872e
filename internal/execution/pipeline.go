package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"governor/internal/audit"
	"governor/internal/policy"
	"governor/internal/store"
)

// ActionPipeline implements the C7 execute_action contract: guardrails,
// then either a local card mutation or a connector dispatch, with
// audit-row writes on every non-dry-run call. Grounded on the teacher's
// cmd/auditd request-handling flow (validate -> act -> audit), adapted
// from its single ApproveRequest action to an open action-type registry.
type ActionPipeline struct {
	policyStore *policy.Store
	cards       *store.CardRepo
	cases       *store.CaseRepo
	auditStore  *audit.Store
	connectors  *ConnectorRegistry
}

// NewActionPipeline wires the execution pipeline's collaborators.
func NewActionPipeline(policyStore *policy.Store, cards *store.CardRepo, cases *store.CaseRepo, auditStore *audit.Store, connectors *ConnectorRegistry) *ActionPipeline {
	return &ActionPipeline{policyStore: policyStore, cards: cards, cases: cases, auditStore: auditStore, connectors: connectors}
}

// ExecuteAction runs the generic guardrails, then handles UpdateCardStatus
// locally and dispatches every other action type to a connector. The audit
// row's _audit envelope is req.Envelope as given; when it is empty, no
// envelope is built from the payload.
func (p *ActionPipeline) ExecuteAction(ctx context.Context, req Request) (Result, error) {
	doc := p.policyStore.Get()

	if ok, reason := checkGenericGuardrails(req.Payload); !ok {
		return p.fail(ctx, req, reason)
	}

	if req.ActionType == "UpdateCardStatus" {
		return p.executeUpdateCardStatus(ctx, doc, req)
	}
	return p.executeConnector(ctx, req, "mock")
}

func (p *ActionPipeline) executeUpdateCardStatus(ctx context.Context, doc *policy.Document, req Request) (Result, error) {
	card, newStatus, ok, reason := updateCardStatusGuardrails(ctx, doc, p.cards, p.cases, req.CaseID, req.Channel, req.Payload)
	if !ok {
		return p.fail(ctx, req, reason)
	}

	if req.DryRun {
		return Result{OK: true, DryRun: true, WouldExecute: &WouldExecute{Connector: "local_db"}, Message: "dry run: would update card status"}, nil
	}

	var blockedReason *string
	if v, ok := req.Payload["blocked_reason"].(string); ok && v != "" {
		blockedReason = &v
	}
	var resolvedAt *time.Time
	if _, ok := req.Payload["resolved_at"]; ok {
		t := time.Now().UTC()
		resolvedAt = &t
	}

	if err := p.cards.UpdateStatus(ctx, nil, card.CardID, newStatus, blockedReason, resolvedAt); err != nil {
		return p.fail(ctx, req, fmt.Sprintf("failed to update card status: %v", err))
	}

	actionID := "act_" + uuid.New().String()
	message := fmt.Sprintf("card %s transitioned to %s", card.CardID, newStatus)
	result := Result{OK: true, ActionID: actionID, Connector: "local_db", Message: message}

	p.recordSuccess(ctx, req, actionID, message)
	return result, nil
}

func (p *ActionPipeline) executeConnector(ctx context.Context, req Request, defaultConnector string) (Result, error) {
	connectorName := defaultConnector
	if v, ok := req.Payload["_connector"].(string); ok && v != "" {
		connectorName = v
	}

	if req.DryRun {
		if err := p.probeConnector(connectorName); err != nil {
			return Result{OK: false, DryRun: true, Blocked: true, Message: err.Error()}, nil
		}
		return Result{OK: true, DryRun: true, WouldExecute: &WouldExecute{Connector: connectorName}, Message: "dry run: would dispatch to connector"}, nil
	}

	data, message, err := p.connectors.Dispatch(ctx, connectorName, req.ActionType, req.Payload)
	if err != nil {
		return p.fail(ctx, req, fmt.Sprintf("connector %q: %v", connectorName, err))
	}

	actionID := "act_" + uuid.New().String()
	result := Result{OK: true, ActionID: actionID, Connector: connectorName, Message: message, Data: data}
	p.recordSuccess(ctx, req, actionID, message)
	return result, nil
}

func (p *ActionPipeline) probeConnector(name string) error {
	p.connectors.mu.Lock()
	_, ok := p.connectors.connectors[name]
	p.connectors.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown connector %q", name)
	}
	return nil
}

func (p *ActionPipeline) fail(ctx context.Context, req Request, message string) (Result, error) {
	if req.DryRun {
		return Result{OK: false, DryRun: true, Blocked: true, Message: message}, nil
	}
	actionID := "act_" + uuid.New().String()
	p.auditStore.RecordBestEffort(ctx, audit.Action{
		ActionID: actionID, CaseID: req.CaseID, Channel: req.Channel, ActionType: req.ActionType,
		Payload: audit.WithAudit(req.Payload, req.Envelope),
		Result:  message,
	})
	return Result{OK: false, ActionID: actionID, Blocked: true, Message: message}, nil
}

func (p *ActionPipeline) recordSuccess(ctx context.Context, req Request, actionID, message string) {
	p.auditStore.RecordBestEffort(ctx, audit.Action{
		ActionID: actionID, CaseID: req.CaseID, Channel: req.Channel, ActionType: req.ActionType,
		Payload: audit.WithAudit(req.Payload, req.Envelope),
		Result:  message,
	})
}
