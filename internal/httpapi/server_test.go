package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"governor/internal/audit"
	"governor/internal/execution"
	"governor/internal/idempotency"
	"governor/internal/pending"
	"governor/internal/policy"
	"governor/internal/store"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	db, isPostgres, err := store.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	policyStore, stopWatch, err := policy.NewStore(policyPath)
	if err != nil {
		t.Fatalf("policy.NewStore failed: %v", err)
	}
	t.Cleanup(stopWatch)

	cases := store.NewCaseRepo(db, isPostgres)
	cards := store.NewCardRepo(db, isPostgres)
	materializations := store.NewMaterializationRepo(db, isPostgres)
	auditStore := audit.NewStore(db, isPostgres)
	idemStore := idempotency.NewStore(db, isPostgres)
	connectors := execution.NewConnectorRegistry(time.Second)
	pipeline := execution.NewActionPipeline(policyStore, cards, cases, auditStore, connectors)
	pendingStore := pending.NewStore(db, isPostgres)
	lifecycle := pending.NewLifecycle(pendingStore, policyStore, auditStore, pipeline)

	s := NewServer(db, isPostgres, policyStore, auditStore, idemStore, cases, cards, materializations,
		lifecycle, pipeline, connectors, Config{DevMode: true, PolicyPath: policyPath})
	return s, s.Router()
}

func TestHandleHealthz(t *testing.T) {
	_, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
}

func TestHandleGetPolicy_SetsETagAndRevisionHeaders(t *testing.T) {
	_, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/governance/policy/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("expected an ETag header")
	}
	if w.Header().Get("X-Policy-Revision") == "" {
		t.Error("expected an X-Policy-Revision header")
	}
}

func TestHandleExplain_RequiresActionTypeAndRole(t *testing.T) {
	_, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/governance/explain", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want 422 when action_type/role are missing", w.Code)
	}
}

func TestHandleExplain_ServiceRoleCanExecuteAnyAction(t *testing.T) {
	_, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/governance/explain?action_type=SendSupplierEmail&role=service", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	var trace policy.DecisionTrace
	if err := json.NewDecoder(w.Body).Decode(&trace); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !trace.Allowed {
		t.Errorf("got trace %+v, want allowed=true for the service role", trace)
	}
}

func TestHandleExecuteAction_RejectsMissingRequiredFields(t *testing.T) {
	_, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/actions/execute", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want 422 for a body missing case_id/action_type", w.Code)
	}
}

func TestHandleExecuteAction_UpdateCardStatusSucceeds(t *testing.T) {
	s, router := newTestServer(t)
	ctx := context.Background()

	if err := s.cases.Upsert(ctx, store.Case{CaseID: "case-1", ResourceID: "res-1", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	if err := s.cards.Upsert(ctx, store.KanbanCard{CardID: "card-1", CaseID: "case-1", Status: "todo"}); err != nil {
		t.Fatalf("seed card failed: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"case_id": "case-1", "action_type": "UpdateCardStatus",
		"payload": map[string]any{"card_id": "card-1", "new_status": "in_progress"},
	})
	req := httptest.NewRequest(http.MethodPost, "/actions/execute", bytes.NewReader(body))
	req.Header.Set("X-User-Role", "operator")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d (%s), want 200", w.Code, w.Body.String())
	}

	card, err := s.cards.Get(ctx, "card-1")
	if err != nil {
		t.Fatalf("Get card failed: %v", err)
	}
	if card.Status != "in_progress" {
		t.Errorf("got card status %q, want in_progress", card.Status)
	}
}

func TestHandleGetCase_NotFound(t *testing.T) {
	_, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cases/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", w.Code)
	}
}

