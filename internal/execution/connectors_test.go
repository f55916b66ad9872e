package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestDispatch_UnknownConnectorFailsClosed(t *testing.T) {
	r := NewConnectorRegistry(time.Second)
	_, _, err := r.Dispatch(context.Background(), "does-not-exist", "SomeAction", map[string]any{})
	if err == nil {
		t.Fatal("expected an error dispatching to an unregistered connector")
	}
}

func TestDispatch_MockConnectorEchoesPayload(t *testing.T) {
	r := NewConnectorRegistry(time.Second)
	data, message, err := r.Dispatch(context.Background(), "mock", "SendSupplierEmail", map[string]any{"to": "a@example.com"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if message == "" {
		t.Error("expected a non-empty dispatch message")
	}
	if data["echo"] == nil {
		t.Error("expected the mock connector to echo the payload back")
	}
}

func TestStates_ReportsClosedForFreshConnectors(t *testing.T) {
	r := NewConnectorRegistry(time.Second)
	states := r.States()
	if states["mock"] != gobreaker.StateClosed {
		t.Errorf("got mock connector state %v, want closed", states["mock"])
	}
	if states["local_db"] != gobreaker.StateClosed {
		t.Errorf("got local_db connector state %v, want closed", states["local_db"])
	}
}

// failingConnector always errors, used to drive a circuit breaker open.
type failingConnector struct{}

func (failingConnector) Name() string { return "failing" }

func (failingConnector) Dispatch(context.Context, string, map[string]any) (map[string]any, string, error) {
	return nil, "", errors.New("downstream unavailable")
}

func TestDispatch_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	r := NewConnectorRegistry(time.Second)
	r.Register(failingConnector{})

	for i := 0; i < 3; i++ {
		if _, _, err := r.Dispatch(context.Background(), "failing", "Whatever", map[string]any{}); err == nil {
			t.Fatal("expected the failing connector to error")
		}
	}

	states := r.States()
	if states["failing"] != gobreaker.StateOpen {
		t.Errorf("got failing connector state %v after 3 consecutive failures, want open", states["failing"])
	}

	_, _, err := r.Dispatch(context.Background(), "failing", "Whatever", map[string]any{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("got err %v, want gobreaker.ErrOpenState once the breaker is open", err)
	}
}
