package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Connector dispatches an action to an external system. mock and
// local_db are the only built-in connectors; further connectors are added
// with ConnectorRegistry.Register, and a name with no registered connector
// fails closed, per spec.md §4.7.
type Connector interface {
	Name() string
	Dispatch(ctx context.Context, actionType string, payload map[string]any) (map[string]any, string, error)
}

// ConnectorRegistry wraps each registered Connector in its own circuit
// breaker, grounded on the sony/gobreaker settings pattern used in the
// pack's notification-delivery circuit breaker manager.
type ConnectorRegistry struct {
	mu         sync.Mutex
	connectors map[string]Connector
	breakers   map[string]*gobreaker.CircuitBreaker
	timeout    time.Duration
}

// NewConnectorRegistry builds a registry with the default mock/local_db
// connectors registered, with callDeadline as each dispatch's context
// timeout (default 10s per spec.md §5).
func NewConnectorRegistry(callDeadline time.Duration) *ConnectorRegistry {
	if callDeadline <= 0 {
		callDeadline = 10 * time.Second
	}
	r := &ConnectorRegistry{
		connectors: map[string]Connector{},
		breakers:   map[string]*gobreaker.CircuitBreaker{},
		timeout:    callDeadline,
	}
	r.Register(&mockConnector{})
	r.Register(&localDBConnector{})
	return r
}

// Register adds or replaces a named connector.
func (r *ConnectorRegistry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Name()] = c
	r.breakers[c.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        c.Name(),
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// States snapshots each registered connector's circuit breaker state, for
// the governor_circuit_state gauge.
func (r *ConnectorRegistry) States() map[string]gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]gobreaker.State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// Dispatch runs name's connector through its circuit breaker with a
// bounded deadline. An unknown connector name fails closed.
func (r *ConnectorRegistry) Dispatch(ctx context.Context, name, actionType string, payload map[string]any) (map[string]any, string, error) {
	r.mu.Lock()
	connector, ok := r.connectors[name]
	breaker := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("unknown connector %q", name)
	}

	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := breaker.Execute(func() (any, error) {
		data, message, err := connector.Dispatch(dctx, actionType, payload)
		if err != nil {
			return nil, err
		}
		return connectorResult{data: data, message: message}, nil
	})
	if err != nil {
		return nil, "", err
	}
	cr := result.(connectorResult)
	return cr.data, cr.message, nil
}

type connectorResult struct {
	data    map[string]any
	message string
}

// mockConnector is the default connector: it always succeeds, echoing the
// action back as its result message, for environments with no real
// downstream system wired.
type mockConnector struct{}

func (mockConnector) Name() string { return "mock" }

func (mockConnector) Dispatch(_ context.Context, actionType string, payload map[string]any) (map[string]any, string, error) {
	return map[string]any{"echo": payload}, fmt.Sprintf("mock connector accepted %s", actionType), nil
}

// localDBConnector marks dispatches the pipeline already performed
// locally (UpdateCardStatus) as succeeded, carrying no further side
// effect of its own.
type localDBConnector struct{}

func (localDBConnector) Name() string { return "local_db" }

func (localDBConnector) Dispatch(_ context.Context, actionType string, _ map[string]any) (map[string]any, string, error) {
	return nil, fmt.Sprintf("%s applied locally", actionType), nil
}
