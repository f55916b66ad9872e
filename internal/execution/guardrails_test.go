package execution

import "testing"

func TestCheckGenericGuardrails(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantOK  bool
	}{
		{"no qty field", map[string]any{}, true},
		{"non-negative qty", map[string]any{"qty": 5}, true},
		{"negative qty", map[string]any{"qty": -1}, false},
		{"non-numeric qty", map[string]any{"qty": "many"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := checkGenericGuardrails(tt.payload)
			if ok != tt.wantOK {
				t.Fatalf("checkGenericGuardrails(%v) = %v (%q), want %v", tt.payload, ok, reason, tt.wantOK)
			}
		})
	}
}
