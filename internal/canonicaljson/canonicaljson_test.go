package canonicaljson

import "testing"

func TestMarshal_SortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	outA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal(a) failed: %v", err)
	}
	outB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal(b) failed: %v", err)
	}
	if string(outA) != string(outB) {
		t.Fatalf("canonical encodings differ by key order: %q vs %q", outA, outB)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(outA) != want {
		t.Errorf("got %q, want %q", outA, want)
	}
}

func TestHash_Deterministic(t *testing.T) {
	v1 := map[string]any{"x": 1, "y": []any{"a", "b"}}
	v2 := map[string]any{"y": []any{"a", "b"}, "x": 1}

	h1, err := Hash(v1)
	if err != nil {
		t.Fatalf("Hash(v1) failed: %v", err)
	}
	h2, err := Hash(v2)
	if err != nil {
		t.Fatalf("Hash(v2) failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected equal hashes for key-reordered equivalent maps, got %q vs %q", h1, h2)
	}
}

func TestHash_DiffersOnContentChange(t *testing.T) {
	h1, _ := Hash(map[string]any{"a": 1})
	h2, _ := Hash(map[string]any{"a": 2})
	if h1 == h2 {
		t.Error("expected different content to produce different hashes")
	}
}

func TestMarshal_PreservesNumberForm(t *testing.T) {
	out, err := Marshal(map[string]any{"n": 10})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `{"n":10}` {
		t.Errorf("got %q, want integer form preserved", out)
	}
}
