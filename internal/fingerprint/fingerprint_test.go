package fingerprint

import (
	"encoding/json"
	"testing"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	a, err := Canonicalize(json.RawMessage(`{"b":1,"a":{"z":true,"y":[3,2]}}`))
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	want := `{"a":{"y":[3,2],"z":true},"b":1}`
	if string(a) != want {
		t.Errorf("Expected %s, got %s", want, a)
	}
}

func TestCanonicalize_Empty(t *testing.T) {
	for _, in := range []any{nil, json.RawMessage(""), []byte("  ")} {
		got, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("Canonicalize(%v) failed: %v", in, err)
		}
		if string(got) != "{}" {
			t.Errorf("Expected {}, got %s", got)
		}
	}
}

func TestCanonicalize_InvalidJSON(t *testing.T) {
	if _, err := Canonicalize(json.RawMessage(`{"a":`)); err == nil {
		t.Error("Expected error for truncated JSON")
	}
}

func TestToolCall_OrderIndependent(t *testing.T) {
	m := map[string]any{"path": "doc.md", "limit": 10}
	raw := json.RawMessage(`{"limit":10,"path":"doc.md"}`)

	type args struct {
		Path  string `json:"path"`
		Limit int    `json:"limit"`
	}

	fpMap := MustToolCall("read_file", m)
	fpRaw := MustToolCall("read_file", raw)
	fpStruct := MustToolCall("read_file", args{Path: "doc.md", Limit: 10})

	if fpMap != fpRaw || fpRaw != fpStruct {
		t.Errorf("Expected identical fingerprints, got %s %s %s", fpMap, fpRaw, fpStruct)
	}
}

func TestToolCall_DistinguishesToolAndArgs(t *testing.T) {
	base := MustToolCall("read_file", map[string]any{"path": "a.md"})
	if base == MustToolCall("write_file", map[string]any{"path": "a.md"}) {
		t.Error("Different tool names should not collide")
	}
	if base == MustToolCall("read_file", map[string]any{"path": "b.md"}) {
		t.Error("Different args should not collide")
	}
}

func TestListing_OrderIndependent(t *testing.T) {
	if Listing([]string{"a", "b", "c"}) != Listing([]string{"c", "a", "b"}) {
		t.Error("Listing fingerprint should ignore order")
	}
	if Listing([]string{"a", "b"}) == Listing([]string{"a", "b", "c"}) {
		t.Error("Different listings should not collide")
	}
}

func TestContent(t *testing.T) {
	if Content("x") != Content("x") {
		t.Error("Content fingerprint should be deterministic")
	}
	if Content("x") == Content("y") {
		t.Error("Different content should not collide")
	}
}
