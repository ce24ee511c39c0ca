package utils

import "testing"

func TestDeriveIdempotencyKey_Deterministic(t *testing.T) {
	a := DeriveIdempotencyKey("answer_question", "q-1", "abc", "real")
	b := DeriveIdempotencyKey("answer_question", " q-1 ", "abc", "real")
	if a != b {
		t.Fatal("whitespace around parts must not change the key")
	}
}

func TestDeriveIdempotencyKey_ModeDiscriminates(t *testing.T) {
	dry := DeriveIdempotencyKey("answer_question", "q-1", "abc", "dry")
	real := DeriveIdempotencyKey("answer_question", "q-1", "abc", "real")
	if dry == real {
		t.Fatal("dry and real runs of the same payload must never share a key")
	}
}

func TestHashEventContent_BodySensitive(t *testing.T) {
	a := HashEventContent("order.updated", []byte(`{"id":1}`))
	b := HashEventContent("order.updated", []byte(`{"id":2}`))
	c := HashEventContent("claim.updated", []byte(`{"id":1}`))
	if a == b || a == c {
		t.Fatal("different events must hash differently")
	}
	if a != HashEventContent("order.updated", []byte(`{"id":1}`)) {
		t.Fatal("same event must hash identically")
	}
}

func TestHashPayload_KeyOrderInsensitive(t *testing.T) {
	a := HashPayload(map[string]int{"x": 1, "y": 2})
	b := HashPayload(map[string]int{"y": 2, "x": 1})
	if a == "" || a != b {
		t.Fatalf("map payloads must hash stably, got %q vs %q", a, b)
	}
}
