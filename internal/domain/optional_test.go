package domain

import (
	"encoding/json"
	"testing"
)

func TestOptionalJSON(t *testing.T) {
	type payload struct {
		Level Optional[int] `json:"level"`
	}

	unknown, err := json.Marshal(payload{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(unknown) != `{"level":null}` {
		t.Fatalf("expected null for unknown level, got %s", unknown)
	}

	known, err := json.Marshal(payload{Level: Some(0)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(known) != `{"level":0}` {
		t.Fatalf("expected known zero to encode as 0, got %s", known)
	}

	var decoded payload
	if err := json.Unmarshal([]byte(`{"level":null}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Level.Valid() {
		t.Fatalf("expected null to decode as unknown")
	}
	if err := json.Unmarshal([]byte(`{"level":42}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := decoded.Level.Get(); !ok || v != 42 {
		t.Fatalf("expected 42, got %v %v", v, ok)
	}
}

func TestOptionalHelpers(t *testing.T) {
	if got := None[int]().OrElse(7); got != 7 {
		t.Fatalf("expected fallback, got %d", got)
	}
	if None[float64]().Ptr() != nil {
		t.Fatalf("expected nil pointer for unknown")
	}
	v := 3.5
	if got := FromPtr(&v); !got.Valid() || got.OrElse(0) != 3.5 {
		t.Fatalf("unexpected FromPtr result %+v", got)
	}
}

func TestPairIdentity(t *testing.T) {
	pair := BottlePair{
		ID:      PairID("a", "b"),
		Bottle1: MatchedBottle{ID: "a"},
		Bottle2: MatchedBottle{ID: "b"},
	}
	if pair.ID != "a~b" {
		t.Fatalf("unexpected pair id %s", pair.ID)
	}
	if !pair.References("b") || pair.References("c") {
		t.Fatalf("unexpected References result")
	}
}
