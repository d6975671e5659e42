package batch

import (
	"testing"

	"wabridge/internal/phone"
)

func TestComposePartitionsRejected(t *testing.T) {
	recipients := []Recipient{
		{Label: "Ana", RawPhone: "3001234567", Text: "hola Ana"},
		{Label: "Sin Tel", RawPhone: "", Text: "x"},
		{Label: "Beto", RawPhone: "+57 300 765 4321", Text: "hola Beto"},
		{Label: "Fijo", RawPhone: "601234567", Text: "x"},
		{Label: "Basura", RawPhone: "call-me", Text: "x"},
	}

	b, rejected := Compose(phone.DefaultProfile(), recipients, ThrottlePolicy{PerMinute: 10}, false, "tester", "")

	if len(b.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(b.Messages))
	}
	if len(rejected) != 3 {
		t.Fatalf("got %d rejected, want 3", len(rejected))
	}

	// No recipient may appear in both partitions.
	inBatch := map[string]bool{}
	for _, m := range b.Messages {
		inBatch[m.Label] = true
	}
	for _, r := range rejected {
		if inBatch[r.Label] {
			t.Fatalf("recipient %q appears in both batch and rejected", r.Label)
		}
	}

	wantReasons := map[string]phone.Reason{
		"Sin Tel": phone.ReasonNoPhone,
		"Fijo":    phone.ReasonNotMobileLocal,
		"Basura":  phone.ReasonInvalidFormat,
	}
	for _, r := range rejected {
		if r.Reason != wantReasons[r.Label] {
			t.Fatalf("rejected %q reason = %q, want %q", r.Label, r.Reason, wantReasons[r.Label])
		}
	}
}

func TestComposeMessageIDsMatchSourceRows(t *testing.T) {
	recipients := []Recipient{
		{Label: "r0", RawPhone: "3000000000", Text: "a"},
		{Label: "r1", RawPhone: "bad", Text: "b"},
		{Label: "r2", RawPhone: "3000000002", Text: "c"},
	}
	b, _ := Compose(phone.DefaultProfile(), recipients, ThrottlePolicy{}, false, "t", "fixed-id")

	if b.BatchID != "fixed-id" {
		t.Fatalf("batch id = %q, want caller-supplied id", b.BatchID)
	}
	if b.Messages[0].ID != "m0000" || b.Messages[1].ID != "m0002" {
		t.Fatalf("ids do not track source rows: %q, %q", b.Messages[0].ID, b.Messages[1].ID)
	}

	// Same inputs, same ids.
	b2, _ := Compose(phone.DefaultProfile(), recipients, ThrottlePolicy{}, false, "t", "fixed-id")
	for i := range b.Messages {
		if b.Messages[i].ID != b2.Messages[i].ID {
			t.Fatalf("ids not deterministic across runs")
		}
	}
}

func TestComposeAllRejectedYieldsEmptyBatch(t *testing.T) {
	b, rejected := Compose(phone.DefaultProfile(), []Recipient{{Label: "x", RawPhone: "nope"}}, ThrottlePolicy{}, false, "t", "")
	if len(b.Messages) != 0 {
		t.Fatalf("expected empty batch, got %d messages", len(b.Messages))
	}
	if len(rejected) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(rejected))
	}
	if b.BatchID == "" {
		t.Fatal("expected generated batch id")
	}
	if b.Meta.Source != Source {
		t.Fatalf("meta source = %q, want %q", b.Meta.Source, Source)
	}
}
