package wire

import (
	"errors"
	"testing"
)

func TestDecodeDispatch(t *testing.T) {
	raw := []byte(`{"type":"MESSAGE_RESULT","payload":{"batchId":"b1","messageId":"m1","status":"sent","ticks":"double"}}`)
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Tag != TagMessageResult {
		t.Fatalf("tag = %q, want %q", f.Tag, TagMessageResult)
	}
	mr, ok := f.Payload.(MessageResult)
	if !ok {
		t.Fatalf("payload type = %T, want MessageResult", f.Payload)
	}
	if mr.BatchID != "b1" || mr.MessageID != "m1" || mr.Status != StatusSent || mr.Ticks != "double" {
		t.Fatalf("unexpected payload: %+v", mr)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := Decode([]byte(`{"type":"SELF_DESTRUCT"}`))
	if !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("err = %v, want ErrUnknownTag", err)
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestEncodeDecodeCallID(t *testing.T) {
	b, err := Encode(Frame{Tag: TagPing, CallID: "c42", Payload: Ping{}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Tag != TagPing || f.CallID != "c42" {
		t.Fatalf("round trip lost identity: %+v", f)
	}
}

func TestDecodeSendBatch(t *testing.T) {
	raw := []byte(`{"type":"SEND_BATCH","payload":{"batchId":"b2","dryRun":true,"throttle":{"perMinute":10,"jitterSeconds":[3,9]},"messages":[{"id":"m0","to":"+573001234567","text":"hola"}]}}`)
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sb := f.Payload.(SendBatch)
	if !sb.DryRun || sb.Throttle.PerMinute != 10 || len(sb.Messages) != 1 {
		t.Fatalf("unexpected payload: %+v", sb)
	}
	if sb.Messages[0].To != "+573001234567" {
		t.Fatalf("unexpected destination: %q", sb.Messages[0].To)
	}
}
