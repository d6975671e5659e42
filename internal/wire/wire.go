// Package wire defines the host-channel payloads exchanged with the
// messaging agent, as a closed tagged union.
//
// Frames are decoded exactly once, at the transport boundary; the rest of
// the system only sees the typed payload structs below. An unknown tag is
// a decode error, never a panic.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Tag string

const (
	// TagHello is sent by an agent right after connecting to identify
	// itself (installation id + version).
	TagHello Tag = "HELLO"

	TagPing Tag = "PING"
	TagPong Tag = "PONG"

	TagSendBatch   Tag = "SEND_BATCH"
	TagBatchPause  Tag = "BATCH_PAUSE"
	TagBatchResume Tag = "BATCH_RESUME"
	TagBatchCancel Tag = "BATCH_CANCEL"

	TagMessageResult Tag = "MESSAGE_RESULT"
	TagBatchDone     Tag = "BATCH_DONE"
)

var ErrUnknownTag = errors.New("wire: unknown tag")

// DeliveryStatus is the agent-reported outcome for one message.
type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// ---- Payloads ----

type Hello struct {
	AgentID string `json:"agentId"`
	Version string `json:"version"`
}

type Ping struct{}

type Pong struct {
	Version       string `json:"version"`
	SessionActive bool   `json:"sessionActive"`
}

type Attachment struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

type Message struct {
	ID          string       `json:"id"`
	To          string       `json:"to"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Throttle is carried verbatim to the agent; pacing is enforced on the
// agent side, never locally.
type Throttle struct {
	PerMinute     int    `json:"perMinute"`
	JitterSeconds []int  `json:"jitterSeconds,omitempty"` // [min, max]
}

type SendBatch struct {
	BatchID  string    `json:"batchId"`
	Messages []Message `json:"messages"`
	Throttle Throttle  `json:"throttle"`
	DryRun   bool      `json:"dryRun"`
}

// BatchControl disambiguates pause/resume/cancel when the agent supports
// per-batch control.
type BatchControl struct {
	BatchID string `json:"batchId,omitempty"`
}

type MessageResult struct {
	BatchID   string         `json:"batchId"`
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
	Ticks     string         `json:"ticks,omitempty"` // delivery-confirmation marker, forwarded verbatim
	Error     string         `json:"error,omitempty"`
}

type BatchDone struct {
	BatchID    string `json:"batchId"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"durationMs"`
	// AgentError is set when the agent aborted the batch (e.g. session
	// lost mid-batch) rather than finishing it.
	AgentError string `json:"agentError,omitempty"`
}

// ---- Envelope ----

// Frame is one decoded host-channel message. Payload holds exactly one of
// the payload structs above, selected by Tag.
type Frame struct {
	Tag     Tag
	CallID  string // correlation id for addressed request/response pairs
	Payload any
}

type envelope struct {
	Type    Tag             `json:"type"`
	CallID  string          `json:"callId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a frame for the host channel.
func Encode(f Frame) ([]byte, error) {
	var raw json.RawMessage
	if f.Payload != nil {
		b, err := json.Marshal(f.Payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s payload: %w", f.Tag, err)
		}
		raw = b
	}
	return json.Marshal(envelope{Type: f.Tag, CallID: f.CallID, Payload: raw})
}

// Decode parses one raw host-channel message into a typed frame.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Frame{}, errors.New("wire: missing type")
	}

	f := Frame{Tag: env.Type, CallID: env.CallID}

	var payload any
	switch env.Type {
	case TagHello:
		payload = &Hello{}
	case TagPing:
		payload = &Ping{}
	case TagPong:
		payload = &Pong{}
	case TagSendBatch:
		payload = &SendBatch{}
	case TagBatchPause, TagBatchResume, TagBatchCancel:
		payload = &BatchControl{}
	case TagMessageResult:
		payload = &MessageResult{}
	case TagBatchDone:
		payload = &BatchDone{}
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownTag, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return Frame{}, fmt.Errorf("wire: decode %s payload: %w", env.Type, err)
		}
	}
	f.Payload = deref(payload)
	return f, nil
}

// deref unwraps the pointer used for unmarshaling so callers can type-switch
// on value types.
func deref(p any) any {
	switch v := p.(type) {
	case *Hello:
		return *v
	case *Ping:
		return *v
	case *Pong:
		return *v
	case *SendBatch:
		return *v
	case *BatchControl:
		return *v
	case *MessageResult:
		return *v
	case *BatchDone:
		return *v
	default:
		return p
	}
}
