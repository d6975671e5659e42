package orchestrator

import (
	"context"
	"errors"
	"time"

	"wabridge/internal/probe"
	"wabridge/internal/storage"
	"wabridge/internal/transport"
	"wabridge/internal/wire"
)

// State is the batch lifecycle state.
//
//	Idle -> Sending -> {Paused <-> Sending} -> {Completed | Cancelled | Failed}
//
// Terminal states re-enter Idle when the next batch is accepted.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Control-call errors. These are usage errors, rejected locally before
// touching the transport; they never corrupt progress.
var (
	ErrBatchActive = errors.New("orchestrator: a batch is already active")
	ErrEmptyBatch  = errors.New("orchestrator: batch has no messages")
	ErrNotSending  = errors.New("orchestrator: no batch in sending state")
	ErrNotPaused   = errors.New("orchestrator: no batch in paused state")
	ErrNotActive   = errors.New("orchestrator: no active batch")
)

// Failure reasons recorded for messages aborted by the orchestrator.
const (
	reasonCancelled  = "cancelled"
	reasonAgentError = "agent_error"
)

// Progress is the single mutable aggregate for the active batch.
// Pending == Total - Sent - Failed holds after every event fold.
type Progress struct {
	BatchID string
	State   State
	Total   int
	Sent    int
	Failed  int
	Pending int
	Active  bool
	Paused  bool
	ETA     time.Time // advisory; zero when unknown
}

// SendEvent is one append-only audit record. Never mutated after append.
type SendEvent struct {
	Seq            uint64
	At             time.Time
	MessageID      string
	RecipientLabel string
	Destination    string
	Status         wire.DeliveryStatus
	Ticks          string
	Error          string
}

// Transport is the slice of the transport service the orchestrator uses.
// All control calls are fire-and-forget; effects come back via Subscribe.
type Transport interface {
	SubmitBatch(ctx context.Context, sb wire.SendBatch, agentID string) error
	Pause(ctx context.Context, batchID string) error
	Resume(ctx context.Context, batchID string) error
	Cancel(ctx context.Context, batchID string) error
	Subscribe(buffer int) (<-chan transport.Event, func())
}

// Prober re-checks agent presence while a batch is in flight.
type Prober interface {
	Status(ctx context.Context, timeout time.Duration) probe.AgentStatus
}

// Reporter archives the final accounting of a terminated batch.
// A nil Reporter disables archiving.
type Reporter interface {
	AppendReport(ctx context.Context, r storage.BatchReport) error
}

type Config struct {
	// WatchdogInterval is how often agent presence is re-probed while a
	// batch is active. Loss of the agent fails the batch instead of
	// leaving it stalled. Zero disables the watchdog.
	WatchdogInterval time.Duration

	// EventLogCap bounds the in-memory audit log. Oldest entries are
	// truncated first.
	EventLogCap int
}

const (
	defaultWatchdogInterval = 15 * time.Second
	defaultEventLogCap      = 1000
)
