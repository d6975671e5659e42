package transport

import (
	"context"
	"time"

	"wabridge/internal/wire"
)

// Inbound is one decoded frame received from a connected agent.
type Inbound struct {
	AgentID string
	Frame   wire.Frame
}

// Host abstracts the physical channel to the agent(s).
//
// Implementations decode raw payloads with the wire package and deliver
// them on the out channel passed to Start. Broadcast and SendTo must be
// non-blocking or fast; they are called from the bridge's control path.
type Host interface {
	Start(ctx context.Context, out chan<- Inbound) error
	Stop(ctx context.Context) error

	Broadcast(f wire.Frame) error
	SendTo(agentID string, f wire.Frame) error
}

// Event is one asynchronous delivery notification, fanned out to all
// current subscribers. Exactly one of Result/Done is set.
type Event struct {
	At      time.Time
	AgentID string
	Result  *wire.MessageResult
	Done    *wire.BatchDone
}

// PingResult reports agent presence. Installed=false means nobody answered
// within the timeout.
type PingResult struct {
	Installed     bool
	Version       string
	SessionActive bool
}

// AgentInfo describes one connected agent installation.
type AgentInfo struct {
	ID          string
	Version     string
	ConnectedAt time.Time
}

type Config struct {
	// ProbeTimeout bounds presence/session probes when the caller does not
	// pass an explicit timeout. Reference default: 3s.
	ProbeTimeout time.Duration

	// FramesPerSec bounds outbound frame writes to the host channel.
	FramesPerSec int
}

const (
	DefaultProbeTimeout = 3 * time.Second
	defaultFramesPerSec = 20
)
