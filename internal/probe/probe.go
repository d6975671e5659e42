// Package probe detects agent presence and messaging-session status.
//
// Both checks are thin, timeout-bounded wrappers over the transport. A
// session check is never attempted against an agent that did not answer
// the presence probe.
package probe

import (
	"context"
	"time"

	"wabridge/internal/transport"
	logx "wabridge/pkg/logx"
)

// AgentStatus is recomputed on demand; it is never cached.
type AgentStatus struct {
	Installed     bool
	Version       string
	SessionActive bool
}

// Pinger is the slice of the transport the probe needs.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) transport.PingResult
}

type Probe struct {
	t   Pinger
	log logx.Logger
}

func New(t Pinger, log logx.Logger) *Probe {
	return &Probe{t: t, log: log}
}

// Detect reports whether some agent answers the presence probe. A zero
// timeout uses the transport's configured default.
func (p *Probe) Detect(ctx context.Context, timeout time.Duration) (installed bool, version string) {
	res := p.t.Ping(ctx, timeout)
	return res.Installed, res.Version
}

// CheckSession reports whether the agent's messaging session is logged in.
func (p *Probe) CheckSession(ctx context.Context, timeout time.Duration) bool {
	return p.t.Ping(ctx, timeout).SessionActive
}

// Status performs detection and, only on success, the session check.
func (p *Probe) Status(ctx context.Context, timeout time.Duration) AgentStatus {
	installed, version := p.Detect(ctx, timeout)
	if !installed {
		return AgentStatus{}
	}
	st := AgentStatus{Installed: true, Version: version}
	st.SessionActive = p.CheckSession(ctx, timeout)
	return st
}
