package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"wabridge/internal/eventbus"
	"wabridge/internal/wire"
	logx "wabridge/pkg/logx"
)

// Service multiplexes request/response calls and asynchronous delivery
// events over a single Host.
type Service struct {
	cfg  Config
	host Host
	log  logx.Logger

	limiter *rate.Limiter
	events  *eventbus.Bus[Event]

	mu      sync.Mutex
	pending map[string]chan wire.Frame // one-shot reply channels
	agents  map[string]AgentInfo
	callSeq atomic.Uint64

	runCancel context.CancelFunc
	readerWG  sync.WaitGroup
}

func New(cfg Config, host Host, log logx.Logger) *Service {
	fps := cfg.FramesPerSec
	if fps <= 0 {
		fps = defaultFramesPerSec
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Service{
		cfg:     cfg,
		host:    host,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(fps), fps),
		events:  eventbus.New[Event](),
		pending: map[string]chan wire.Frame{},
		agents:  map[string]AgentInfo{},
	}
}

// Start brings up the host and the inbound dispatch loop.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()

	inbound := make(chan Inbound, 64)
	if err := s.host.Start(runCtx, inbound); err != nil {
		cancel()
		return fmt.Errorf("transport: host start: %w", err)
	}

	s.readerWG.Add(1)
	go func() {
		defer s.readerWG.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case in := <-inbound:
				s.dispatch(in)
			}
		}
	}()

	s.log.Info("transport started", logx.Duration("probe_timeout", s.cfg.ProbeTimeout))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = s.host.Stop(ctx)
	s.readerWG.Wait()
}

// Agents returns a snapshot of currently known agent installations.
func (s *Service) Agents() []AgentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentInfo, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// Subscribe delivers every inbound delivery event to the returned channel
// until unsubscribe is called. Multicast, at-most-once per subscriber per
// event; slow subscribers drop.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.Subscribe(buffer)
}

// ---- Probes ----

// Ping broadcasts a presence probe. Nobody answering within the timeout is
// a normal outcome and yields Installed=false, never an error.
func (s *Service) Ping(ctx context.Context, timeout time.Duration) PingResult {
	f, ok := s.callBroadcast(ctx, wire.Frame{Tag: wire.TagPing, Payload: wire.Ping{}}, wire.TagPong, timeout)
	if !ok {
		return PingResult{}
	}
	pong, ok := f.Payload.(wire.Pong)
	if !ok {
		s.log.Warn("malformed pong payload", logx.Any("payload", f.Payload))
		return PingResult{}
	}
	return PingResult{Installed: true, Version: pong.Version, SessionActive: pong.SessionActive}
}

// PingAgent probes one agent by installation id, correlated by call id.
func (s *Service) PingAgent(ctx context.Context, agentID string, timeout time.Duration) PingResult {
	callID := s.nextCallID()
	f, ok := s.callAddressed(ctx, agentID, wire.Frame{Tag: wire.TagPing, CallID: callID, Payload: wire.Ping{}}, callID, timeout)
	if !ok {
		return PingResult{}
	}
	pong, ok := f.Payload.(wire.Pong)
	if !ok {
		return PingResult{}
	}
	return PingResult{Installed: true, Version: pong.Version, SessionActive: pong.SessionActive}
}

// ---- Control surface (fire-and-forget; effects observed via Subscribe) ----

func (s *Service) SubmitBatch(ctx context.Context, sb wire.SendBatch, agentID string) error {
	f := wire.Frame{Tag: wire.TagSendBatch, Payload: sb}
	if agentID != "" {
		return s.send(ctx, func() error { return s.host.SendTo(agentID, f) })
	}
	return s.send(ctx, func() error { return s.host.Broadcast(f) })
}

func (s *Service) Pause(ctx context.Context, batchID string) error {
	return s.control(ctx, wire.TagBatchPause, batchID)
}

func (s *Service) Resume(ctx context.Context, batchID string) error {
	return s.control(ctx, wire.TagBatchResume, batchID)
}

func (s *Service) Cancel(ctx context.Context, batchID string) error {
	return s.control(ctx, wire.TagBatchCancel, batchID)
}

func (s *Service) control(ctx context.Context, tag wire.Tag, batchID string) error {
	f := wire.Frame{Tag: tag, Payload: wire.BatchControl{BatchID: batchID}}
	return s.send(ctx, func() error { return s.host.Broadcast(f) })
}

// ---- Internals ----

func (s *Service) nextCallID() string {
	return fmt.Sprintf("c%d", s.callSeq.Add(1))
}

// send applies the outbound rate limit and forwards the frame. The limit
// protects the host channel from a misbehaving caller; at normal control
// rates the wait is effectively zero.
func (s *Service) send(ctx context.Context, write func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return write()
}

func (s *Service) callBroadcast(ctx context.Context, f wire.Frame, replyTag wire.Tag, timeout time.Duration) (wire.Frame, bool) {
	return s.call(ctx, "tag:"+string(replyTag), func() error { return s.host.Broadcast(f) }, timeout)
}

func (s *Service) callAddressed(ctx context.Context, agentID string, f wire.Frame, callID string, timeout time.Duration) (wire.Frame, bool) {
	return s.call(ctx, "call:"+callID, func() error { return s.host.SendTo(agentID, f) }, timeout)
}

// call registers a one-shot reply slot, writes the request, and waits for
// the correlated reply or the timeout, whichever is first.
func (s *Service) call(ctx context.Context, key string, write func() error, timeout time.Duration) (wire.Frame, bool) {
	if timeout <= 0 {
		timeout = s.cfg.ProbeTimeout
	}

	ch := make(chan wire.Frame, 1)
	s.mu.Lock()
	if _, busy := s.pending[key]; busy {
		s.mu.Unlock()
		s.log.Debug("probe already in flight", logx.String("key", key))
		return wire.Frame{}, false
	}
	s.pending[key] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	if err := s.send(ctx, write); err != nil {
		return wire.Frame{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return wire.Frame{}, false
	case <-timer.C:
		return wire.Frame{}, false
	case f := <-ch:
		return f, true
	}
}

func (s *Service) resolve(key string, f wire.Frame) bool {
	s.mu.Lock()
	ch, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- f // buffered, never blocks
	return true
}

func (s *Service) dispatch(in Inbound) {
	f := in.Frame
	switch p := f.Payload.(type) {
	case wire.Hello:
		s.mu.Lock()
		s.agents[in.AgentID] = AgentInfo{ID: in.AgentID, Version: p.Version, ConnectedAt: time.Now()}
		s.mu.Unlock()
		s.log.Info("agent connected", logx.String("agent", in.AgentID), logx.String("version", p.Version))

	case wire.Pong:
		// Addressed replies win over tag correlation when a call id is present.
		if f.CallID != "" && s.resolve("call:"+f.CallID, f) {
			return
		}
		if !s.resolve("tag:"+string(wire.TagPong), f) {
			s.log.Debug("unsolicited pong dropped", logx.String("agent", in.AgentID))
		}

	case wire.MessageResult:
		s.events.Publish(Event{At: time.Now(), AgentID: in.AgentID, Result: &p})

	case wire.BatchDone:
		s.events.Publish(Event{At: time.Now(), AgentID: in.AgentID, Done: &p})

	default:
		s.log.Debug("unexpected inbound frame", logx.String("tag", string(f.Tag)), logx.String("agent", in.AgentID))
	}
}

// Disconnected marks an agent as gone. Called by the host when its
// connection drops.
func (s *Service) Disconnected(agentID string) {
	s.mu.Lock()
	_, known := s.agents[agentID]
	delete(s.agents, agentID)
	s.mu.Unlock()
	if known {
		s.log.Info("agent disconnected", logx.String("agent", agentID))
	}
}
