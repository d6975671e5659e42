package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"wabridge/internal/batch"
	"wabridge/internal/eventbus"
	"wabridge/internal/storage"
	"wabridge/internal/transport"
	"wabridge/internal/wire"
	logx "wabridge/pkg/logx"
)

// Service owns the batch lifecycle state machine. One batch may be active
// per instance; a second start is rejected, never queued — any queueing
// policy belongs to the caller.
type Service struct {
	cfg    Config
	tr     Transport
	prober Prober
	store  Reporter // may be nil
	log    logx.Logger

	progressBus *eventbus.Bus[Progress]
	eventBus    *eventbus.Bus[SendEvent]

	mu        sync.Mutex
	state     State
	active    batch.Batch
	tally     *tally
	startedAt time.Time
	eventSeq  uint64
	events    []SendEvent

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, tr Transport, prober Prober, store Reporter, log logx.Logger) *Service {
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = defaultWatchdogInterval
	}
	if cfg.EventLogCap <= 0 {
		cfg.EventLogCap = defaultEventLogCap
	}
	return &Service{
		cfg:         cfg,
		tr:          tr,
		prober:      prober,
		store:       store,
		log:         log,
		progressBus: eventbus.New[Progress](),
		eventBus:    eventbus.New[SendEvent](),
		state:       StateIdle,
	}
}

// Start launches the event-fold loop and the presence watchdog.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()

	events, unsub := s.tr.Subscribe(64)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()

		var watchdog <-chan time.Time
		if s.cfg.WatchdogInterval > 0 {
			t := time.NewTicker(s.cfg.WatchdogInterval)
			defer t.Stop()
			watchdog = t.C
		}

		for {
			select {
			case <-runCtx.Done():
				return
			case ev := <-events:
				s.handleEvent(ev)
			case <-watchdog:
				s.checkAgentAlive(runCtx)
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// ---- Control surface ----

// StartBatch accepts a composed batch and hands it to the transport.
// Legal only when no batch is active; empty batches are refused.
func (s *Service) StartBatch(ctx context.Context, b batch.Batch) error {
	s.mu.Lock()
	if s.state == StateSending || s.state == StatePaused {
		s.mu.Unlock()
		return ErrBatchActive
	}
	if len(b.Messages) == 0 {
		s.mu.Unlock()
		return ErrEmptyBatch
	}

	s.active = b
	s.tally = newTally(b)
	s.startedAt = time.Now()
	s.events = nil
	s.eventSeq = 0
	s.state = StateSending
	s.mu.Unlock()

	if err := s.tr.SubmitBatch(ctx, toWire(b), ""); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.tally = nil
		s.mu.Unlock()
		return err
	}

	s.log.Info("batch started",
		logx.String("batch", b.BatchID),
		logx.Int("total", len(b.Messages)),
		logx.Bool("dry_run", b.DryRun),
		logx.String("created_by", b.Meta.CreatedBy))
	s.publishProgress()
	return nil
}

// Pause stops new dispatch on the agent side; in-flight messages may still
// complete and will be folded normally.
func (s *Service) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSending {
		s.mu.Unlock()
		return ErrNotSending
	}
	batchID := s.active.BatchID
	s.state = StatePaused
	s.mu.Unlock()

	if err := s.tr.Pause(ctx, batchID); err != nil {
		return err
	}
	s.log.Info("batch paused", logx.String("batch", batchID))
	s.publishProgress()
	return nil
}

func (s *Service) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return ErrNotPaused
	}
	batchID := s.active.BatchID
	s.state = StateSending
	s.mu.Unlock()

	if err := s.tr.Resume(ctx, batchID); err != nil {
		return err
	}
	s.log.Info("batch resumed", logx.String("batch", batchID))
	s.publishProgress()
	return nil
}

// Cancel requests the agent stop dispatching and closes the local
// accounting: everything still pending is marked failed with reason
// "cancelled". Cancellation is cooperative; results for messages already
// in flight are still folded afterwards.
func (s *Service) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSending && s.state != StatePaused {
		s.mu.Unlock()
		return ErrNotActive
	}
	batchID := s.active.BatchID
	s.abortPendingLocked(reasonCancelled)
	s.terminateLocked(StateCancelled)
	s.mu.Unlock()

	if err := s.tr.Cancel(ctx, batchID); err != nil {
		s.log.Warn("cancel signal failed", logx.String("batch", batchID), logx.Err(err))
	}
	s.log.Info("batch cancelled", logx.String("batch", batchID))
	s.publishProgress()
	return nil
}

// ---- Queries / subscriptions ----

func (s *Service) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

// Events returns up to limit audit records, most-recent-first.
func (s *Service) Events(limit int) []SendEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]SendEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out
}

func (s *Service) SubscribeProgress(buffer int) (<-chan Progress, func()) {
	return s.progressBus.Subscribe(buffer)
}

func (s *Service) SubscribeEvents(buffer int) (<-chan SendEvent, func()) {
	return s.eventBus.Subscribe(buffer)
}

// ---- Event folding ----

func (s *Service) handleEvent(ev transport.Event) {
	switch {
	case ev.Result != nil:
		s.handleResult(ev.At, *ev.Result)
	case ev.Done != nil:
		s.handleDone(*ev.Done)
	}
}

func (s *Service) handleResult(at time.Time, r wire.MessageResult) {
	s.mu.Lock()
	if s.tally == nil || r.BatchID != s.active.BatchID {
		s.mu.Unlock()
		return
	}
	m, changed := s.tally.fold(r.MessageID, r.Status)
	if !changed {
		s.mu.Unlock()
		if m != nil {
			s.log.Debug("duplicate result ignored", logx.String("message", r.MessageID))
		}
		return
	}

	s.appendEventLocked(SendEvent{
		At:             at,
		MessageID:      r.MessageID,
		RecipientLabel: m.label,
		Destination:    m.destination,
		Status:         r.Status,
		Ticks:          r.Ticks,
		Error:          r.Error,
	})

	stillActive := s.state == StateSending || s.state == StatePaused
	done := stillActive && s.tally.pending() == 0
	if done {
		s.terminateLocked(StateCompleted)
	}
	s.mu.Unlock()

	if done {
		s.log.Info("batch completed", logx.String("batch", r.BatchID))
	}
	s.publishProgress()
}

func (s *Service) handleDone(d wire.BatchDone) {
	s.mu.Lock()
	if s.tally == nil || d.BatchID != s.active.BatchID {
		s.mu.Unlock()
		return
	}
	if s.state != StateSending && s.state != StatePaused {
		// Duplicate or post-terminal completion signal.
		s.mu.Unlock()
		return
	}

	switch {
	case d.AgentError != "" && s.tally.pending() > 0:
		s.abortPendingLocked(reasonAgentError)
		s.terminateLocked(StateFailed)
		s.mu.Unlock()
		s.log.Warn("batch failed", logx.String("batch", d.BatchID), logx.String("agent_error", d.AgentError))

	case s.tally.pending() == 0:
		s.terminateLocked(StateCompleted)
		s.mu.Unlock()
		s.log.Info("batch completed", logx.String("batch", d.BatchID))

	default:
		// Only the local pending counter decides true completion; keep
		// folding until the missing results arrive (or the watchdog fires).
		pending := s.tally.pending()
		s.mu.Unlock()
		s.log.Debug("completion signal before all results", logx.String("batch", d.BatchID), logx.Int("pending", pending))
		return
	}
	s.publishProgress()
}

// checkAgentAlive re-probes the agent while a batch is active. Loss of the
// channel is a batch failure, not a silent stall.
func (s *Service) checkAgentAlive(ctx context.Context) {
	s.mu.Lock()
	active := s.state == StateSending || s.state == StatePaused
	batchID := s.active.BatchID
	s.mu.Unlock()
	if !active {
		return
	}

	st := s.prober.Status(ctx, 0)
	if st.Installed {
		return
	}

	s.mu.Lock()
	if s.state != StateSending && s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	s.abortPendingLocked(reasonAgentError)
	s.terminateLocked(StateFailed)
	s.mu.Unlock()

	s.log.Error("connection to agent lost; batch failed", logx.String("batch", batchID))
	s.publishProgress()
}

// ---- Locked helpers ----

// abortPendingLocked marks every pending message failed with the given
// reason and appends audit records for them.
func (s *Service) abortPendingLocked(reason string) {
	ids := s.tally.abort()
	sort.Strings(ids)
	now := time.Now()
	for _, id := range ids {
		m := s.tally.msgs[id]
		s.appendEventLocked(SendEvent{
			At:             now,
			MessageID:      id,
			RecipientLabel: m.label,
			Destination:    m.destination,
			Status:         wire.StatusFailed,
			Error:          reason,
		})
	}
}

func (s *Service) terminateLocked(final State) {
	s.state = final
	if s.store == nil {
		return
	}
	now := time.Now()
	report := storage.BatchReport{
		At:         now,
		BatchID:    s.active.BatchID,
		CreatedBy:  s.active.Meta.CreatedBy,
		Source:     s.active.Meta.Source,
		DryRun:     s.active.DryRun,
		State:      string(final),
		Total:      s.tally.total,
		Sent:       s.tally.sent,
		Failed:     s.tally.failed,
		StartedAt:  s.startedAt,
		DurationMS: now.Sub(s.startedAt).Milliseconds(),
	}
	// Archive off the fold path; a slow disk must not delay accounting.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.AppendReport(ctx, report); err != nil {
			s.log.Warn("batch report not archived", logx.String("batch", report.BatchID), logx.Err(err))
		}
	}()
}

func (s *Service) appendEventLocked(ev SendEvent) {
	s.eventSeq++
	ev.Seq = s.eventSeq
	s.events = append(s.events, ev)
	if over := len(s.events) - s.cfg.EventLogCap; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	s.eventBus.Publish(ev)
}

func (s *Service) progressLocked() Progress {
	p := Progress{BatchID: s.active.BatchID, State: s.state}
	if s.tally == nil {
		p.State = StateIdle
		return p
	}
	p.Total = s.tally.total
	p.Sent = s.tally.sent
	p.Failed = s.tally.failed
	p.Pending = s.tally.pending()
	p.Active = s.state == StateSending || s.state == StatePaused
	p.Paused = s.state == StatePaused
	if p.Active {
		processed := p.Sent + p.Failed
		p.ETA = estimateETA(time.Now(), s.startedAt, s.active.Throttle.PerMinute, processed, p.Pending)
	}
	return p
}

func (s *Service) publishProgress() {
	s.mu.Lock()
	p := s.progressLocked()
	s.mu.Unlock()
	s.progressBus.Publish(p)
}

func toWire(b batch.Batch) wire.SendBatch {
	msgs := make([]wire.Message, len(b.Messages))
	for i, m := range b.Messages {
		wm := wire.Message{ID: m.ID, To: m.Destination, Text: m.ResolvedText}
		for _, a := range m.Attachments {
			wm.Attachments = append(wm.Attachments, wire.Attachment{
				Name: a.Name, URL: a.URL, MimeType: a.MimeType, SizeBytes: a.SizeBytes,
			})
		}
		msgs[i] = wm
	}
	return wire.SendBatch{
		BatchID:  b.BatchID,
		Messages: msgs,
		Throttle: wire.Throttle{PerMinute: b.Throttle.PerMinute, JitterSeconds: b.Throttle.JitterSeconds},
		DryRun:   b.DryRun,
	}
}
