package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wabridge/internal/batch"
	"wabridge/internal/orchestrator"
	"wabridge/internal/phone"
	logx "wabridge/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string
}

// Campaign is a recurring (or cron-timed) compose request. On every fire
// the recipients are normalized and submitted as a fresh batch.
type Campaign struct {
	ID         string
	Name       string
	Schedule   string // cron spec ("0 9 * * 1-5", "@hourly") or "@every 30m"
	Recipients []batch.Recipient
	Throttle   *batch.ThrottlePolicy // nil means the configured default
	DryRun     bool
	CreatedBy  string
}

// Starter is the subset of the orchestrator the scheduler drives.
type Starter interface {
	StartBatch(ctx context.Context, b batch.Batch) error
}

type Service struct {
	mu       sync.Mutex
	cfg      Config
	profile  phone.Profile
	defaults batch.ThrottlePolicy

	parser    cron.Parser
	c         *cron.Cron
	loc       *time.Location
	campaigns map[string]Campaign
	entries   map[string]cron.EntryID

	starter Starter
	log     logx.Logger
}

func New(cfg Config, profile phone.Profile, defaults batch.ThrottlePolicy, starter Starter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		profile:  profile,
		defaults: defaults,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		campaigns: map[string]Campaign{},
		entries:   map[string]cron.EntryID{},
		starter:   starter,
		log:       log,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates runtime config. A timezone change restarts cron and
// re-registers every campaign under the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for id := range s.campaigns {
		cmp := s.campaigns[id]
		if err := s.registerLocked(cmp); err != nil {
			s.log.Warn("campaign skipped on start", logx.String("id", id), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("campaigns", len(s.campaigns)))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Add validates the campaign's schedule and registers it. When the cron
// runner is live the campaign starts firing immediately.
func (s *Service) Add(cmp Campaign) error {
	if strings.TrimSpace(cmp.ID) == "" {
		return errors.New("campaign id required")
	}
	if len(cmp.Recipients) == 0 {
		return errors.New("campaign has no recipients")
	}
	if _, err := s.parser.Parse(cmp.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cmp.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.campaigns[cmp.ID]; exists {
		return fmt.Errorf("campaign %q already registered", cmp.ID)
	}
	s.campaigns[cmp.ID] = cmp
	if s.c != nil {
		if err := s.registerLocked(cmp); err != nil {
			delete(s.campaigns, cmp.ID)
			return err
		}
	}
	return nil
}

func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return false
	}
	delete(s.campaigns, id)
	if eid, ok := s.entries[id]; ok {
		delete(s.entries, id)
		if s.c != nil {
			s.c.Remove(eid)
		}
	}
	return true
}

func (s *Service) List() []Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Campaign, 0, len(s.campaigns))
	for _, cmp := range s.campaigns {
		out = append(out, cmp)
	}
	return out
}

func (s *Service) registerLocked(cmp Campaign) error {
	id := cmp.ID
	eid, err := s.c.AddFunc(cmp.Schedule, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("register campaign %q: %w", id, err)
	}
	s.entries[id] = eid
	return nil
}

func (s *Service) restartLocked() {
	old := s.c
	s.entries = map[string]cron.EntryID{}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for id := range s.campaigns {
		cmp := s.campaigns[id]
		if err := s.registerLocked(cmp); err != nil {
			s.log.Warn("campaign skipped on restart", logx.String("id", id), logx.Err(err))
		}
	}
	s.c.Start()
	if old != nil {
		go func() { <-old.Stop().Done() }()
	}
	s.log.Info("cron restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// fire composes and submits one occurrence of the campaign. There is no
// queueing around the single-active-batch rule: a busy orchestrator means
// this occurrence is dropped.
func (s *Service) fire(id string) {
	s.mu.Lock()
	cmp, ok := s.campaigns[id]
	enabled := s.cfg.Enabled
	profile := s.profile
	throttle := s.defaults
	s.mu.Unlock()
	if !ok || !enabled {
		return
	}
	if cmp.Throttle != nil {
		throttle = *cmp.Throttle
	}

	b, rejected := batch.Compose(profile, cmp.Recipients, throttle, cmp.DryRun, cmp.CreatedBy, "")
	if len(rejected) > 0 {
		s.log.Warn("campaign recipients rejected",
			logx.String("campaign", id), logx.Int("rejected", len(rejected)))
	}
	if len(b.Messages) == 0 {
		s.log.Warn("campaign fire produced empty batch", logx.String("campaign", id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.starter.StartBatch(ctx, b); err != nil {
		if errors.Is(err, orchestrator.ErrBatchActive) {
			s.log.Warn("campaign fire skipped, batch active", logx.String("campaign", id))
			return
		}
		s.log.Error("campaign fire failed", logx.String("campaign", id), logx.Err(err))
		return
	}
	s.log.Info("campaign batch started",
		logx.String("campaign", id), logx.String("batch_id", b.BatchID), logx.Int("total", len(b.Messages)))
}
