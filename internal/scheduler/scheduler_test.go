package scheduler

import (
	"context"
	"sync"
	"testing"

	"wabridge/internal/batch"
	"wabridge/internal/orchestrator"
	"wabridge/internal/phone"
	logx "wabridge/pkg/logx"
)

type fakeStarter struct {
	mu      sync.Mutex
	batches []batch.Batch
	err     error
}

func (f *fakeStarter) StartBatch(_ context.Context, b batch.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeStarter) started() []batch.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]batch.Batch(nil), f.batches...)
}

func newTestService(st *fakeStarter) *Service {
	return New(
		Config{Enabled: true},
		phone.DefaultProfile(),
		batch.ThrottlePolicy{PerMinute: 10},
		st,
		logx.Nop(),
	)
}

func TestAddRejectsBadSchedule(t *testing.T) {
	s := newTestService(&fakeStarter{})
	err := s.Add(Campaign{
		ID:         "c1",
		Schedule:   "not a cron spec",
		Recipients: []batch.Recipient{{Label: "a", RawPhone: "3001234567", Text: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s := newTestService(&fakeStarter{})
	cmp := Campaign{
		ID:         "c1",
		Schedule:   "@every 1h",
		Recipients: []batch.Recipient{{Label: "a", RawPhone: "3001234567", Text: "hi"}},
	}
	if err := s.Add(cmp); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Add(cmp); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestFireComposesAndStarts(t *testing.T) {
	st := &fakeStarter{}
	s := newTestService(st)
	err := s.Add(Campaign{
		ID:       "c1",
		Schedule: "@every 1h",
		Recipients: []batch.Recipient{
			{Label: "a", RawPhone: "3001234567", Text: "hi"},
			{Label: "b", RawPhone: "not-a-phone", Text: "hi"},
		},
		CreatedBy: "ops",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.fire("c1")

	got := st.started()
	if len(got) != 1 {
		t.Fatalf("started batches = %d, want 1", len(got))
	}
	b := got[0]
	if len(b.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 (invalid phone rejected)", len(b.Messages))
	}
	if b.Messages[0].Destination != "+573001234567" {
		t.Fatalf("destination = %q", b.Messages[0].Destination)
	}
	if b.Meta.CreatedBy != "ops" {
		t.Fatalf("created_by = %q", b.Meta.CreatedBy)
	}
}

func TestFireSkipsWhenDisabled(t *testing.T) {
	st := &fakeStarter{}
	s := newTestService(st)
	_ = s.Add(Campaign{
		ID:         "c1",
		Schedule:   "@every 1h",
		Recipients: []batch.Recipient{{Label: "a", RawPhone: "3001234567", Text: "hi"}},
	})
	s.Apply(Config{Enabled: false})

	s.fire("c1")
	if len(st.started()) != 0 {
		t.Fatal("disabled scheduler must not start batches")
	}
}

func TestFireToleratesBusyOrchestrator(t *testing.T) {
	st := &fakeStarter{err: orchestrator.ErrBatchActive}
	s := newTestService(st)
	_ = s.Add(Campaign{
		ID:         "c1",
		Schedule:   "@every 1h",
		Recipients: []batch.Recipient{{Label: "a", RawPhone: "3001234567", Text: "hi"}},
	})

	// must not panic or retry; the occurrence is simply dropped
	s.fire("c1")
	if len(st.started()) != 0 {
		t.Fatal("busy orchestrator must drop the occurrence")
	}
}
