package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"wabridge/internal/batch"
	"wabridge/internal/wire"
)

func testBatch(n int) batch.Batch {
	msgs := make([]batch.OutboundMessage, n)
	for i := range msgs {
		msgs[i] = batch.OutboundMessage{
			ID:          fmt.Sprintf("m%04d", i),
			Label:       fmt.Sprintf("r%d", i),
			Destination: fmt.Sprintf("+5730000000%02d", i),
		}
	}
	return batch.Batch{
		BatchID:  "b-test",
		Messages: msgs,
		Throttle: batch.ThrottlePolicy{PerMinute: 60},
		Meta:     batch.Meta{CreatedBy: "tester", Source: batch.Source},
	}
}

func checkInvariant(t *testing.T, ta *tally) {
	t.Helper()
	if ta.sent+ta.failed+ta.pending() != ta.total {
		t.Fatalf("invariant broken: sent=%d failed=%d pending=%d total=%d",
			ta.sent, ta.failed, ta.pending(), ta.total)
	}
	if ta.pending() < 0 {
		t.Fatalf("pending went negative: %d", ta.pending())
	}
}

func TestFoldCountsOnce(t *testing.T) {
	ta := newTally(testBatch(3))

	if _, changed := ta.fold("m0000", wire.StatusSent); !changed {
		t.Fatal("first fold should change accounting")
	}
	checkInvariant(t, ta)

	// Duplicate delivery notification is detected and ignored.
	if _, changed := ta.fold("m0000", wire.StatusSent); changed {
		t.Fatal("duplicate fold must not change accounting")
	}
	if _, changed := ta.fold("m0000", wire.StatusFailed); changed {
		t.Fatal("conflicting duplicate must not change accounting")
	}
	if ta.sent != 1 || ta.failed != 0 {
		t.Fatalf("sent=%d failed=%d after duplicates, want 1/0", ta.sent, ta.failed)
	}
	checkInvariant(t, ta)
}

func TestFoldUnknownIDIgnored(t *testing.T) {
	ta := newTally(testBatch(2))
	if _, changed := ta.fold("m9999", wire.StatusSent); changed {
		t.Fatal("unknown message id must be ignored")
	}
	if _, changed := ta.fold("m0000", "exploded"); changed {
		t.Fatal("unknown status must be ignored")
	}
	checkInvariant(t, ta)
}

func TestAbortThenLateResultsKeepInvariant(t *testing.T) {
	ta := newTally(testBatch(4))
	ta.fold("m0000", wire.StatusSent)

	ids := ta.abort()
	if len(ids) != 3 {
		t.Fatalf("aborted %d messages, want 3", len(ids))
	}
	if ta.pending() != 0 || ta.sent+ta.failed != ta.total {
		t.Fatalf("abort must close accounting: %+v pending=%d", ta, ta.pending())
	}

	// A message that was actually in flight reports sent after the abort:
	// reclassified, totals intact.
	if _, changed := ta.fold("m0001", wire.StatusSent); !changed {
		t.Fatal("late real result after abort should reclassify")
	}
	if ta.sent != 2 || ta.failed != 2 {
		t.Fatalf("sent=%d failed=%d after reclassify, want 2/2", ta.sent, ta.failed)
	}
	checkInvariant(t, ta)

	// A late failed for an aborted message keeps it failed, no change.
	if _, changed := ta.fold("m0002", wire.StatusFailed); changed {
		t.Fatal("late failed on aborted message must not change counts")
	}
	// And a second late result for the reclassified one is a duplicate now.
	if _, changed := ta.fold("m0001", wire.StatusFailed); changed {
		t.Fatal("result after reclassification must be ignored")
	}
	checkInvariant(t, ta)
}

func TestEstimateETA(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	now := time.Now()

	// No results yet: fall back to the declared throttle.
	eta := estimateETA(now, start, 60, 0, 30)
	if eta.IsZero() {
		t.Fatal("expected throttle-based ETA")
	}
	want := now.Add(30 * time.Second)
	if diff := eta.Sub(want); diff < -time.Second || diff > time.Second {
		t.Fatalf("eta %v, want about %v", eta, want)
	}

	// Observed rate wins once results exist: 30 processed in 60s = 0.5/s.
	eta = estimateETA(now, start, 600, 30, 10)
	want = now.Add(20 * time.Second)
	if diff := eta.Sub(want); diff < -time.Second || diff > time.Second {
		t.Fatalf("eta %v, want about %v", eta, want)
	}

	if !estimateETA(now, start, 60, 5, 0).IsZero() {
		t.Fatal("zero pending must yield zero ETA")
	}
	if !estimateETA(now, start, 0, 0, 5).IsZero() {
		t.Fatal("no rate information must yield zero ETA")
	}
}
