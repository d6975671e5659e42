package orchestrator

import (
	"time"

	"wabridge/internal/batch"
	"wabridge/internal/wire"
)

// tally is the pure accounting core: one fold per agent-reported result,
// idempotent by message id. sent + failed + pending() == total always.
type tally struct {
	total  int
	sent   int
	failed int
	msgs   map[string]*messageState
}

type messageState struct {
	label       string
	destination string
	status      wire.DeliveryStatus // "" while pending
	// aborted marks a terminal state assigned locally (cancel / batch
	// failure) rather than reported by the agent. A late real result may
	// still reclassify an aborted message; a real result never changes.
	aborted bool
}

func newTally(b batch.Batch) *tally {
	t := &tally{total: len(b.Messages), msgs: make(map[string]*messageState, len(b.Messages))}
	for _, m := range b.Messages {
		t.msgs[m.ID] = &messageState{label: m.Label, destination: m.Destination}
	}
	return t
}

func (t *tally) pending() int { return t.total - t.sent - t.failed }

// fold applies one per-message result.
//
// Returns changed=false for unknown ids and duplicate notifications of an
// agent-reported terminal state; both are ignored rather than
// double-counted.
func (t *tally) fold(messageID string, status wire.DeliveryStatus) (m *messageState, changed bool) {
	if status != wire.StatusSent && status != wire.StatusFailed {
		return nil, false
	}
	m = t.msgs[messageID]
	if m == nil {
		return nil, false
	}

	switch {
	case m.status == "":
		m.status = status
		if status == wire.StatusSent {
			t.sent++
		} else {
			t.failed++
		}
		return m, true

	case m.aborted:
		// Locally aborted, but the agent had the message in flight after
		// all. Reclassify without disturbing sent+failed+pending.
		m.aborted = false
		if m.status == status {
			return m, false
		}
		if status == wire.StatusSent {
			t.failed--
			t.sent++
		} else {
			t.sent--
			t.failed++
		}
		m.status = status
		return m, true

	default:
		return m, false
	}
}

// abort marks every still-pending message as locally failed and returns
// their ids. Map iteration order is unspecified; callers that need stable
// output sort the ids.
func (t *tally) abort() []string {
	var ids []string
	for id, m := range t.msgs {
		if m.status != "" {
			continue
		}
		m.status = wire.StatusFailed
		m.aborted = true
		t.failed++
		ids = append(ids, id)
	}
	return ids
}

// estimateETA projects completion from the observed send rate, falling
// back to the declared throttle before any result has arrived. Advisory
// only: the agent controls real pacing.
func estimateETA(now, startedAt time.Time, perMinute, processed, pending int) time.Time {
	if pending <= 0 {
		return time.Time{}
	}
	perSec := float64(perMinute) / 60.0
	if processed > 0 {
		if elapsed := now.Sub(startedAt).Seconds(); elapsed > 0 {
			perSec = float64(processed) / elapsed
		}
	}
	if perSec <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(float64(pending) / perSec * float64(time.Second)))
}
