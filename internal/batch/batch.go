// Package batch builds immutable outbound batches from raw recipient rows.
//
// The composer never silently drops a recipient: rows that fail phone
// normalization are partitioned into a rejected list and the caller decides
// whether to proceed with the valid subset.
package batch

import (
	"fmt"

	"github.com/google/uuid"

	"wabridge/internal/phone"
)

// Source tags every batch produced by this channel.
const Source = "wabridge"

type FileRef struct {
	Name      string
	URL       string
	MimeType  string
	SizeBytes int64
}

// OutboundMessage is one personalized message within a batch. Owned by the
// batch until the batch terminates.
type OutboundMessage struct {
	ID           string // unique within the batch, stable across retried compositions
	Label        string // recipient display label, carried into the event log
	Destination  string // canonical phone
	ResolvedText string
	Attachments  []FileRef
}

// ThrottlePolicy is declarative; it is interpreted entirely by the remote
// agent. The bridge carries it, it does not enforce it.
type ThrottlePolicy struct {
	PerMinute     int
	JitterSeconds []int // [min, max] or nil
}

type Meta struct {
	CreatedBy string
	Source    string
}

// Batch is one immutable unit of work, submitted exactly once.
type Batch struct {
	BatchID  string
	Messages []OutboundMessage
	Throttle ThrottlePolicy
	DryRun   bool
	Meta     Meta
}

// Recipient is one source row from the leads/campaign subsystem, with the
// message text already rendered.
type Recipient struct {
	Label       string
	RawPhone    string
	Text        string
	Attachments []FileRef
}

// Rejected records one recipient excluded from the batch and why.
type Rejected struct {
	Label    string
	RawPhone string
	Reason   phone.Reason
}

// Compose validates and normalizes every recipient and assembles a batch.
//
// Message ids are derived from the recipient's source-row index, so replay
// and debugging can match ids back to input rows even when some rows were
// rejected. A caller-supplied batchID is kept as an idempotency hook for
// retried submissions of the same logical batch; otherwise a fresh one is
// generated.
//
// When every recipient is rejected the returned batch is empty rather than
// an error; the orchestrator refuses to start an empty batch.
func Compose(profile phone.Profile, recipients []Recipient, throttle ThrottlePolicy, dryRun bool, createdBy, batchID string) (Batch, []Rejected) {
	if batchID == "" {
		batchID = uuid.NewString()
	}

	msgs := make([]OutboundMessage, 0, len(recipients))
	var rejected []Rejected
	for i, r := range recipients {
		res := profile.Normalize(r.RawPhone)
		if !res.OK {
			rejected = append(rejected, Rejected{Label: r.Label, RawPhone: r.RawPhone, Reason: res.Reason})
			continue
		}
		msgs = append(msgs, OutboundMessage{
			ID:           fmt.Sprintf("m%04d", i),
			Label:        r.Label,
			Destination:  res.Canonical,
			ResolvedText: r.Text,
			Attachments:  r.Attachments,
		})
	}

	return Batch{
		BatchID:  batchID,
		Messages: msgs,
		Throttle: throttle,
		DryRun:   dryRun,
		Meta:     Meta{CreatedBy: createdBy, Source: Source},
	}, rejected
}
