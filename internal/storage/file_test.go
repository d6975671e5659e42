package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "wabridge/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bridge")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	for i, state := range []string{"completed", "cancelled", "failed"} {
		err := st.AppendReport(ctx, BatchReport{
			At: now.Add(time.Duration(i) * time.Minute), BatchID: state + "-batch",
			CreatedBy: "tester", Source: "wabridge", State: state,
			Total: 10, Sent: 7, Failed: 3, StartedAt: now,
		})
		if err != nil {
			t.Fatalf("AppendReport: %v", err)
		}
	}

	got, err := st.RecentReports(ctx, 2)
	if err != nil {
		t.Fatalf("RecentReports: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d reports, want 2", len(got))
	}
	// Most-recent-first.
	if got[0].BatchID != "failed-batch" || got[1].BatchID != "cancelled-batch" {
		t.Fatalf("unexpected order: %q, %q", got[0].BatchID, got[1].BatchID)
	}
	if got[0].Sent+got[0].Failed != got[0].Total {
		t.Fatalf("report accounting broken: %+v", got[0])
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store when disabled")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
