package probe

import (
	"context"
	"testing"
	"time"

	"wabridge/internal/transport"
	logx "wabridge/pkg/logx"
)

type scriptedPinger struct {
	results []transport.PingResult
	calls   int
}

func (s *scriptedPinger) Ping(ctx context.Context, timeout time.Duration) transport.PingResult {
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r
}

func TestStatusSkipsSessionCheckWhenAbsent(t *testing.T) {
	pinger := &scriptedPinger{results: []transport.PingResult{{}}}
	p := New(pinger, logx.Nop())

	st := p.Status(context.Background(), time.Second)
	if st.Installed || st.SessionActive {
		t.Fatalf("unexpected status: %+v", st)
	}
	if pinger.calls != 1 {
		t.Fatalf("expected 1 probe (no session check against absent agent), got %d", pinger.calls)
	}
}

func TestStatusComposesBothProbes(t *testing.T) {
	pinger := &scriptedPinger{results: []transport.PingResult{
		{Installed: true, Version: "2.4.0"},
		{Installed: true, Version: "2.4.0", SessionActive: true},
	}}
	p := New(pinger, logx.Nop())

	st := p.Status(context.Background(), time.Second)
	if !st.Installed || st.Version != "2.4.0" || !st.SessionActive {
		t.Fatalf("unexpected status: %+v", st)
	}
	if pinger.calls != 2 {
		t.Fatalf("expected 2 probes, got %d", pinger.calls)
	}
}
