package health

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/resolver"
	"github.com/lsqkk/bili-card/internal/upstream"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubLister struct {
	eps []resolver.Endpoint
}

func (s *stubLister) Endpoints(_ string) []resolver.Endpoint {
	return s.eps
}

type stubProber struct {
	mu      sync.Mutex
	results map[string]upstream.Probe
}

func (s *stubProber) Probe(_ context.Context, ep upstream.Endpoint) upstream.Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.results[ep.Name]
	if !ok {
		return upstream.Probe{Candidate: ep.Name, OK: true}
	}
	p.Candidate = ep.Name
	return p
}

func (s *stubProber) set(name string, p upstream.Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[name] = p
}

func endpoint(need, name string) resolver.Endpoint {
	return resolver.Endpoint{Need: need, Endpoint: upstream.Endpoint{Name: name, URL: "http://upstream.test/" + name}}
}

func newStubs() (*stubLister, *stubProber) {
	lister := &stubLister{eps: []resolver.Endpoint{
		endpoint("profile", "uapis_userinfo"),
		endpoint("profile", "acc_info"),
		endpoint("relation", "relation_stat"),
	}}
	return lister, &stubProber{results: make(map[string]upstream.Probe)}
}

var transportFailure = upstream.Probe{Kind: upstream.KindTransport, Error: "connection refused"}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheckAll_allHealthy(t *testing.T) {
	lister, prober := newStubs()
	checker := New(lister, prober, Config{}, zap.NewNop())

	rep := checker.CheckAll(context.Background())
	if !rep.Serving {
		t.Error("expected serving")
	}
	if len(rep.Candidates) != 3 {
		t.Fatalf("candidates: got %d, want 3", len(rep.Candidates))
	}
	for _, c := range rep.Candidates {
		if c.Status != StatusHealthy {
			t.Errorf("%s: got %q, want healthy", c.Name, c.Status)
		}
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	lister, prober := newStubs()
	prober.set("relation_stat", transportFailure)

	checker := New(lister, prober, Config{FailThreshold: 3}, zap.NewNop())

	// Run 3 times to hit the threshold.
	var rep Report
	for i := 0; i < 3; i++ {
		rep = checker.CheckAll(context.Background())
	}

	got := rep.Candidates[2]
	if got.Status != StatusDegraded {
		t.Errorf("expected degraded, got %q", got.Status)
	}
	if got.FailCount != 3 {
		t.Errorf("fail count: got %d, want 3", got.FailCount)
	}
	if got.LastError != "connection refused" {
		t.Errorf("last error: got %q", got.LastError)
	}
	if !rep.Serving {
		t.Error("relation failures must not stop serving")
	}
}

func TestCheckAll_belowThresholdStaysHealthy(t *testing.T) {
	lister, prober := newStubs()
	prober.set("acc_info", transportFailure)

	checker := New(lister, prober, Config{FailThreshold: 3}, zap.NewNop())
	checker.CheckAll(context.Background())
	rep := checker.CheckAll(context.Background())

	if rep.Candidates[1].Status != StatusHealthy {
		t.Errorf("expected healthy below threshold, got %q", rep.Candidates[1].Status)
	}
}

func TestCheckAll_recovers(t *testing.T) {
	lister, prober := newStubs()
	prober.set("acc_info", transportFailure)

	checker := New(lister, prober, Config{FailThreshold: 1}, zap.NewNop())
	if rep := checker.CheckAll(context.Background()); rep.Candidates[1].Status != StatusDegraded {
		t.Fatalf("expected degraded, got %q", rep.Candidates[1].Status)
	}

	prober.set("acc_info", upstream.Probe{OK: true})
	rep := checker.CheckAll(context.Background())
	if rep.Candidates[1].Status != StatusHealthy || rep.Candidates[1].FailCount != 0 {
		t.Errorf("expected recovery, got %+v", rep.Candidates[1])
	}
}

func TestCheckAll_envelopeErrorIsHealthy(t *testing.T) {
	lister, prober := newStubs()
	prober.set("acc_info", upstream.Probe{Kind: upstream.KindEnvelope, Code: "-404", Status: 200})

	checker := New(lister, prober, Config{FailThreshold: 1}, zap.NewNop())
	rep := checker.CheckAll(context.Background())
	if rep.Candidates[1].Status != StatusHealthy {
		t.Errorf("an answered envelope should count as reachable, got %q", rep.Candidates[1].Status)
	}
}

func TestCheckAll_servingFlipsWhenEveryProfileCandidateDegrades(t *testing.T) {
	lister, prober := newStubs()
	prober.set("uapis_userinfo", transportFailure)
	prober.set("acc_info", upstream.Probe{Kind: upstream.KindStatus, Status: 412})

	checker := New(lister, prober, Config{FailThreshold: 1}, zap.NewNop())

	var flips []bool
	checker.SetServingCallback(func(serving bool) { flips = append(flips, serving) })

	rep := checker.CheckAll(context.Background())
	if rep.Serving {
		t.Error("expected not serving")
	}

	prober.set("acc_info", upstream.Probe{OK: true})
	rep = checker.CheckAll(context.Background())
	if !rep.Serving {
		t.Error("expected serving after recovery")
	}

	if len(flips) != 2 || flips[0] || !flips[1] {
		t.Errorf("serving callbacks: got %v, want [false true]", flips)
	}
}

func TestCheckAll_recordsMetrics(t *testing.T) {
	lister, prober := newStubs()
	prober.set("relation_stat", transportFailure)

	checker := New(lister, prober, Config{}, zap.NewNop())

	var mu sync.Mutex
	got := make(map[string]bool)
	checker.SetMetricsRecord(func(candidate string, success bool) {
		mu.Lock()
		got[candidate] = success
		mu.Unlock()
	})

	checker.CheckAll(context.Background())

	if len(got) != 3 {
		t.Fatalf("recorded %d candidates, want 3", len(got))
	}
	if got["relation_stat"] {
		t.Error("relation_stat should be recorded as failure")
	}
	if !got["uapis_userinfo"] {
		t.Error("uapis_userinfo should be recorded as success")
	}
}

func TestReport_isSnapshot(t *testing.T) {
	lister, prober := newStubs()
	checker := New(lister, prober, Config{}, zap.NewNop())

	if rep := checker.Report(); !rep.Serving || len(rep.Candidates) != 0 {
		t.Errorf("initial report: got %+v", rep)
	}

	checker.CheckAll(context.Background())
	rep := checker.Report()
	rep.Candidates[0].Status = "mutated"

	if checker.Report().Candidates[0].Status != StatusHealthy {
		t.Error("Report must return a copy")
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	lister, prober := newStubs()
	checker := New(lister, prober, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	cancel()
	<-done

	if checker.Report().CheckedAt.IsZero() {
		t.Error("Start should run an immediate check")
	}
}
