// Package health periodically probes every upstream candidate with a canary
// user id and tracks which candidates are degraded.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/resolver"
	"github.com/lsqkk/bili-card/internal/upstream"
)

// Candidate statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// profileNeed is the need whose availability decides whether cards can be served.
const profileNeed = "profile"

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	FailThreshold int
	CanaryUID     string
}

// EndpointLister returns the candidate requests to probe for a uid.
type EndpointLister interface {
	Endpoints(uid string) []resolver.Endpoint
}

// Prober performs one diagnostic request.
type Prober interface {
	Probe(ctx context.Context, ep upstream.Endpoint) upstream.Probe
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(candidate string, success bool)

// ServingFunc is an optional callback invoked when overall serving status flips.
type ServingFunc func(serving bool)

// CandidateStatus is the last known state of one candidate.
type CandidateStatus struct {
	Name      string        `json:"name"`
	Need      string        `json:"need"`
	Status    string        `json:"status"`
	FailCount int           `json:"fail_count"`
	Latency   time.Duration `json:"latency_ns"`
	LastError string        `json:"last_error,omitempty"`
}

// Report is a snapshot of the checker's view.
type Report struct {
	CheckedAt  time.Time         `json:"checked_at"`
	Serving    bool              `json:"serving"`
	Candidates []CandidateStatus `json:"candidates"`
}

// Checker runs periodic upstream probes.
type Checker struct {
	lister EndpointLister
	prober Prober
	cfg    Config

	mu         sync.Mutex
	failCounts map[string]int
	report     Report

	onMetrics MetricsRecordFunc
	onServing ServingFunc
	logger    *zap.Logger
}

// New creates a new Checker.
func New(lister EndpointLister, prober Prober, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if cfg.CanaryUID == "" {
		cfg.CanaryUID = "2"
	}

	return &Checker{
		lister:     lister,
		prober:     prober,
		cfg:        cfg,
		failCounts: make(map[string]int),
		report:     Report{Serving: true},
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// SetServingCallback configures the serving-status callback.
func (h *Checker) SetServingCallback(fn ServingFunc) {
	h.onServing = fn
}

// Report returns the most recent snapshot.
func (h *Checker) Report() Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.report
	r.Candidates = append([]CandidateStatus(nil), h.report.Candidates...)
	return r
}

// Start runs one check immediately, then every interval until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	check := func() {
		cctx, cancel := context.WithTimeout(ctx, h.cfg.CheckInterval)
		h.CheckAll(cctx)
		cancel()
	}

	check()
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every candidate once with bounded concurrency.
func (h *Checker) CheckAll(ctx context.Context) Report {
	eps := h.lister.Endpoints(h.cfg.CanaryUID)
	statuses := make([]CandidateStatus, len(eps))

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for i, ep := range eps {
		wg.Add(1)
		go func(i int, ep resolver.Endpoint) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			p := h.prober.Probe(ctx, ep.Endpoint)
			success := healthy(p)

			if h.onMetrics != nil {
				h.onMetrics(ep.Name, success)
			}

			h.mu.Lock()
			prevCount := h.failCounts[ep.Name]
			if success {
				h.failCounts[ep.Name] = 0
			} else {
				h.failCounts[ep.Name]++
			}
			count := h.failCounts[ep.Name]
			h.mu.Unlock()

			st := CandidateStatus{
				Name:      ep.Name,
				Need:      ep.Need,
				Status:    StatusHealthy,
				FailCount: count,
				Latency:   p.Latency,
				LastError: p.Error,
			}
			if count >= h.cfg.FailThreshold {
				st.Status = StatusDegraded
			}
			statuses[i] = st

			if success && prevCount >= h.cfg.FailThreshold {
				// Transition: degraded → healthy
				h.logger.Info("health: recovered", zap.String("candidate", ep.Name))
			} else if count == h.cfg.FailThreshold {
				// Transition: healthy → degraded (exactly at threshold)
				h.logger.Warn("health: degraded",
					zap.String("candidate", ep.Name),
					zap.String("need", ep.Need),
					zap.Int("fail_count", count),
					zap.String("last_error", p.Error),
				)
			}
		}(i, ep)
	}

	wg.Wait()

	report := Report{
		CheckedAt:  time.Now().UTC(),
		Serving:    serving(statuses),
		Candidates: statuses,
	}

	h.mu.Lock()
	prev := h.report.Serving
	h.report = report
	h.mu.Unlock()

	if prev != report.Serving {
		h.logger.Warn("health: serving status changed", zap.Bool("serving", report.Serving))
		if h.onServing != nil {
			h.onServing(report.Serving)
		}
	}
	return report
}

// healthy treats any answered envelope as healthy: an upstream that says
// "no such user" for the canary is still reachable.
func healthy(p upstream.Probe) bool {
	if p.OK {
		return true
	}
	return p.Kind == upstream.KindEnvelope
}

// serving is true while at least one profile candidate is not degraded.
func serving(statuses []CandidateStatus) bool {
	for _, s := range statuses {
		if s.Need == profileNeed && s.Status != StatusDegraded {
			return true
		}
	}
	return false
}
