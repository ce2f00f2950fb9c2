// Package monitor polls the Prediction Service and keeps a bounded history
// of health verdicts.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-forecast-refresh/internal/config"
	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
)

// Probe error kinds.
const (
	KindTimeout    = "timeout"
	KindConnection = "connection"
	KindHTTPStatus = "http_status"
	KindDecode     = "decode"
	KindPanic      = "panic"
)

const maxStatusBody = 1 << 20

// Monitor polls the liveness and status endpoints of the Prediction Service.
type Monitor struct {
	client  *http.Client
	baseURL string
	cfg     config.MonitorConfig
	loc     *time.Location
	clock   clockwork.Clock
	metrics *observability.MonitorMetrics
	logger  *slog.Logger
	started time.Time

	mu       sync.RWMutex
	ring     *Ring
	verdict  domain.Verdict
	failures int // consecutive liveness failures
	checks   int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHTTPClient replaces the probe HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// New creates a Monitor. loc is used for status timestamps without an offset.
func New(cfg config.MonitorConfig, loc *time.Location, clock clockwork.Clock, logger *slog.Logger, metrics *observability.MonitorMetrics, opts ...Option) *Monitor {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	m := &Monitor{
		client:  &http.Client{},
		baseURL: strings.TrimRight(cfg.TargetURL, "/"),
		cfg:     cfg,
		loc:     loc,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		started: clock.Now(),
		ring:    NewRing(cfg.HistorySize, cfg.HistoryMaxAge),
		verdict: domain.VerdictUnknown,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.setVerdictGauge(domain.VerdictUnknown)
	return m
}

// Run polls immediately and then every Interval until ctx is cancelled. A
// panicking poll is logged and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("health monitor started", "target", m.baseURL, "interval", m.cfg.Interval)
	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.safePoll(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

func (m *Monitor) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.PollPanics.Inc()
			m.logger.Error("health poll panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	m.Poll(ctx)
}

// Poll runs one cycle: all probes concurrently, then classification. The
// sample is recorded and returned.
func (m *Monitor) Poll(ctx context.Context) domain.HealthSample {
	var (
		wg               sync.WaitGroup
		liveness, status domain.ProbeResult
		statusBody       []byte
		extra            []domain.ProbeResult
	)
	if len(m.cfg.ExtraPaths) > 0 {
		extra = make([]domain.ProbeResult, len(m.cfg.ExtraPaths))
	}
	wg.Add(2 + len(extra))
	go func() {
		defer wg.Done()
		liveness, _ = m.probe(ctx, m.cfg.LivenessPath)
	}()
	go func() {
		defer wg.Done()
		status, statusBody = m.probe(ctx, m.cfg.StatusPath)
	}()
	for i, path := range m.cfg.ExtraPaths {
		go func() {
			defer wg.Done()
			extra[i], _ = m.probe(ctx, path)
		}()
	}
	wg.Wait()

	sample := domain.HealthSample{
		Timestamp: m.clock.Now(),
		Liveness:  liveness,
		Status:    status,
		Extra:     extra,
	}
	if status.OK {
		var p statusPayload
		if err := json.Unmarshal(statusBody, &p); err != nil {
			sample.Status.OK = false
			sample.Status.ErrorKind = KindDecode
		} else {
			sample.ReportedStatus = p.Status
			sample.ModelLoaded = p.modelLoaded()
			sample.DatasetRows = p.datasetRows()
			sample.DatasetAreas = p.DataInfo.NumAreas
			sample.DatasetModified = p.datasetModified(m.loc)
			sample.MemoryRSSMB = p.MemoryUsage.RSSMB.v
			sample.ServiceUptime = p.Uptime
		}
	}

	m.mu.Lock()
	if sample.Liveness.OK {
		m.failures = 0
	} else {
		m.failures++
	}
	sample.Verdict, sample.Reason = classify(sample, m.failures, m.cfg)
	prev := m.verdict
	m.verdict = sample.Verdict
	m.ring.Push(sample)
	m.checks++
	size := m.ring.Len()
	m.mu.Unlock()

	m.observe(sample, size)
	if sample.Verdict != prev {
		m.logger.Warn("health verdict changed", "from", prev, "to", sample.Verdict, "reason", sample.Reason)
	} else {
		m.logger.Debug("health poll", "verdict", sample.Verdict, "reason", sample.Reason)
	}
	return sample
}

func (m *Monitor) probe(ctx context.Context, path string) (res domain.ProbeResult, body []byte) {
	res.Endpoint = path
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("probe panicked", "endpoint", path, "panic", r)
			res = domain.ProbeResult{Endpoint: path, ErrorKind: KindPanic}
			body = nil
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		res.ErrorKind = KindConnection
		return res, nil
	}

	start := m.clock.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		res.Latency = m.clock.Since(start)
		res.ErrorKind = errorKind(err)
		return res, nil
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	res.Latency = m.clock.Since(start)
	res.StatusCode = resp.StatusCode
	switch {
	case err != nil:
		res.ErrorKind = errorKind(err)
	case resp.StatusCode != http.StatusOK:
		res.ErrorKind = KindHTTPStatus
	default:
		res.OK = true
	}
	return res, body
}

func errorKind(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return KindTimeout
	}
	return KindConnection
}

// classify derives the verdict for a sample given the number of consecutive
// liveness failures including this one.
func classify(s domain.HealthSample, failures int, cfg config.MonitorConfig) (domain.Verdict, string) {
	if !s.Liveness.OK {
		reason := fmt.Sprintf("liveness probe failed: %s", s.Liveness.ErrorKind)
		if failures >= cfg.FailureThreshold {
			return domain.VerdictUnhealthy, reason
		}
		return domain.VerdictDegraded, fmt.Sprintf("%s (%d/%d)", reason, failures, cfg.FailureThreshold)
	}

	var reasons []string
	if !s.Status.OK {
		reasons = append(reasons, "status probe failed: "+s.Status.ErrorKind)
	}
	for _, p := range s.Extra {
		if !p.OK {
			reasons = append(reasons, fmt.Sprintf("%s failed: %s", p.Endpoint, p.ErrorKind))
		}
	}
	if cfg.LatencyBudget > 0 {
		if s.Liveness.Latency > cfg.LatencyBudget {
			reasons = append(reasons, fmt.Sprintf("liveness slow: %s", s.Liveness.Latency.Round(time.Millisecond)))
		}
		if s.Status.OK && s.Status.Latency > cfg.LatencyBudget {
			reasons = append(reasons, fmt.Sprintf("status slow: %s", s.Status.Latency.Round(time.Millisecond)))
		}
	}
	if s.ReportedStatus != "" && s.ReportedStatus != "healthy" && s.ReportedStatus != "ok" {
		reasons = append(reasons, "service reports "+s.ReportedStatus)
	}
	if s.ModelLoaded != nil && !*s.ModelLoaded {
		reasons = append(reasons, "model not loaded")
	}
	if s.DatasetModified != nil && cfg.MaxDataAge > 0 {
		if age := s.Timestamp.Sub(*s.DatasetModified); age > cfg.MaxDataAge {
			reasons = append(reasons, fmt.Sprintf("dataset stale: %s old", age.Round(time.Minute)))
		}
	}

	if len(reasons) > 0 {
		return domain.VerdictDegraded, strings.Join(reasons, "; ")
	}
	return domain.VerdictHealthy, ""
}

func (m *Monitor) observe(s domain.HealthSample, size int) {
	m.metrics.Polls.WithLabelValues(string(s.Verdict)).Inc()
	m.metrics.HistorySamples.Set(float64(size))
	m.setVerdictGauge(s.Verdict)
	probes := append([]domain.ProbeResult{s.Liveness, s.Status}, s.Extra...)
	for _, p := range probes {
		if p.Latency > 0 {
			m.metrics.ProbeDuration.WithLabelValues(p.Endpoint).Observe(p.Latency.Seconds())
		}
		if !p.OK {
			m.metrics.ProbeFailures.WithLabelValues(p.Endpoint, p.ErrorKind).Inc()
		}
	}
}

func (m *Monitor) setVerdictGauge(current domain.Verdict) {
	for _, v := range []domain.Verdict{domain.VerdictUnknown, domain.VerdictHealthy, domain.VerdictDegraded, domain.VerdictUnhealthy} {
		val := 0.0
		if v == current {
			val = 1
		}
		m.metrics.CurrentVerdict.WithLabelValues(string(v)).Set(val)
	}
}

// Verdict returns the current verdict; VerdictUnknown before the first poll.
func (m *Monitor) Verdict() domain.Verdict {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.verdict
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []domain.HealthSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring.Prune(m.clock.Now())
	return m.ring.Snapshot()
}

// Latest returns the newest sample.
func (m *Monitor) Latest() (domain.HealthSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring.Latest()
}

// Checks returns how many polls have completed since start.
func (m *Monitor) Checks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checks
}

// Uptime returns how long the monitor has been running.
func (m *Monitor) Uptime() time.Duration {
	return m.clock.Since(m.started)
}

// Target returns the monitored base URL.
func (m *Monitor) Target() string { return m.baseURL }

// Summary aggregates the retained history.
func (m *Monitor) Summary() Summary {
	s := Summarize(m.History())
	s.Current = m.Verdict()
	return s
}
