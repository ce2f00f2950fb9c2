// Package scheduler runs dataset refreshes at startup, on a daily schedule
// and on demand, never more than one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
	"github.com/couchcryptid/flood-forecast-refresh/internal/pipeline"
)

// State is the scheduler's run state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

const (
	recentOutcomes = 50
	sinkTimeout    = 5 * time.Second
)

// Refresher performs one update run.
type Refresher interface {
	Refresh(ctx context.Context) (pipeline.Report, error)
}

// OutcomeSink receives every completed run outcome.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, outcome domain.RunOutcome) error
}

// Options configures when runs fire.
type Options struct {
	Schedule   cron.Schedule
	Location   *time.Location
	RunOnStart bool
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	State        State              `json:"state"`
	CurrentRunID string             `json:"current_run_id,omitempty"`
	NextRun      time.Time          `json:"next_run,omitzero"`
	LastOutcome  *domain.RunOutcome `json:"last_outcome,omitempty"`
}

// Scheduler coordinates update runs. A trigger that arrives while a run is
// in progress is rejected, never queued.
type Scheduler struct {
	refresher Refresher
	opts      Options
	clock     clockwork.Clock
	sinks     []OutcomeSink
	metrics   *observability.RefreshMetrics
	logger    *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.RWMutex
	baseCtx context.Context
	current string
	nextRun time.Time
	recent  []domain.RunOutcome // newest last
}

// New creates a Scheduler.
func New(refresher Refresher, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.RefreshMetrics, sinks ...OutcomeSink) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		refresher: refresher,
		opts:      opts,
		clock:     clock,
		sinks:     sinks,
		metrics:   metrics,
		logger:    logger,
		baseCtx:   context.Background(),
	}
}

// Run performs the startup run if configured, then fires a run at every
// scheduled time until ctx is cancelled. Scheduled runs execute in the
// calling goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.opts.RunOnStart {
		s.fire(ctx, domain.TriggerStartup)
	}

	for {
		now := s.clock.Now().In(s.opts.Location)
		next := s.opts.Schedule.Next(now)
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()
		s.logger.Info("next refresh scheduled", "at", next, "in", next.Sub(now).Round(time.Second))

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-timer.Chan():
			s.fire(ctx, domain.TriggerSchedule)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, trigger domain.Trigger) {
	if _, err := s.Trigger(ctx, trigger); errors.Is(err, domain.ErrConcurrentRunRejected) {
		s.logger.Info("skipping refresh, previous run still in progress", "trigger", trigger)
	}
}

// Trigger runs a refresh synchronously and returns its outcome. It returns
// domain.ErrConcurrentRunRejected if a run is already in progress.
func (s *Scheduler) Trigger(ctx context.Context, trigger domain.Trigger) (domain.RunOutcome, error) {
	if !s.acquire(trigger) {
		return domain.RunOutcome{}, domain.ErrConcurrentRunRejected
	}
	defer s.release()
	return s.execute(ctx, trigger, uuid.NewString()), nil
}

// Start begins a refresh in the background and returns its run ID. The run
// uses the context passed to Run, so it stops with the scheduler rather than
// with the caller.
func (s *Scheduler) Start(trigger domain.Trigger) (string, error) {
	if !s.acquire(trigger) {
		return "", domain.ErrConcurrentRunRejected
	}
	id := uuid.NewString()
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		s.execute(ctx, trigger, id)
	}()
	return id, nil
}

// Wait blocks until background runs started with Start have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) acquire(trigger domain.Trigger) bool {
	if s.running.CompareAndSwap(false, true) {
		s.metrics.RunRunning.Set(1)
		return true
	}
	s.metrics.RunsRejected.Inc()
	s.logger.Info("refresh trigger rejected", "trigger", trigger, "error", domain.ErrConcurrentRunRejected)
	return false
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
	s.metrics.RunRunning.Set(0)
	s.running.Store(false)
}

func (s *Scheduler) execute(ctx context.Context, trigger domain.Trigger, id string) domain.RunOutcome {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()

	started := s.clock.Now()
	s.logger.Info("refresh started", "run_id", id, "trigger", trigger)

	report, err := s.refresh(ctx, id)
	outcome := buildOutcome(id, trigger, started, s.clock.Now(), report, err)

	s.record(ctx, outcome)
	return outcome
}

// refresh calls the refresher, turning a panic into an error so the run
// still ends with a recorded Failed outcome.
func (s *Scheduler) refresh(ctx context.Context, id string) (report pipeline.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("refresh panicked", "run_id", id, "panic", r, "stack", string(debug.Stack()))
			report, err = pipeline.Report{}, fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	return s.refresher.Refresh(ctx)
}

func buildOutcome(id string, trigger domain.Trigger, started, finished time.Time, report pipeline.Report, err error) domain.RunOutcome {
	o := domain.RunOutcome{
		RunID:          id,
		Trigger:        trigger,
		StartedAt:      started,
		FinishedAt:     finished,
		Status:         domain.RunSuccess,
		Localities:     report.Localities,
		Refreshed:      report.Refreshed,
		Failed:         report.Failed,
		CarriedForward: report.CarriedForward,
		Uncovered:      report.Uncovered,
		Orphans:        report.Orphans,
		Rows:           report.Receipt.Rows,
		BackupPath:     report.Receipt.BackupPath,
	}
	switch {
	case err != nil:
		o.Status = domain.RunFailed
		o.Error = err.Error()
	case len(report.Failed) > 0 || len(report.Uncovered) > 0 || len(report.CarriedForward) > 0:
		o.Status = domain.RunPartialSuccess
	}
	return o
}

func (s *Scheduler) record(ctx context.Context, o domain.RunOutcome) {
	s.mu.Lock()
	s.recent = append(s.recent, o)
	if len(s.recent) > recentOutcomes {
		s.recent = s.recent[len(s.recent)-recentOutcomes:]
	}
	s.mu.Unlock()

	s.metrics.RunsTotal.WithLabelValues(string(o.Trigger), string(o.Status)).Inc()
	s.metrics.RunDuration.Observe(o.Duration().Seconds())

	attrs := []any{
		"run_id", o.RunID,
		"trigger", o.Trigger,
		"status", o.Status,
		"duration", o.Duration().Round(time.Millisecond),
		"localities", o.Localities,
		"refreshed", len(o.Refreshed),
		"failed", o.FailedLocalities(),
		"carried_forward", o.CarriedForward,
		"uncovered", o.Uncovered,
		"orphans", o.Orphans,
		"rows", o.Rows,
	}
	switch o.Status {
	case domain.RunSuccess:
		s.logger.Info("refresh finished", attrs...)
	case domain.RunPartialSuccess:
		s.logger.Warn("refresh finished", attrs...)
	default:
		s.logger.Error("refresh finished", append(attrs, "error", o.Error)...)
	}

	// Sinks still get the outcome of a run interrupted by shutdown.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.RecordOutcome(sinkCtx, o); err != nil {
			s.logger.Error("record run outcome failed", "run_id", o.RunID, "error", err)
		}
	}
}

// State reports whether a run is in progress.
func (s *Scheduler) State() State {
	if s.running.Load() {
		return StateRunning
	}
	return StateIdle
}

// LastOutcome returns the most recent completed run, if any.
func (s *Scheduler) LastOutcome() (domain.RunOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.recent) == 0 {
		return domain.RunOutcome{}, false
	}
	return s.recent[len(s.recent)-1], true
}

// Recent returns up to limit completed runs, newest first.
func (s *Scheduler) Recent(_ context.Context, limit int) ([]domain.RunOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]domain.RunOutcome, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

// Snapshot returns the current state, next firing time and last outcome.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{State: s.State()}
	s.mu.RLock()
	snap.CurrentRunID = s.current
	snap.NextRun = s.nextRun
	s.mu.RUnlock()
	if last, ok := s.LastOutcome(); ok {
		snap.LastOutcome = &last
	}
	return snap
}

// CheckReadiness returns nil once at least one run has completed.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if _, ok := s.LastOutcome(); !ok {
		return errors.New("no refresh run has completed yet")
	}
	return nil
}
