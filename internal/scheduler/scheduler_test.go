package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
	"github.com/couchcryptid/flood-forecast-refresh/internal/pipeline"
)

// --- mocks ---

type mockRefresher struct {
	calls   atomic.Int32
	block   chan struct{} // when set, Refresh waits for it to close
	started chan struct{} // receives once per call, if set
	report  pipeline.Report
	err     error
}

func (m *mockRefresher) Refresh(ctx context.Context) (pipeline.Report, error) {
	m.calls.Add(1)
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return pipeline.Report{}, ctx.Err()
		}
	}
	return m.report, m.err
}

type panickingRefresher struct {
	calls atomic.Int32
}

func (p *panickingRefresher) Refresh(context.Context) (pipeline.Report, error) {
	if p.calls.Add(1) == 1 {
		panic("nil locality")
	}
	return okReport("A"), nil
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []domain.RunOutcome
	err      error
}

func (s *recordingSink) RecordOutcome(_ context.Context, o domain.RunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return s.err
}

func (s *recordingSink) all() []domain.RunOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RunOutcome(nil), s.outcomes...)
}

// --- helpers ---

var ist = time.FixedZone("IST", 5*3600+1800)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func daily(t *testing.T) cron.Schedule {
	t.Helper()
	sched, err := cron.ParseStandard("0 0 * * *")
	require.NoError(t, err)
	return sched
}

func newScheduler(t *testing.T, r Refresher, clock clockwork.Clock, runOnStart bool, sinks ...OutcomeSink) (*Scheduler, *observability.RefreshMetrics) {
	t.Helper()
	metrics := observability.NewRefreshMetricsForTesting()
	s := New(r, Options{Schedule: daily(t), Location: ist, RunOnStart: runOnStart}, clock, discardLogger(), metrics, sinks...)
	return s, metrics
}

func okReport(names ...string) pipeline.Report {
	return pipeline.Report{
		Localities: len(names),
		Refreshed:  names,
		Receipt:    domain.PublishReceipt{Rows: 7 * len(names), BackupPath: "backups/f.csv.backup.20250701_000000"},
	}
}

// --- tests ---

func TestScheduler_FiresAtDailyTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 23, 0, 0, 0, ist))
	ref := &mockRefresher{report: okReport("A")}
	sink := &recordingSink{}
	s, metrics := newScheduler(t, ref, clock, false, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, time.Date(2025, 7, 2, 0, 0, 0, 0, ist), s.Snapshot().NextRun.In(ist))
	assert.Equal(t, int32(0), ref.calls.Load(), "no run before the scheduled time")

	clock.Advance(59 * time.Minute)
	assert.Equal(t, int32(0), ref.calls.Load())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)

	out := sink.all()[0]
	assert.Equal(t, domain.TriggerSchedule, out.Trigger)
	assert.Equal(t, domain.RunSuccess, out.Status)
	assert.Equal(t, 7, out.Rows)

	// The loop re-arms for the following midnight.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, time.Date(2025, 7, 3, 0, 0, 0, 0, ist), s.Snapshot().NextRun.In(ist))
	clock.Advance(24 * time.Hour)
	require.Eventually(t, func() bool { return ref.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 2, observability.CounterValue(metrics.RunsTotal.WithLabelValues("schedule", "success")), 0)
}

func TestScheduler_RunOnStart(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 10, 0, 0, 0, ist))
	ref := &mockRefresher{report: okReport("A")}
	s, _ := newScheduler(t, ref, clock, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	last, ok := s.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, domain.TriggerStartup, last.Trigger)
	assert.Equal(t, int32(1), ref.calls.Load())
	assert.NoError(t, s.CheckReadiness(ctx))
}

func TestScheduler_ConcurrentTriggerRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ref := &mockRefresher{
		report:  okReport("A"),
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	sink := &recordingSink{}
	s, metrics := newScheduler(t, ref, clock, false, sink)

	id, err := s.Start(domain.TriggerOnDemand)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	<-ref.started

	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, id, s.Snapshot().CurrentRunID)

	_, err = s.Trigger(context.Background(), domain.TriggerSchedule)
	assert.ErrorIs(t, err, domain.ErrConcurrentRunRejected)
	_, err = s.Start(domain.TriggerOnDemand)
	assert.ErrorIs(t, err, domain.ErrConcurrentRunRejected)

	close(ref.block)
	s.Wait()

	assert.Equal(t, int32(1), ref.calls.Load(), "rejected triggers must not run or queue")
	assert.Equal(t, StateIdle, s.State())
	require.Len(t, sink.all(), 1)
	assert.Equal(t, id, sink.all()[0].RunID)
	assert.InDelta(t, 2, observability.CounterValue(metrics.RunsRejected), 0)
	assert.InDelta(t, 0, observability.GaugeValue(metrics.RunRunning), 0)
}

func TestScheduler_OutcomeStatus(t *testing.T) {
	tests := []struct {
		name   string
		report pipeline.Report
		err    error
		want   domain.RunStatus
	}{
		{"success", okReport("A", "B"), nil, domain.RunSuccess},
		{
			"partial on failed locality",
			pipeline.Report{
				Refreshed:      []string{"A"},
				CarriedForward: []string{"B"},
				Failed:         []domain.LocalityFailure{{Locality: "B", Kind: domain.KindSourceUnavailable}},
			},
			nil,
			domain.RunPartialSuccess,
		},
		{
			"partial on uncovered locality",
			pipeline.Report{Refreshed: []string{"A"}, Uncovered: []string{"C"}},
			nil,
			domain.RunPartialSuccess,
		},
		{"failed on no fresh data", pipeline.Report{}, domain.ErrNoFreshData, domain.RunFailed},
		{"failed on publish", okReport("A"), domain.ErrPublishFailed, domain.RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := &mockRefresher{report: tt.report, err: tt.err}
			s, _ := newScheduler(t, ref, clockwork.NewFakeClock(), false)

			out, err := s.Trigger(context.Background(), domain.TriggerOnDemand)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), out.Error)
			} else {
				assert.Empty(t, out.Error)
			}
		})
	}
}

func TestScheduler_PanicBecomesFailedOutcome(t *testing.T) {
	sink := &recordingSink{}
	ref := &panickingRefresher{}
	s, metrics := newScheduler(t, ref, clockwork.NewFakeClock(), false, sink)

	out, err := s.Trigger(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, out.Status)
	assert.Contains(t, out.Error, "refresh panicked: nil locality")
	require.Len(t, sink.all(), 1)
	assert.Equal(t, out.RunID, sink.all()[0].RunID)
	assert.InDelta(t, 1, observability.CounterValue(metrics.RunsTotal.WithLabelValues("on_demand", "failed")), 0)

	out, err = s.Trigger(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err, "the run slot is released after a panic")
	assert.Equal(t, domain.RunSuccess, out.Status)
}

func TestScheduler_PanicInBackgroundRun(t *testing.T) {
	s, _ := newScheduler(t, &panickingRefresher{}, clockwork.NewFakeClock(), false)

	id, err := s.Start(domain.TriggerOnDemand)
	require.NoError(t, err)
	s.Wait()

	last, ok := s.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, id, last.RunID)
	assert.Equal(t, domain.RunFailed, last.Status)
	assert.Equal(t, StateIdle, s.Snapshot().State)

	_, err = s.Start(domain.TriggerOnDemand)
	require.NoError(t, err)
	s.Wait()
}

func TestScheduler_SinkErrorNotFatal(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	ref := &mockRefresher{report: okReport("A")}
	s, _ := newScheduler(t, ref, clockwork.NewFakeClock(), false, failing, ok)

	out, err := s.Trigger(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, out.Status)
	assert.Len(t, ok.all(), 1)
}

func TestScheduler_Recent(t *testing.T) {
	ref := &mockRefresher{report: okReport("A")}
	s, _ := newScheduler(t, ref, clockwork.NewFakeClock(), false)

	var ids []string
	for i := 0; i < 3; i++ {
		out, err := s.Trigger(context.Background(), domain.TriggerOnDemand)
		require.NoError(t, err)
		ids = append(ids, out.RunID)
	}

	recent, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].RunID)
	assert.Equal(t, ids[1], recent[1].RunID)

	all, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestScheduler_NotReadyBeforeFirstRun(t *testing.T) {
	s, _ := newScheduler(t, &mockRefresher{}, clockwork.NewFakeClock(), false)
	assert.Error(t, s.CheckReadiness(context.Background()))
	_, ok := s.LastOutcome()
	assert.False(t, ok)
	assert.Nil(t, s.Snapshot().LastOutcome)
}
