package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func outcome(id string, started time.Time, status domain.RunStatus) domain.RunOutcome {
	return domain.RunOutcome{
		RunID:      id,
		Trigger:    domain.TriggerSchedule,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Status:     status,
		Localities: 3,
		Refreshed:  []string{"A", "B"},
		Failed:     []domain.LocalityFailure{{Locality: "C", Kind: domain.KindRateLimited, Message: "status 429"}},
		Uncovered:  []string{"C"},
		Rows:       14,
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	want := outcome("run-1", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), domain.RunPartialSuccess)

	require.NoError(t, s.RecordOutcome(ctx, want))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Failed, got.Failed)
	assert.Equal(t, want.Uncovered, got.Uncovered)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, 90*time.Second, got.Duration())
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.RecordOutcome(ctx, outcome(id, base.Add(time.Duration(i)*24*time.Hour), domain.RunSuccess)))
	}

	recent, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "d", recent[0].RunID)
	assert.Equal(t, "c", recent[1].RunID)
	assert.Equal(t, "b", recent[2].RunID)
}

func TestStore_ReplaceSameRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	o := outcome("run-1", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), domain.RunFailed)
	require.NoError(t, s.RecordOutcome(ctx, o))

	o.Status = domain.RunSuccess
	require.NoError(t, s.RecordOutcome(ctx, o))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.RunStatus]int{domain.RunSuccess: 1}, counts)
}

func TestStore_FileBackedPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "runs.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordOutcome(ctx, outcome("run-1", time.Now().UTC(), domain.RunSuccess)))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	recent, err := reopened.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "run-1", recent[0].RunID)
}
