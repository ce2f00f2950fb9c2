package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// records builds a 7-day dataset for each named locality, with rainfall
// offset by base so datasets can be told apart.
func records(base float64, names ...string) []domain.MergedRecord {
	var out []domain.MergedRecord
	for i, name := range names {
		loc := domain.Locality{Name: name, WardCode: "W" + name[:1], Latitude: 19 + float64(i)/100, Longitude: 72.8}
		for d := 0; d < domain.ForecastHorizonDays; d++ {
			day := domain.NormalizeForecastDay(domain.ForecastDay{
				Date:       fmt.Sprintf("2025-07-%02d", d+1),
				RainfallMM: base + float64(d),
				TempMaxC:   31,
				TempMinC:   25,
			})
			out = append(out, domain.Merge(loc, day))
		}
	}
	return out
}

type fixture struct {
	dir    string
	path   string
	backup string
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	return fixture{
		dir:    dir,
		path:   filepath.Join(dir, "data", "forecast.csv"),
		backup: filepath.Join(dir, "backups"),
		clock:  clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 0, 0, 5, 0, time.UTC)),
	}
}

func (f fixture) publisher(opts ...PublisherOption) *Publisher {
	return NewPublisher(f.path, f.backup, 3, f.clock, discardLogger(), opts...)
}

func TestCodec_RoundTrip(t *testing.T) {
	want := records(0, "Andheri", "Colaba")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))

	header, _, _ := strings.Cut(buf.String(), "\n")
	assert.Equal(t, strings.Join(domain.DatasetColumns, ","), header)

	got, err := Decode(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_LegacyAreaColumn(t *testing.T) {
	in := "Date,Area,Latitude,Longitude,Rainfall_mm\n2025-07-01,Kurla,19.07,72.88,12.5\n"

	got, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Kurla", got[0].Name)
	assert.Equal(t, "Kurla", got[0].ForecastDay.Locality)
	assert.InDelta(t, 12.5, got[0].RainfallMM, 1e-9)
}

func TestDecode_MissingDateColumn(t *testing.T) {
	_, err := Decode(strings.NewReader("Areas,Rainfall_mm\nKurla,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Date")
}

func TestDecode_Empty(t *testing.T) {
	got, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPublisher_Current_Missing(t *testing.T) {
	f := newFixture(t)
	got, err := f.publisher().Current(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPublisher_Publish_New(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()
	want := records(0, "Andheri", "Colaba")

	receipt, err := p.Publish(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, f.path, receipt.Path)
	assert.Empty(t, receipt.BackupPath, "nothing to back up on first publish")
	assert.Equal(t, 14, receipt.Rows)
	assert.Equal(t, f.clock.Now(), receipt.PublishedAt)

	got, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(f.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestPublisher_Publish_BackupMatchesPrevious(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()

	_, err := p.Publish(context.Background(), records(0, "Andheri"))
	require.NoError(t, err)
	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	receipt, err := p.Publish(context.Background(), records(100, "Andheri"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.backup, "forecast.csv.backup.20250701_000005"), receipt.BackupPath)
	backup, err := os.ReadFile(receipt.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, before, backup, "backup must be byte-for-byte the pre-publish file")

	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPublisher_Publish_BackupNameCollision(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()

	for i := 0; i < 3; i++ {
		_, err := p.Publish(context.Background(), records(float64(i), "Andheri"))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(f.backup)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"forecast.csv.backup.20250701_000005",
		"forecast.csv.backup.20250701_000005-1",
	}, names)
}

func TestPublisher_Publish_RenameFailureLeavesTargetUntouched(t *testing.T) {
	f := newFixture(t)
	_, err := f.publisher().Publish(context.Background(), records(0, "Andheri"))
	require.NoError(t, err)
	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	var calls atomic.Int32
	p := NewPublisher(f.path, f.backup, 2, clockwork.NewRealClock(), discardLogger(),
		WithRetryWait(time.Millisecond),
		WithRenameFunc(func(string, string) error {
			calls.Add(1)
			return errors.New("sharing violation")
		}),
	)

	_, err = p.Publish(context.Background(), records(100, "Andheri"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPublishFailed)
	assert.Equal(t, domain.KindPublishFailed, domain.KindOf(err))
	assert.Equal(t, int32(3), calls.Load(), "1 attempt + 2 retries")

	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(filepath.Dir(f.path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be cleaned up")
	assert.Equal(t, "forecast.csv", entries[0].Name())
}

func TestPublisher_Publish_TransientRenameFailure(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	p := NewPublisher(f.path, f.backup, 3, clockwork.NewRealClock(), discardLogger(),
		WithRetryWait(time.Millisecond),
		WithRenameFunc(func(oldpath, newpath string) error {
			if calls.Add(1) == 1 {
				return errors.New("busy")
			}
			return os.Rename(oldpath, newpath)
		}),
	)

	_, err := p.Publish(context.Background(), records(0, "Andheri"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPublisher_Publish_BackupFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.publisher().Publish(context.Background(), records(0, "Andheri"))
	require.NoError(t, err)
	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	// A regular file where the backup directory should be.
	blocked := filepath.Join(f.dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	p := NewPublisher(f.path, blocked, 3, f.clock, discardLogger())

	_, err = p.Publish(context.Background(), records(100, "Andheri"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPublishFailed)

	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPublisher_Publish_TempWriteFailureKeepsBackup(t *testing.T) {
	f := newFixture(t)
	_, err := f.publisher().Publish(context.Background(), records(0, "Andheri"))
	require.NoError(t, err)
	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	p := f.publisher(WithCreateTempFunc(func(string, string) (*os.File, error) {
		return nil, errors.New("no space left on device")
	}))

	receipt, err := p.Publish(context.Background(), records(100, "Andheri"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPublishFailed)
	assert.Contains(t, err.Error(), "write temp")

	require.NotEmpty(t, receipt.BackupPath, "the backup taken before the failure is reported")
	backup, err := os.ReadFile(receipt.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, before, backup)
	assert.Empty(t, receipt.Path)

	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPublisher_Publish_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.publisher().Publish(ctx, records(0, "Andheri"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPublishFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, f.path)
}

func TestPublisher_ReadersNeverSeePartialFile(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()

	small := records(0, "Andheri")
	large := records(50, "Andheri", "Bandra", "Colaba", "Dadar", "Kurla")
	_, err := p.Publish(context.Background(), small)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg   sync.WaitGroup
		bad  atomic.Int32
		seen atomic.Int32
	)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				got, err := p.Current(context.Background())
				if err != nil || (len(got) != len(small) && len(got) != len(large)) {
					bad.Add(1)
					continue
				}
				seen.Add(1)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		next := large
		if i%2 == 1 {
			next = small
		}
		_, err := p.Publish(context.Background(), next)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	cancel()
	wg.Wait()

	assert.Zero(t, bad.Load(), "a reader observed a partial or missing dataset")
	assert.Positive(t, seen.Load())
}
