package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// BackupTimeLayout is the timestamp suffix of backup file names.
const BackupTimeLayout = "20060102_150405"

// Publisher owns the shared dataset file. Readers of the file always see
// either the previous or the new dataset in full: new content is written to
// a temp file in the same directory and renamed over the target.
type Publisher struct {
	path      string
	backupDir string
	retries   int
	retryWait time.Duration
	clock     clockwork.Clock
	rename    func(oldpath, newpath string) error
	create    func(dir, pattern string) (*os.File, error)
	logger    *slog.Logger
	mu        sync.Mutex
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithRenameFunc replaces os.Rename, for tests.
func WithRenameFunc(fn func(oldpath, newpath string) error) PublisherOption {
	return func(p *Publisher) { p.rename = fn }
}

// WithCreateTempFunc replaces os.CreateTemp, for tests.
func WithCreateTempFunc(fn func(dir, pattern string) (*os.File, error)) PublisherOption {
	return func(p *Publisher) { p.create = fn }
}

// WithRetryWait sets the initial wait between rename attempts.
func WithRetryWait(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.retryWait = d }
}

// NewPublisher creates a Publisher for the dataset at path.
func NewPublisher(path, backupDir string, renameRetries int, clock clockwork.Clock, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		path:      path,
		backupDir: backupDir,
		retries:   renameRetries,
		retryWait: 100 * time.Millisecond,
		clock:     clock,
		rename:    os.Rename,
		create:    os.CreateTemp,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Path returns the shared dataset path.
func (p *Publisher) Path() string { return p.path }

// Current decodes the published dataset. A missing file is an empty dataset.
func (p *Publisher) Current(ctx context.Context) ([]domain.MergedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", p.path, err)
	}
	return records, nil
}

// Publish backs up the current file, then atomically replaces it with
// records. On error the target is untouched and the error wraps
// domain.ErrPublishFailed.
func (p *Publisher) Publish(ctx context.Context, records []domain.MergedRecord) (domain.PublishReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.PublishReceipt{}, fmt.Errorf("%w: %w", domain.ErrPublishFailed, err)
	}

	backup, err := p.backup()
	if err != nil {
		return domain.PublishReceipt{}, fmt.Errorf("%w: backup: %w", domain.ErrPublishFailed, err)
	}

	tmp, err := p.writeTemp(records)
	if err != nil {
		return domain.PublishReceipt{BackupPath: backup}, fmt.Errorf("%w: write temp: %w", domain.ErrPublishFailed, err)
	}

	if err := p.renameWithRetry(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return domain.PublishReceipt{BackupPath: backup}, fmt.Errorf("%w: rename: %w", domain.ErrPublishFailed, err)
	}
	syncDir(filepath.Dir(p.path))

	receipt := domain.PublishReceipt{
		Path:        p.path,
		BackupPath:  backup,
		Rows:        len(records),
		PublishedAt: p.clock.Now(),
	}
	p.logger.Info("dataset published", "path", p.path, "rows", receipt.Rows, "backup", backup)
	return receipt, nil
}

// backup copies the current file into backupDir. It returns "" when there is
// nothing to back up.
func (p *Publisher) backup() (string, error) {
	src, err := os.Open(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(p.backupDir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Join(p.backupDir,
		filepath.Base(p.path)+".backup."+p.clock.Now().Format(BackupTimeLayout))
	name := base
	var dst *os.File
	for n := 1; ; n++ {
		dst, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(name)
		return "", err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(name)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func (p *Publisher) writeTemp(records []domain.MergedRecord) (string, error) {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := p.create(dir, "."+filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := Encode(f, records); err != nil {
		return fail(err)
	}
	if err := f.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func (p *Publisher) renameWithRetry(ctx context.Context, tmp string) error {
	wait := p.retryWait
	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("dataset rename failed, retrying", "attempt", attempt, "wait", wait, "error", err)
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-p.clock.After(wait):
			}
			wait *= 2
		}
		if err = p.rename(tmp, p.path); err == nil {
			return nil
		}
	}
	return err
}

// syncDir flushes a directory entry after rename. Errors are ignored; not
// every platform supports fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
