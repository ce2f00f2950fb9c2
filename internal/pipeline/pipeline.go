// Package pipeline runs one dataset refresh: load localities, fetch their
// forecasts concurrently, merge with the previous dataset and publish.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
)

// LocalitySource loads the static locality reference set.
type LocalitySource interface {
	Load(ctx context.Context) ([]domain.Locality, error)
}

// DatasetStore reads and replaces the shared dataset.
type DatasetStore interface {
	Current(ctx context.Context) ([]domain.MergedRecord, error)
	Publish(ctx context.Context, records []domain.MergedRecord) (domain.PublishReceipt, error)
}

// Report summarises one refresh. It is filled as far as the refresh got, so
// it is meaningful alongside an error too.
type Report struct {
	Localities     int
	Refreshed      []string
	Failed         []domain.LocalityFailure
	CarriedForward []string
	Uncovered      []string
	Orphans        int
	Receipt        domain.PublishReceipt
}

// Refresher fetches, merges and publishes the forecast dataset.
type Refresher struct {
	localities  LocalitySource
	source      domain.ForecastSource
	store       DatasetStore
	concurrency int
	clock       clockwork.Clock
	metrics     *observability.RefreshMetrics
	logger      *slog.Logger
}

// New creates a Refresher. concurrency bounds in-flight forecast requests.
func New(localities LocalitySource, source domain.ForecastSource, store DatasetStore, concurrency int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.RefreshMetrics) *Refresher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Refresher{
		localities:  localities,
		source:      source,
		store:       store,
		concurrency: concurrency,
		clock:       clock,
		metrics:     metrics,
		logger:      logger,
	}
}

// Refresh performs one full update. Per-locality fetch failures do not fail
// the refresh; they are reported and the locality is carried forward. An
// error means nothing was published.
func (r *Refresher) Refresh(ctx context.Context) (Report, error) {
	var report Report

	locs, err := r.localities.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load localities: %w", err)
	}
	report.Localities = len(locs)
	if len(locs) == 0 {
		return report, fmt.Errorf("%w: locality store is empty", domain.ErrNoFreshData)
	}

	results := r.fetchAll(ctx, locs)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("refresh interrupted: %w", err)
	}

	fresh := 0
	for _, loc := range locs {
		res := results[loc.Name]
		if res.Err != nil {
			report.Failed = append(report.Failed, domain.LocalityFailure{
				Locality: loc.Name,
				Kind:     domain.KindOf(res.Err),
				Message:  res.Err.Error(),
			})
			continue
		}
		fresh++
	}
	if fresh == 0 {
		return report, fmt.Errorf("%w: all %d localities failed", domain.ErrNoFreshData, len(locs))
	}

	previous, err := r.store.Current(ctx)
	if err != nil {
		// The backup taken by Publish preserves the unreadable file.
		r.logger.Error("previous dataset unreadable, carry-forward disabled", "error", err)
		previous = nil
	}

	merged := Merge(locs, results, previous)
	report.Refreshed = merged.Refreshed
	report.CarriedForward = merged.CarriedForward
	report.Uncovered = merged.Uncovered
	report.Orphans = len(merged.Orphans)
	for _, key := range merged.Orphans {
		r.logger.Warn("dropping orphan forecast record", "record", key, "error", domain.ErrOrphanRecord)
	}
	r.metrics.OrphanRecords.Add(float64(len(merged.Orphans)))
	r.metrics.CarriedForward.Add(float64(len(merged.CarriedForward)))

	if len(merged.Refreshed) == 0 {
		return report, fmt.Errorf("%w: no usable forecast days after merge", domain.ErrNoFreshData)
	}

	receipt, err := r.store.Publish(ctx, merged.Records)
	report.Receipt = receipt
	if err != nil {
		r.metrics.PublishFailures.Inc()
		return report, err
	}
	r.metrics.DatasetRows.Set(float64(receipt.Rows))
	r.metrics.LastSuccessTS.Set(float64(receipt.PublishedAt.Unix()))
	return report, nil
}

// fetchAll fetches every locality with bounded concurrency. Goroutines never
// return errors, so one failing locality cannot cancel the others; Wait is
// the barrier before merging.
func (r *Refresher) fetchAll(ctx context.Context, locs []domain.Locality) map[string]FetchResult {
	var (
		mu      sync.Mutex
		results = make(map[string]FetchResult, len(locs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, loc := range locs {
		g.Go(func() error {
			start := r.clock.Now()
			days, err := r.source.Fetch(gctx, loc)
			outcome := "success"
			if err != nil {
				outcome = string(domain.KindOf(err))
				r.logger.Warn("forecast fetch failed",
					"locality", loc.Name,
					"kind", outcome,
					"error", err,
				)
			} else {
				r.logger.Debug("forecast fetched",
					"locality", loc.Name,
					"days", len(days),
					"duration", r.clock.Since(start).Round(time.Millisecond),
				)
			}
			r.metrics.Fetches.WithLabelValues(outcome).Inc()

			mu.Lock()
			results[loc.Name] = FetchResult{Locality: loc.Name, Days: days, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
