// Package ingest refreshes the registry snapshot from the open data portal.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bankrupt_bot/internal/fetcher"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/metrics"
	"bankrupt_bot/internal/model"
	"bankrupt_bot/internal/storage"
)

// ErrBusy is returned when a refresh is already running.
var ErrBusy = errors.New("registry refresh already in progress")

// Source is the registry publisher.
type Source interface {
	ResolveResource(ctx context.Context) (fetcher.Resource, error)
	SourceUpdated(ctx context.Context) (time.Time, error)
	Download(ctx context.Context, url string) (*fetcher.Parsed, error)
}

// Store is the part of storage that holds the snapshot.
type Store interface {
	ReplaceRegistry(ctx context.Context, records []model.RegistryRecord, state storage.IngestState) error
	IngestState(ctx context.Context) (*storage.IngestState, error)
}

// Report summarizes a refresh.
type Report struct {
	Records    int
	Skipped    int
	Source     string
	Unchanged  bool
	Diagnostic string
}

// Ingester downloads the registry and swaps the stored snapshot.
type Ingester struct {
	src     Source
	store   Store
	metrics *metrics.Metrics
	log     *slog.Logger

	mu sync.Mutex
}

// New creates an Ingester.
func New(src Source, store Store, m *metrics.Metrics, log *slog.Logger) *Ingester {
	return &Ingester{src: src, store: store, metrics: m, log: log}
}

// Refresh downloads the registry and replaces the snapshot. Unless force is
// set, a dataset whose publication time has not moved since the last
// ingestion is not downloaded again. Only one refresh runs at a time; a
// concurrent call returns ErrBusy.
func (in *Ingester) Refresh(ctx context.Context, force bool) (Report, error) {
	if !in.mu.TryLock() {
		return Report{}, ErrBusy
	}
	defer in.mu.Unlock()
	return in.refresh(ctx, force)
}

// Ensure makes sure a snapshot exists, downloading one if the registry was
// never ingested. It waits for a refresh already in flight instead of
// failing with ErrBusy.
func (in *Ingester) Ensure(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	_, err := in.store.IngestState(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotIngested) {
		return fmt.Errorf("%w: %w", matcher.ErrStorage, err)
	}
	_, err = in.refresh(ctx, true)
	return err
}

func (in *Ingester) refresh(ctx context.Context, force bool) (Report, error) {
	start := time.Now()

	res, err := in.src.ResolveResource(ctx)
	if err != nil {
		return in.fail(fmt.Errorf("%w: resolve dataset: %w", matcher.ErrRegistryUnavailable, err))
	}

	updated := res.LastModified
	if updated.IsZero() && !res.Fallback {
		if updated, err = in.src.SourceUpdated(ctx); err != nil {
			in.log.Debug("dataset freshness probe failed", "error", err)
		}
	}
	// Ingest state keeps whole seconds.
	updated = updated.Truncate(time.Second)

	if !force && !updated.IsZero() {
		prev, err := in.store.IngestState(ctx)
		if err == nil && prev.Source == res.URL && !prev.SourceUpdated.Before(updated) {
			in.log.Info("registry unchanged, skipping download",
				"source", res.URL, "source_updated", updated, "records", prev.Records)
			in.metrics.RecordIngest(metrics.ResultSkipped, prev.Records, time.Since(start))
			return Report{
				Records:    prev.Records,
				Source:     res.URL,
				Unchanged:  true,
				Diagnostic: "dataset unchanged since " + prev.IngestedAt.Format(time.RFC3339),
			}, nil
		}
	}

	parsed, err := in.src.Download(ctx, res.URL)
	if err != nil {
		return in.fail(fmt.Errorf("%w: %w", matcher.ErrRegistryUnavailable, err))
	}
	if len(parsed.Records) == 0 {
		return in.fail(fmt.Errorf("%w: registry file has no records", matcher.ErrRegistryUnavailable))
	}

	state := storage.IngestState{SourceUpdated: updated, Source: res.URL}
	if err := in.store.ReplaceRegistry(ctx, parsed.Records, state); err != nil {
		return in.fail(fmt.Errorf("%w: replace registry: %w", matcher.ErrStorage, err))
	}

	took := time.Since(start)
	in.metrics.RecordIngest(metrics.ResultOK, len(parsed.Records), took)
	in.log.Info("registry ingested",
		"source", res.URL, "records", len(parsed.Records), "skipped", parsed.Skipped,
		"fallback", res.Fallback, "took", took.Round(time.Millisecond))

	rep := Report{Records: len(parsed.Records), Skipped: parsed.Skipped, Source: res.URL}
	switch {
	case res.Fallback && parsed.Skipped > 0:
		rep.Diagnostic = fmt.Sprintf("portal API unavailable, used fallback file; %d malformed rows skipped", parsed.Skipped)
	case res.Fallback:
		rep.Diagnostic = "portal API unavailable, used fallback file"
	case parsed.Skipped > 0:
		rep.Diagnostic = fmt.Sprintf("%d malformed rows skipped", parsed.Skipped)
	}
	return rep, nil
}

func (in *Ingester) fail(err error) (Report, error) {
	in.metrics.RecordIngest(metrics.ResultFailed, 0, 0)
	in.log.Error("registry refresh failed", "error", err)
	return Report{}, err
}
