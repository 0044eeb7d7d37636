// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"bankrupt_bot/internal/model"
)

// ErrNotIngested is returned by registry reads before the first successful ingestion.
var ErrNotIngested = errors.New("registry has not been ingested yet")

// ImportResult summarizes a bulk watchlist import.
type ImportResult struct {
	Seen      int
	Added     int
	Malformed int
}

// IngestState describes the last successful registry ingestion.
type IngestState struct {
	IngestedAt    time.Time
	SourceUpdated time.Time
	Records       int
	Source        string
}

// Registry is the dataset store holding the latest registry snapshot.
type Registry interface {
	ReplaceRegistry(ctx context.Context, records []model.RegistryRecord, state IngestState) error
	LookupRegistry(ctx context.Context, identifiers []string) ([]model.RegistryRecord, error)
	FindRegistry(ctx context.Context, identifier string) ([]model.RegistryRecord, error)
	IngestState(ctx context.Context) (*IngestState, error)
}

// Watchlist stores per-subscriber identifiers of interest and subscriber activity.
type Watchlist interface {
	Subscribe(ctx context.Context, chatID int64) error
	Unsubscribe(ctx context.Context, chatID int64) error
	GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error)
	ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)

	AddWatch(ctx context.Context, chatID int64, identifier string) (bool, error)
	RemoveWatch(ctx context.Context, chatID int64, identifier string) (bool, error)
	ListWatch(ctx context.Context, chatID int64) ([]string, error)
	BulkImport(ctx context.Context, chatID int64, identifiers []string) (ImportResult, error)
}

// Ledger records which filings were already delivered to which subscriber.
type Ledger interface {
	HasSeen(ctx context.Context, chatID int64, identifier string, eventDate time.Time) (bool, error)
	SeenKeys(ctx context.Context, chatID int64, identifiers []string) (map[model.LedgerKey]struct{}, error)
	MarkSeenBatch(ctx context.Context, chatID int64, keys []model.LedgerKey) error
	ClearLedger(ctx context.Context, chatID int64) (int64, error)
	LedgerEmpty(ctx context.Context, chatID int64) (bool, error)
	LedgerEmptyAll(ctx context.Context) (bool, error)
	PruneLedger(ctx context.Context, onOrBefore time.Time) (int64, error)
}

// Storage is the interface for all persistence operations.
type Storage interface {
	Registry
	Watchlist
	Ledger

	Close() error
}
