// Package matcher computes, per subscriber, the registry filings that have not
// been delivered yet and records them in the ledger.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bankrupt_bot/internal/filter"
	"bankrupt_bot/internal/model"
	"bankrupt_bot/internal/storage"
)

// Errors returned by the matcher. Callers match them with errors.Is.
var (
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStorage             = errors.New("storage failure")
)

// Reason explains an empty or non-empty result.
type Reason int

// Result reasons.
const (
	ReasonNewMatches Reason = iota
	ReasonNoWatchlist
	ReasonNoNewMatches
)

func (r Reason) String() string {
	switch r {
	case ReasonNoWatchlist:
		return "no watchlist"
	case ReasonNoNewMatches:
		return "no new matches"
	default:
		return "new matches"
	}
}

// Result is the outcome of ComputeNewMatches.
type Result struct {
	Items  []model.MatchResult
	Reason Reason
}

// Store is the subset of storage the matcher needs.
type Store interface {
	storage.Registry
	ListWatch(ctx context.Context, chatID int64) ([]string, error)
	SeenKeys(ctx context.Context, chatID int64, identifiers []string) (map[model.LedgerKey]struct{}, error)
	MarkSeenBatch(ctx context.Context, chatID int64, keys []model.LedgerKey) error
}

// Matcher runs the delta matching algorithm against a store.
type Matcher struct {
	store Store
	log   *slog.Logger

	// chatLocks holds one *sync.Mutex per chat; committing runs for the
	// same chat hold it from the ledger read to the ledger write.
	chatLocks sync.Map
}

// New creates a Matcher.
func New(store Store, log *slog.Logger) *Matcher {
	return &Matcher{store: store, log: log}
}

// ComputeNewMatches returns the watched registry filings dated after cutoff
// that were not yet delivered to chatID, ordered by date ascending. With
// commit set, the returned filings are recorded in the ledger before the
// call returns; if that write fails no result is returned. Committing calls
// for the same chat are serialized, so a filing is returned by at most one
// of them.
func (m *Matcher) ComputeNewMatches(ctx context.Context, chatID int64, cutoff time.Time, commit bool) (Result, error) {
	if chatID == 0 {
		return Result{}, fmt.Errorf("%w: empty subscriber id", ErrInvalidArgument)
	}
	if cutoff.IsZero() {
		return Result{}, fmt.Errorf("%w: cutoff date is not set", ErrInvalidArgument)
	}
	if commit {
		unlock := m.lockChat(chatID)
		defer unlock()
	}

	ids, err := m.store.ListWatch(ctx, chatID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list watchlist: %w", ErrStorage, err)
	}
	if len(ids) == 0 {
		return Result{Reason: ReasonNoWatchlist}, nil
	}

	records, err := m.store.LookupRegistry(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}

	seen, err := m.store.SeenKeys(ctx, chatID, ids)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read ledger: %w", ErrStorage, err)
	}

	items, stats := filter.Select(records, filter.Criteria{
		Watch:  filter.WatchSet(ids),
		Cutoff: cutoff,
		Seen:   seen,
	})
	m.log.Debug("matched registry",
		"chat_id", chatID,
		"watched", len(ids),
		"records", len(records),
		"new", len(items),
		"bad_date", stats.BadDate,
		"before_cutoff", stats.BeforeCut,
		"seen", stats.AlreadySeen,
	)

	if len(items) == 0 {
		return Result{Reason: ReasonNoNewMatches}, nil
	}

	if commit {
		keys := make([]model.LedgerKey, len(items))
		for i, it := range items {
			keys[i] = it.Key()
		}
		if err := m.store.MarkSeenBatch(ctx, chatID, keys); err != nil {
			return Result{}, fmt.Errorf("%w: mark seen: %w", ErrStorage, err)
		}
	}

	return Result{Items: items, Reason: ReasonNewMatches}, nil
}

func (m *Matcher) lockChat(chatID int64) func() {
	v, _ := m.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Preview is ComputeNewMatches without touching the ledger.
func (m *Matcher) Preview(ctx context.Context, chatID int64, cutoff time.Time) (Result, error) {
	return m.ComputeNewMatches(ctx, chatID, cutoff, false)
}

// Lookup returns every registry filing for identifier, ignoring watchlists
// and the ledger. An empty result means the company is not a known filer.
func (m *Matcher) Lookup(ctx context.Context, identifier string) ([]model.RegistryRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if !model.ValidIdentifier(identifier) {
		return nil, fmt.Errorf("%w: identifier %q must be digits", ErrInvalidArgument, identifier)
	}
	recs, err := m.store.FindRegistry(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}
	return recs, nil
}
