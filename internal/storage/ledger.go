package storage

import (
	"context"
	"fmt"
	"time"

	"bankrupt_bot/internal/model"
)

// HasSeen reports whether the filing was already delivered to the chat.
func (s *SQLite) HasSeen(ctx context.Context, chatID int64, identifier string, eventDate time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger WHERE chat_id = ? AND identifier = ? AND event_date = ?`,
		chatID, identifier, eventDate.Format(model.LedgerDateLayout),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

// SeenKeys returns the ledger keys recorded for the chat, restricted to identifiers.
func (s *SQLite) SeenKeys(ctx context.Context, chatID int64, identifiers []string) (map[model.LedgerKey]struct{}, error) {
	seen := make(map[model.LedgerKey]struct{})
	for _, part := range chunk(identifiers, maxParams-1) {
		args := make([]any, 0, len(part)+1)
		args = append(args, chatID)
		for _, id := range part {
			args = append(args, id)
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT identifier, event_date FROM ledger
			 WHERE chat_id = ? AND identifier IN (`+placeholders(len(part))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("query ledger: %w", err)
		}
		err = func() error {
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var id, date string
				if err := rows.Scan(&id, &date); err != nil {
					return fmt.Errorf("scan ledger: %w", err)
				}
				d, err := time.Parse(model.LedgerDateLayout, date)
				if err != nil {
					continue
				}
				seen[model.LedgerKey{Identifier: id, EventDate: d}] = struct{}{}
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return seen, nil
}

// MarkSeenBatch records all keys for the chat atomically. Keys that are
// already present are ignored.
func (s *SQLite) MarkSeenBatch(ctx context.Context, chatID int64, keys []model.LedgerKey) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO ledger (chat_id, identifier, event_date, seen_at) VALUES (?, ?, ?, ?)`,
			chatID, k.Identifier, k.EventDate.Format(model.LedgerDateLayout), now,
		); err != nil {
			return fmt.Errorf("mark seen: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ClearLedger forgets every delivered filing of the chat.
func (s *SQLite) ClearLedger(ctx context.Context, chatID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ledger WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("clear ledger: %w", err)
	}
	return res.RowsAffected()
}

// LedgerEmpty reports whether nothing was ever delivered to the chat.
func (s *SQLite) LedgerEmpty(ctx context.Context, chatID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger WHERE chat_id = ?)`, chatID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return exists == 0, nil
}

// LedgerEmptyAll reports whether the ledger holds no entries at all.
func (s *SQLite) LedgerEmptyAll(ctx context.Context) (bool, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ledger)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return exists == 0, nil
}

// PruneLedger deletes entries dated on or before onOrBefore. Such filings fall
// behind the cutoff and can never be matched again.
func (s *SQLite) PruneLedger(ctx context.Context, onOrBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ledger WHERE event_date <= ?`, onOrBefore.Format(model.LedgerDateLayout))
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return res.RowsAffected()
}
