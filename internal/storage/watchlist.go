package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bankrupt_bot/internal/model"
)

// ErrSubscriberNotFound is returned when a chat never interacted with the bot.
var ErrSubscriberNotFound = errors.New("subscriber not found")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// setActive upserts the subscriber row with the given activity flag.
func (s *SQLite) setActive(ctx context.Context, ex execer, chatID int64, active bool) error {
	now := s.timestamp()
	_, err := ex.ExecContext(ctx,
		`INSERT INTO subscribers (chat_id, is_active, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET is_active = excluded.is_active, updated_at = excluded.updated_at`,
		chatID, boolToInt(active), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

// Subscribe marks the chat active, creating it if needed.
func (s *SQLite) Subscribe(ctx context.Context, chatID int64) error {
	return s.setActive(ctx, s.db, chatID, true)
}

// Unsubscribe deactivates the chat. Its watchlist and ledger are kept.
func (s *SQLite) Unsubscribe(ctx context.Context, chatID int64) error {
	return s.setActive(ctx, s.db, chatID, false)
}

// GetSubscriber returns a single subscriber by chat ID.
func (s *SQLite) GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, is_active, created_at, updated_at FROM subscribers WHERE chat_id = ?`, chatID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriberNotFound
	}
	return sub, err
}

// ListActiveSubscribers returns all chats that should receive scheduled reports.
func (s *SQLite) ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, is_active, created_at, updated_at FROM subscribers
		 WHERE is_active = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// AddWatch adds identifier to the chat's watchlist and marks the chat active.
// It reports false if the pair already existed.
func (s *SQLite) AddWatch(ctx context.Context, chatID int64, identifier string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	added, err := s.insertWatch(ctx, tx, chatID, identifier)
	if err != nil {
		return false, err
	}
	if err := s.setActive(ctx, tx, chatID, true); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

func (s *SQLite) insertWatch(ctx context.Context, ex execer, chatID int64, identifier string) (bool, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO watchlist (chat_id, identifier, created_at) VALUES (?, ?, ?)`,
		chatID, identifier, s.timestamp(),
	)
	if err != nil {
		return false, fmt.Errorf("insert watch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveWatch deletes identifier from the chat's watchlist.
// It reports false if the pair did not exist.
func (s *SQLite) RemoveWatch(ctx context.Context, chatID int64, identifier string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist WHERE chat_id = ? AND identifier = ?`, chatID, identifier)
	if err != nil {
		return false, fmt.Errorf("delete watch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListWatch returns the chat's identifiers in insertion order.
func (s *SQLite) ListWatch(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM watchlist WHERE chat_id = ? ORDER BY rowid`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BulkImport adds every well-formed identifier to the chat's watchlist in one
// transaction. Malformed tokens are counted and skipped; re-running the same
// import adds nothing. Like AddWatch, any well-formed token marks the
// subscriber active.
func (s *SQLite) BulkImport(ctx context.Context, chatID int64, identifiers []string) (ImportResult, error) {
	var res ImportResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, raw := range identifiers {
		res.Seen++
		id := strings.TrimSpace(raw)
		if !model.ValidIdentifier(id) {
			res.Malformed++
			continue
		}
		added, err := s.insertWatch(ctx, tx, chatID, id)
		if err != nil {
			return ImportResult{}, err
		}
		if added {
			res.Added++
		}
	}
	if res.Seen > res.Malformed {
		if err := s.setActive(ctx, tx, chatID, true); err != nil {
			return ImportResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func scanSubscriber(row scannable) (*model.Subscriber, error) {
	var sub model.Subscriber
	var isActive int
	var created, updated sql.NullString
	if err := row.Scan(&sub.ChatID, &isActive, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.IsActive = isActive == 1
	sub.CreatedAt = parseTimestamp(created)
	sub.UpdatedAt = parseTimestamp(updated)
	return &sub, nil
}
