package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"bankrupt_bot/internal/model"
)

const (
	stateIngestedAt    = "ingested_at"
	stateSourceUpdated = "source_updated"
	stateRecords       = "records"
	stateSource        = "source"
)

// ReplaceRegistry swaps the whole registry snapshot in a single transaction,
// so concurrent readers observe either the previous or the new snapshot.
func (s *SQLite) ReplaceRegistry(ctx context.Context, records []model.RegistryRecord, state IngestState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM registry`); err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO registry (identifier, display_name, event_date) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Identifier, r.DisplayName, r.EventDate); err != nil {
			return fmt.Errorf("insert registry record %q: %w", r.Identifier, err)
		}
	}

	if state.IngestedAt.IsZero() {
		state.IngestedAt = s.now()
	}
	values := map[string]string{
		stateIngestedAt: state.IngestedAt.UTC().Format(timeLayout),
		stateRecords:    strconv.Itoa(len(records)),
		stateSource:     state.Source,
	}
	if !state.SourceUpdated.IsZero() {
		values[stateSourceUpdated] = state.SourceUpdated.UTC().Format(timeLayout)
	} else if _, err := tx.ExecContext(ctx,
		`DELETE FROM ingest_state WHERE key = ?`, stateSourceUpdated); err != nil {
		return fmt.Errorf("reset ingest state: %w", err)
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingest_state (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("save ingest state %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// LookupRegistry returns all registry records whose identifier is in identifiers.
// It returns ErrNotIngested if no snapshot was ever stored. All chunks are
// read in one transaction, so the result never mixes two snapshots.
func (s *SQLite) LookupRegistry(ctx context.Context, identifiers []string) ([]model.RegistryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := readIngestState(ctx, tx); err != nil {
		return nil, err
	}

	var out []model.RegistryRecord
	for _, part := range chunk(identifiers, maxParams) {
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT identifier, display_name, event_date FROM registry
			 WHERE identifier IN (`+placeholders(len(part))+`) ORDER BY rowid`, args...)
		if err != nil {
			return nil, fmt.Errorf("query registry: %w", err)
		}
		recs, err := scanRecords(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// FindRegistry returns every filing for a single identifier.
func (s *SQLite) FindRegistry(ctx context.Context, identifier string) ([]model.RegistryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := readIngestState(ctx, tx); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT identifier, display_name, event_date FROM registry
		 WHERE identifier = ? ORDER BY rowid`, identifier)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	return scanRecords(rows)
}

// IngestState returns the metadata of the last ingestion or ErrNotIngested.
func (s *SQLite) IngestState(ctx context.Context) (*IngestState, error) {
	return readIngestState(ctx, s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readIngestState(ctx context.Context, q querier) (*IngestState, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM ingest_state`)
	if err != nil {
		return nil, fmt.Errorf("query ingest state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan ingest state: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ingest state: %w", err)
	}

	raw, ok := values[stateIngestedAt]
	if !ok {
		return nil, ErrNotIngested
	}
	st := &IngestState{
		IngestedAt: parseTimestamp(sql.NullString{String: raw, Valid: true}),
		Source:     values[stateSource],
	}
	if v, ok := values[stateSourceUpdated]; ok {
		st.SourceUpdated, _ = time.Parse(timeLayout, v)
	}
	st.Records, _ = strconv.Atoi(values[stateRecords])
	return st, nil
}

func scanRecords(rows *sql.Rows) ([]model.RegistryRecord, error) {
	defer func() { _ = rows.Close() }()
	var out []model.RegistryRecord
	for rows.Next() {
		var r model.RegistryRecord
		if err := rows.Scan(&r.Identifier, &r.DisplayName, &r.EventDate); err != nil {
			return nil, fmt.Errorf("scan registry record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return out, nil
}

