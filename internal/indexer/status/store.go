package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store persists indexer status rows.
type Store interface {
	Get(ctx context.Context, indexerID int64) (*IndexerStatus, error)
	List(ctx context.Context) ([]*IndexerStatus, error)
	Upsert(ctx context.Context, s *IndexerStatus) error
	Clear(ctx context.Context, indexerID int64, at time.Time) error
}

// SQLStore keeps statuses in the indexer_status table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store on db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const statusColumns = `indexer_id, initial_failure, most_recent_failure, escalation_level, disabled_till, last_error, last_success`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*IndexerStatus, error) {
	var (
		s                                      IndexerStatus
		initial, recent, disabled, lastSuccess sql.NullTime
	)
	if err := row.Scan(&s.IndexerID, &initial, &recent, &s.EscalationLevel, &disabled, &s.LastError, &lastSuccess); err != nil {
		return nil, err
	}
	s.InitialFailure = fromNullTime(initial)
	s.MostRecentFailure = fromNullTime(recent)
	s.DisabledTill = fromNullTime(disabled)
	s.LastSuccess = fromNullTime(lastSuccess)
	return &s, nil
}

// Get returns nil and no error for an indexer without a row.
func (s *SQLStore) Get(ctx context.Context, indexerID int64) (*IndexerStatus, error) {
	st, err := scanStatus(s.db.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM indexer_status WHERE indexer_id = ?`, indexerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indexer status: %w", err)
	}
	return st, nil
}

// List returns every stored status ordered by indexer id.
func (s *SQLStore) List(ctx context.Context) ([]*IndexerStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+statusColumns+` FROM indexer_status ORDER BY indexer_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexer statuses: %w", err)
	}
	defer rows.Close()

	var out []*IndexerStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Upsert writes the failure fields of st.
func (s *SQLStore) Upsert(ctx context.Context, st *IndexerStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_status (indexer_id, initial_failure, most_recent_failure, escalation_level, disabled_till, last_error, last_success)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (indexer_id) DO UPDATE SET
			initial_failure = excluded.initial_failure,
			most_recent_failure = excluded.most_recent_failure,
			escalation_level = excluded.escalation_level,
			disabled_till = excluded.disabled_till,
			last_error = excluded.last_error`,
		st.IndexerID, toNullTime(st.InitialFailure), toNullTime(st.MostRecentFailure),
		st.EscalationLevel, toNullTime(st.DisabledTill), st.LastError, toNullTime(st.LastSuccess))
	if err != nil {
		return fmt.Errorf("failed to record indexer status: %w", err)
	}
	return nil
}

// Clear resets the failure state and stamps the success time.
func (s *SQLStore) Clear(ctx context.Context, indexerID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_status (indexer_id, escalation_level, last_success) VALUES (?, 0, ?)
		ON CONFLICT (indexer_id) DO UPDATE SET
			initial_failure = NULL,
			most_recent_failure = NULL,
			escalation_level = 0,
			disabled_till = NULL,
			last_error = '',
			last_success = excluded.last_success`,
		indexerID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to clear indexer status: %w", err)
	}
	return nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
