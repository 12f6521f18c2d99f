package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"p2pmaker/internal/core"
)

// SQLiteDispatchStore implements the core.IDispatchStore interface.
type SQLiteDispatchStore struct {
	db *DB
}

// NewSQLiteDispatchStore creates a dispatch store on an open database.
func NewSQLiteDispatchStore(db *DB) *SQLiteDispatchStore {
	return &SQLiteDispatchStore{db: db}
}

// Create inserts a new dispatch. Fails if the ID already exists.
func (s *SQLiteDispatchStore) Create(ctx context.Context, d *core.Dispatch) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO dispatches (merchant_id, id, state, next_attempt_at, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.MerchantID, d.ID, string(d.State), d.NextAttemptAt.UnixMilli(), string(data), d.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert dispatch %s: %w", d.ID, err)
	}
	return nil
}

// Get returns one dispatch or nil when absent.
func (s *SQLiteDispatchStore) Get(ctx context.Context, merchantID, id string) (*core.Dispatch, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT data FROM dispatches WHERE merchant_id = ? AND id = ?`, merchantID, id)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query dispatch %s: %w", id, err)
	}
	var d core.Dispatch
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("unmarshal dispatch %s: %w", id, err)
	}
	return &d, nil
}

// Update rewrites a dispatch row.
func (s *SQLiteDispatchStore) Update(ctx context.Context, d *core.Dispatch) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE dispatches SET state = ?, next_attempt_at = ?, data = ?, updated_at = ?
		 WHERE merchant_id = ? AND id = ?`,
		string(d.State), d.NextAttemptAt.UnixMilli(), string(data), d.UpdatedAt.UnixMilli(),
		d.MerchantID, d.ID)
	if err != nil {
		return fmt.Errorf("update dispatch %s: %w", d.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update dispatch %s: not found", d.ID)
	}
	return nil
}

// ListByState returns the merchant's dispatches in one state, oldest first.
func (s *SQLiteDispatchStore) ListByState(ctx context.Context, merchantID string, state core.DispatchState) ([]*core.Dispatch, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT data FROM dispatches WHERE merchant_id = ? AND state = ? ORDER BY updated_at ASC`,
		merchantID, string(state))
	if err != nil {
		return nil, fmt.Errorf("list dispatches by state: %w", err)
	}
	defer rows.Close()
	return scanDispatches(rows)
}

// ListDue returns non-terminal dispatches whose next attempt is due.
func (s *SQLiteDispatchStore) ListDue(ctx context.Context, merchantID string, now time.Time) ([]*core.Dispatch, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT data FROM dispatches
		 WHERE merchant_id = ? AND state IN (?, ?) AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC`,
		merchantID, string(core.DispatchPending), string(core.DispatchRetrying), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list due dispatches: %w", err)
	}
	defer rows.Close()
	return scanDispatches(rows)
}

func scanDispatches(rows *sql.Rows) ([]*core.Dispatch, error) {
	var out []*core.Dispatch
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan dispatch row: %w", err)
		}
		var d core.Dispatch
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("unmarshal dispatch row: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
