package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"p2pmaker/internal/core"
)

// SQLiteTupleStateStore implements the core.ITupleStateStore interface.
type SQLiteTupleStateStore struct {
	db *DB
}

// NewSQLiteTupleStateStore creates a tuple-state store on an open database.
func NewSQLiteTupleStateStore(db *DB) *SQLiteTupleStateStore {
	return &SQLiteTupleStateStore{db: db}
}

// Save writes the per-tuple positioning state.
func (s *SQLiteTupleStateStore) Save(ctx context.Context, st *core.TupleState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal tuple state: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO tuple_state (tuple_key, merchant_id, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tuple_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		st.Tuple.String(), st.Tuple.MerchantID, string(data), st.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save tuple state %s: %w", st.Tuple, err)
	}
	return nil
}

// Load returns the state for one tuple or nil when absent.
func (s *SQLiteTupleStateStore) Load(ctx context.Context, t core.Tuple) (*core.TupleState, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT data FROM tuple_state WHERE tuple_key = ?`, t.String())
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query tuple state %s: %w", t, err)
	}
	var st core.TupleState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("unmarshal tuple state %s: %w", t, err)
	}
	return &st, nil
}

// LoadAll returns every tuple state owned by a merchant.
func (s *SQLiteTupleStateStore) LoadAll(ctx context.Context, merchantID string) ([]*core.TupleState, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT data FROM tuple_state WHERE merchant_id = ?`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list tuple states: %w", err)
	}
	defer rows.Close()

	var out []*core.TupleState
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan tuple state row: %w", err)
		}
		var st core.TupleState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("unmarshal tuple state row: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
