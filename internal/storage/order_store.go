package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"p2pmaker/internal/core"
)

// SQLiteOrderStore implements the core.IOrderStore interface.
type SQLiteOrderStore struct {
	db *DB
}

// NewSQLiteOrderStore creates an order store on an open database.
func NewSQLiteOrderStore(db *DB) *SQLiteOrderStore {
	return &SQLiteOrderStore{db: db}
}

// Upsert writes the venue's view of an order into the local cache.
func (s *SQLiteOrderStore) Upsert(ctx context.Context, o *core.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO orders (merchant_id, order_number, status, created_at, data)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (merchant_id, order_number)
		 DO UPDATE SET status = excluded.status, data = excluded.data`,
		o.MerchantID, o.OrderNumber, string(o.Status), o.CreatedAt.UnixMilli(), string(data))
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.OrderNumber, err)
	}
	return nil
}

// Get returns one cached order or nil when absent.
func (s *SQLiteOrderStore) Get(ctx context.Context, merchantID, orderNumber string) (*core.Order, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT data FROM orders WHERE merchant_id = ? AND order_number = ?`, merchantID, orderNumber)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query order %s: %w", orderNumber, err)
	}
	var o core.Order
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, fmt.Errorf("unmarshal order %s: %w", orderNumber, err)
	}
	return &o, nil
}

// List returns cached orders filtered by status (empty matches all) and
// creation time, newest first.
func (s *SQLiteOrderStore) List(ctx context.Context, merchantID string, status core.OrderStatus, since time.Time) ([]*core.Order, error) {
	query := `SELECT data FROM orders WHERE merchant_id = ? AND created_at >= ?`
	args := []interface{}{merchantID, since.UnixMilli()}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*core.Order
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		var o core.Order
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, fmt.Errorf("unmarshal order row: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}
