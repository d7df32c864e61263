package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/outbox"
)

// PgStore writes the primary order row, the orders_by_user index row, the
// history row and the outbox row inside one transaction, so a crash
// between them can never leave the views disagreeing.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, o Order, hist HistoryEntry, evt events.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	payment, err := json.Marshal(o.PaymentInfo)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(order_id, user_id, status, total_amount, items, shipping_address, payment_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.OrderID, o.UserID, string(o.Status), o.TotalAmount, items, shipping, payment, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders_by_user(user_id, order_id, status, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		o.UserID, o.OrderID, string(o.Status), o.TotalAmount, o.CreatedAt)
	if err != nil {
		return err
	}

	if err := insertHistory(ctx, tx, hist); err != nil {
		return err
	}
	if err := outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Get(ctx context.Context, orderID string) (Order, error) {
	var (
		o        Order
		status   string
		items    []byte
		shipping []byte
		payment  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT order_id, user_id, status, total_amount, items, shipping_address, payment_info, created_at, updated_at
		FROM orders WHERE order_id = $1`, orderID).
		Scan(&o.OrderID, &o.UserID, &status, &o.TotalAmount, &items, &shipping, &payment, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, fmt.Errorf("decode items for %s: %w", orderID, err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("decode shipping address for %s: %w", orderID, err)
	}
	if len(payment) > 0 {
		if err := json.Unmarshal(payment, &o.PaymentInfo); err != nil {
			return Order{}, fmt.Errorf("decode payment info for %s: %w", orderID, err)
		}
	}
	return o, nil
}

func (s *PgStore) Update(ctx context.Context, o Order, hist HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	payment, err := json.Marshal(o.PaymentInfo)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET shipping_address=$2, payment_info=$3, updated_at=$4
		WHERE order_id=$1`,
		o.OrderID, shipping, payment, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := insertHistory(ctx, tx, hist); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Transition(ctx context.Context, o Order, expected Status, hist HistoryEntry, evt events.Event) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Expected-status guard: the row only moves if no other writer beat
	// this transition to it.
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=$4
		WHERE order_id=$1 AND status=$2`,
		o.OrderID, string(expected), string(o.Status), o.UpdatedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders_by_user SET status=$3
		WHERE user_id=$1 AND order_id=$2`,
		o.UserID, o.OrderID, string(o.Status))
	if err != nil {
		return false, err
	}
	if err := insertHistory(ctx, tx, hist); err != nil {
		return false, err
	}
	if err := outbox.Insert(ctx, tx, evt); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PgStore) ListByUser(ctx context.Context, userID string) ([]UserIndexEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, order_id, status, total_amount, created_at
		FROM orders_by_user WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserIndexEntry
	for rows.Next() {
		var (
			e      UserIndexEntry
			status string
			amount decimal.Decimal
		)
		if err := rows.Scan(&e.UserID, &e.OrderID, &status, &amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.TotalAmount = amount
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, hist HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, updated_at, notes)
		VALUES ($1, $2, $3)`,
		hist.OrderID, hist.UpdatedAt, hist.Notes)
	return err
}
