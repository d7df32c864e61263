package payment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/outbox"
)

// PgStore keeps the ledger in postgres. A partial unique index on
// idempotency_key enforces the one-key-one-payment guarantee at the
// storage layer.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const paymentColumns = `payment_id, order_id, user_id, amount, currency, status, method,
	transaction_id, idempotency_key, description, failure_reason, created_at, updated_at, completed_at`

func (s *PgStore) Create(ctx context.Context, p Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments(`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14)`,
		p.PaymentID, p.OrderID, p.UserID, p.Amount, p.Currency, string(p.Status), string(p.Method),
		p.TransactionID, p.IdempotencyKey, p.Description, p.FailureReason, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *PgStore) Get(ctx context.Context, paymentID string) (Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, paymentID))
}

func (s *PgStore) Save(ctx context.Context, p Payment, evt *events.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE payments SET status=$2, transaction_id=$3, failure_reason=$4, updated_at=$5, completed_at=$6
		WHERE payment_id=$1`,
		p.PaymentID, string(p.Status), p.TransactionID, p.FailureReason, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if evt != nil {
		if err := outbox.Insert(ctx, tx, *evt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) FindByIdempotencyKey(ctx context.Context, key string) (Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
}

func (s *PgStore) HasActiveForOrder(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payments
			WHERE order_id = $1 AND status IN ('PROCESSING', 'COMPLETED'))`, orderID).Scan(&exists)
	return exists, err
}

func (s *PgStore) ListByUser(ctx context.Context, userID string) ([]Payment, error) {
	return s.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *PgStore) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return s.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
}

func (s *PgStore) list(ctx context.Context, query, arg string) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var (
		p       Payment
		status  string
		method  string
		idemKey *string
		txnID   *string
		failure *string
		descr   *string
	)
	err := row.Scan(&p.PaymentID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &status, &method,
		&txnID, &idemKey, &descr, &failure, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	p.Method = Method(method)
	if txnID != nil {
		p.TransactionID = *txnID
	}
	if idemKey != nil {
		p.IdempotencyKey = *idemKey
	}
	if descr != nil {
		p.Description = *descr
	}
	if failure != nil {
		p.FailureReason = *failure
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
