package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore keeps stock counters in postgres. The reserve path is one
// conditional UPDATE, so the compare and the write happen in a single
// statement against concurrent reservers.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Put(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventory(item_id, available_units, reserved_units, total_units, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id) DO UPDATE SET
			available_units = EXCLUDED.available_units,
			reserved_units  = EXCLUDED.reserved_units,
			total_units     = EXCLUDED.total_units,
			last_updated    = EXCLUDED.last_updated`,
		rec.ItemID, rec.Available, rec.Reserved, rec.Total, rec.LastUpdated)
	return err
}

func (s *PgStore) Get(ctx context.Context, itemID string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT item_id, available_units, reserved_units, total_units, last_updated
		FROM inventory WHERE item_id = $1`, itemID).
		Scan(&rec.ItemID, &rec.Available, &rec.Reserved, &rec.Total, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PgStore) ConditionalReserve(ctx context.Context, itemID string, qty int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory
		SET available_units = available_units - $2,
		    reserved_units  = reserved_units + $2,
		    last_updated    = now()
		WHERE item_id = $1 AND available_units >= $2`, itemID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) ReleaseReserved(ctx context.Context, itemID string, qty int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory
		SET available_units = available_units + $2,
		    reserved_units  = reserved_units - $2,
		    last_updated    = now()
		WHERE item_id = $1 AND reserved_units >= $2`, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ConsumeReserved(ctx context.Context, itemID string, qty int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory
		SET reserved_units = reserved_units - $2,
		    total_units    = total_units - $2,
		    last_updated   = now()
		WHERE item_id = $1`, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
