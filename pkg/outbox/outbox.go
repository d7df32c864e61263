// Package outbox persists lifecycle events in the same transaction as the
// state change they describe. A background dispatcher publishes pending
// rows and retries until each is durable on the bus, so a crash between
// commit and publish loses nothing.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/logging"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx, so Insert can join
// the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert stages an event for publication. Call it inside the transaction
// that applies the state change the event describes.
func Insert(ctx context.Context, db Execer, evt events.Event) error {
	topic := events.TopicFor(evt.EventType)
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
		evt.EventID, topic, evt.OrderID, data)
	return err
}

// Queue is the pending side the dispatcher drains.
type Queue interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// PgQueue reads and settles outbox rows against postgres.
type PgQueue struct {
	pool *pgxpool.Pool
}

func NewPgQueue(pool *pgxpool.Pool) *PgQueue {
	return &PgQueue{pool: pool}
}

func (q *PgQueue) MarkSent(ctx context.Context, id int64) error {
	_, err := q.pool.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func (q *PgQueue) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := q.pool.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Sender is the publishing side the dispatcher needs. Implemented by
// eventbus.KafkaPublisher.
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// Dispatcher drains the outbox in the background.
type Dispatcher struct {
	Queue    Queue
	Sender   Sender
	Log      *logging.Logger
	Interval time.Duration
	Batch    int
}

// Run polls until ctx is done. A row that fails to publish stays pending
// and is retried next tick; duplicates on the bus are possible and
// expected under at-least-once delivery.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	batch := d.Batch
	if batch <= 0 {
		batch = 100
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx, batch)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, batch int) {
	pending, err := d.Queue.FetchPending(ctx, batch)
	if err != nil {
		d.Log.Error("outbox fetch failed", logging.Fields{Step: "outbox_fetch", Err: err})
		return
	}
	for _, rec := range pending {
		if err := d.Sender.Send(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
			d.Log.Warn("outbox publish failed, will retry", logging.Fields{
				Step: "outbox_publish", EventID: rec.EventID, OrderID: rec.Key, Err: err,
			})
			return
		}
		if err := d.Queue.MarkSent(ctx, rec.ID); err != nil {
			// Row stays pending and will be re-published; consumers
			// dedupe by event id.
			d.Log.Warn("outbox mark-sent failed", logging.Fields{
				Step: "outbox_mark_sent", EventID: rec.EventID, Err: err,
			})
			return
		}
	}
}
