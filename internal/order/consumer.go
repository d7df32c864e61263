package order

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-lab-go/pkg/errs"
	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/logging"
)

// Inbox records processed event ids so re-delivered events become no-ops.
// An id is marked only after its effect has been applied; marking before
// would turn a transient failure plus a redelivery into a lost effect.
type Inbox interface {
	// Seen reports whether the event id was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records the event id once its effect is durable.
	MarkProcessed(ctx context.Context, eventID string) error
}

// PgInbox backs the dedupe with an inbox table keyed by event id.
type PgInbox struct {
	pool *pgxpool.Pool
}

func NewPgInbox(pool *pgxpool.Pool) *PgInbox {
	return &PgInbox{pool: pool}
}

func (i *PgInbox) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := i.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM inbox WHERE event_id = $1)`, eventID).Scan(&seen)
	return seen, err
}

func (i *PgInbox) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := i.pool.Exec(ctx, `
		INSERT INTO inbox(event_id, received_at) VALUES ($1, now())
		ON CONFLICT (event_id) DO NOTHING`, eventID)
	return err
}

// PaymentConsumer reacts to payment lifecycle events. A completed payment
// moves the order to PAID; a failed payment is logged only, leaving the
// order CREATED so the customer can retry.
type PaymentConsumer struct {
	svc   *Service
	inbox Inbox
	log   *logging.Logger
}

func NewPaymentConsumer(svc *Service, inbox Inbox, log *logging.Logger) *PaymentConsumer {
	return &PaymentConsumer{svc: svc, inbox: inbox, log: log}
}

// HandleCompleted processes one payment-success event. The transition runs
// before the inbox mark: if it fails transiently the event id stays
// unmarked, so the redelivery retries instead of being dropped as a
// duplicate. The expected-status guard keeps the retry idempotent.
func (c *PaymentConsumer) HandleCompleted(ctx context.Context, evt events.Event) error {
	if evt.OrderID == "" {
		// No correlation id: nothing to act on, drop rather than retry.
		c.log.Warn("payment event missing order id", logging.Fields{EventID: evt.EventID, Step: "payment_success"})
		return nil
	}
	seen, err := c.inbox.Seen(ctx, evt.EventID)
	if err != nil {
		return err
	}
	if seen {
		c.log.Debug("duplicate payment event skipped", logging.Fields{EventID: evt.EventID, OrderID: evt.OrderID})
		return nil
	}
	if _, err := c.svc.TransitionStatus(ctx, evt.OrderID, StatusPaid); err != nil {
		// A stale transition means another consumer already moved the
		// order; anything else is a real failure and must stay unmarked
		// so the redelivery retries it.
		if !errs.HasCode(err, errs.CodeInvalidOrderState) {
			return err
		}
		c.log.Warn("order not in payable state", logging.Fields{
			EventID: evt.EventID, OrderID: evt.OrderID, Err: err,
		})
	}
	if err := c.inbox.MarkProcessed(ctx, evt.EventID); err != nil {
		// The effect is applied; a redelivery re-runs the transition and
		// is rejected by the status guard, so only log here.
		c.log.Warn("inbox mark failed", logging.Fields{EventID: evt.EventID, OrderID: evt.OrderID, Err: err})
	}
	c.log.Info("payment event processed", logging.Fields{EventID: evt.EventID, OrderID: evt.OrderID, Status: string(StatusPaid)})
	return nil
}

// HandleFailed processes one payment-failed event. No order mutation:
// the order stays CREATED and payment can be retried.
func (c *PaymentConsumer) HandleFailed(ctx context.Context, evt events.Event) error {
	if evt.OrderID == "" {
		c.log.Warn("payment event missing order id", logging.Fields{EventID: evt.EventID, Step: "payment_failed"})
		return nil
	}
	reason := ""
	if evt.Payload != nil {
		reason, _ = evt.Payload["failureReason"].(string)
	}
	c.log.Warn("payment failed for order", logging.Fields{
		EventID: evt.EventID, OrderID: evt.OrderID, Step: "payment_failed", Status: reason,
	})
	return nil
}
