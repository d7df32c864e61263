package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/shop-lab-go/pkg/errs"
	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/logging"
)

var (
	// ErrNotFound is the store-level sentinel for missing payments.
	ErrNotFound = errors.New("payment not found")
	// ErrDuplicateKey is returned by stores when the idempotency key
	// unique constraint fires.
	ErrDuplicateKey = errors.New("idempotency key already used")
)

// Store is the ledger persistence contract. Save optionally stages an
// event in the same transaction as the payment write.
type Store interface {
	Create(ctx context.Context, p Payment) error
	Get(ctx context.Context, paymentID string) (Payment, error)
	Save(ctx context.Context, p Payment, evt *events.Event) error
	FindByIdempotencyKey(ctx context.Context, key string) (Payment, error)
	HasActiveForOrder(ctx context.Context, orderID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
}

// CreateRequest is the ledger input for a new payment.
type CreateRequest struct {
	OrderID        string
	UserID         string
	Amount         decimal.Decimal
	Method         Method
	IdempotencyKey string
	Currency       string
}

// Ledger creates and transitions payments. Collaborators are injected;
// tests swap them for fakes.
type Ledger struct {
	store Store
	gw    Gateway
	log   *logging.Logger
	now   func() time.Time
	newID func() string
}

func NewLedger(store Store, gw Gateway, log *logging.Logger) *Ledger {
	return &Ledger{
		store: store,
		gw:    gw,
		log:   log,
		now:   time.Now,
		newID: generatePaymentID,
	}
}

func generatePaymentID() string {
	return "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Create persists a PENDING payment. The idempotency key, when present,
// maps to exactly one payment, and an order can carry at most one
// PROCESSING or COMPLETED payment.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (Payment, error) {
	if req.OrderID == "" || req.UserID == "" {
		return Payment{}, errs.New(errs.CodeValidationFailure, "order id and user id are required")
	}
	if !req.Amount.IsPositive() {
		return Payment{}, errs.New(errs.CodeInvalidPaymentAmount, "invalid payment amount: %s", req.Amount)
	}
	if req.IdempotencyKey != "" {
		if _, err := l.store.FindByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			return Payment{}, errs.New(errs.CodeDuplicatePaymentRequest, "duplicate payment request")
		} else if !errors.Is(err, ErrNotFound) {
			return Payment{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}
	active, err := l.store.HasActiveForOrder(ctx, req.OrderID)
	if err != nil {
		return Payment{}, fmt.Errorf("active payment lookup: %w", err)
	}
	if active {
		return Payment{}, errs.New(errs.CodePaymentAlreadyExists, "payment already exists for order %s", req.OrderID)
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	now := l.now().UTC()
	p := Payment{
		PaymentID:      l.newID(),
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         StatusPending,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
		Description:    "Payment for order: " + req.OrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.Create(ctx, p); err != nil {
		// The unique index closes the check-then-insert race between
		// two replicas using the same key.
		if errors.Is(err, ErrDuplicateKey) {
			return Payment{}, errs.New(errs.CodeDuplicatePaymentRequest, "duplicate payment request")
		}
		return Payment{}, fmt.Errorf("persist payment: %w", err)
	}
	l.log.Info("payment created", logging.Fields{PaymentID: p.PaymentID, OrderID: p.OrderID, Step: "create"})
	return p, nil
}

// Process charges the gateway for a PENDING payment. Success completes
// the payment and stages payment-success; a decline or gateway timeout
// records FAILED, stages payment-failed, and surfaces the failure to the
// caller. The FAILED write happens either way.
func (l *Ledger) Process(ctx context.Context, paymentID, transactionID string) (Payment, error) {
	p, err := l.get(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusPending {
		return Payment{}, errs.New(errs.CodePaymentAlreadyProcessed, "payment %s already processed", paymentID)
	}

	accepted, gwErr := l.gw.Charge(ctx, p)
	now := l.now().UTC()
	if gwErr != nil || !accepted {
		reason := "Payment gateway declined transaction"
		if gwErr != nil {
			reason = "Payment gateway timeout"
		}
		p.Status = StatusFailed
		p.FailureReason = reason
		p.UpdatedAt = now

		evt := events.New(events.TypePaymentFailed, p.OrderID, p.UserID, string(p.Status), p.Amount, map[string]any{
			"paymentId":     p.PaymentID,
			"failureReason": reason,
		})
		if err := l.store.Save(ctx, p, &evt); err != nil {
			return Payment{}, fmt.Errorf("persist failed payment: %w", err)
		}
		l.log.Warn("payment processing failed", logging.Fields{
			PaymentID: p.PaymentID, OrderID: p.OrderID, Step: "process", Status: reason, Err: gwErr,
		})
		return p, errs.New(errs.CodePaymentProcessingFailed, "payment processing failed: %s", reason)
	}

	p.Status = StatusCompleted
	p.TransactionID = transactionID
	p.UpdatedAt = now
	p.CompletedAt = &now

	evt := events.New(events.TypePaymentCompleted, p.OrderID, p.UserID, string(p.Status), p.Amount, map[string]any{
		"paymentId":     p.PaymentID,
		"transactionId": p.TransactionID,
	})
	if err := l.store.Save(ctx, p, &evt); err != nil {
		return Payment{}, fmt.Errorf("persist completed payment: %w", err)
	}
	l.log.Info("payment completed", logging.Fields{
		PaymentID: p.PaymentID, OrderID: p.OrderID, Step: "process", Status: string(p.Status), EventID: evt.EventID,
	})
	return p, nil
}

// Cancel cancels a PENDING payment.
func (l *Ledger) Cancel(ctx context.Context, paymentID string) (Payment, error) {
	p, err := l.get(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusPending {
		return Payment{}, errs.New(errs.CodePaymentNotCancellable, "only pending payments can be cancelled")
	}
	p.Status = StatusCancelled
	p.FailureReason = "Payment cancelled by user"
	p.UpdatedAt = l.now().UTC()
	if err := l.store.Save(ctx, p, nil); err != nil {
		return Payment{}, fmt.Errorf("persist cancelled payment: %w", err)
	}
	l.log.Info("payment cancelled", logging.Fields{PaymentID: p.PaymentID, OrderID: p.OrderID, Step: "cancel"})
	return p, nil
}

// Refund refunds a COMPLETED payment up to the original amount.
func (l *Ledger) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (Payment, error) {
	p, err := l.get(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusCompleted {
		return Payment{}, errs.New(errs.CodePaymentNotRefundable, "only completed payments can be refunded")
	}
	if amount.GreaterThan(p.Amount) {
		return Payment{}, errs.New(errs.CodeInvalidRefundAmount, "refund amount %s exceeds original %s", amount, p.Amount)
	}
	ok, err := l.gw.Refund(ctx, p, amount)
	if err != nil || !ok {
		return Payment{}, errs.New(errs.CodeRefundProcessingFailed, "refund processing failed")
	}
	p.Status = StatusRefunded
	p.UpdatedAt = l.now().UTC()
	if err := l.store.Save(ctx, p, nil); err != nil {
		return Payment{}, fmt.Errorf("persist refunded payment: %w", err)
	}
	l.log.Info("payment refunded", logging.Fields{PaymentID: p.PaymentID, OrderID: p.OrderID, Step: "refund"})
	return p, nil
}

// Validate reports whether the payment exists and is COMPLETED. A missing
// id is false, never an error.
func (l *Ledger) Validate(ctx context.Context, paymentID string) (bool, error) {
	p, err := l.store.Get(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == StatusCompleted, nil
}

// Get returns one payment.
func (l *Ledger) Get(ctx context.Context, paymentID string) (Payment, error) {
	return l.get(ctx, paymentID)
}

// ListByUser returns a user's payments.
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]Payment, error) {
	return l.store.ListByUser(ctx, userID)
}

// ListByOrder returns an order's payments.
func (l *Ledger) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return l.store.ListByOrder(ctx, orderID)
}

func (l *Ledger) get(ctx context.Context, paymentID string) (Payment, error) {
	p, err := l.store.Get(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return Payment{}, errs.New(errs.CodePaymentNotFound, "payment not found: %s", paymentID)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}
