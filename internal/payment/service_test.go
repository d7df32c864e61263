package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/shop-lab-go/pkg/errs"
	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/logging"
)

type fakeStore struct {
	payments    map[string]Payment
	staged      []events.Event
	dupOnCreate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: make(map[string]Payment)}
}

func (f *fakeStore) Create(ctx context.Context, p Payment) error {
	if f.dupOnCreate {
		return ErrDuplicateKey
	}
	if p.IdempotencyKey != "" {
		for _, existing := range f.payments {
			if existing.IdempotencyKey == p.IdempotencyKey {
				return ErrDuplicateKey
			}
		}
	}
	f.payments[p.PaymentID] = p
	return nil
}

func (f *fakeStore) Get(ctx context.Context, paymentID string) (Payment, error) {
	p, ok := f.payments[paymentID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) Save(ctx context.Context, p Payment, evt *events.Event) error {
	if _, ok := f.payments[p.PaymentID]; !ok {
		return ErrNotFound
	}
	f.payments[p.PaymentID] = p
	if evt != nil {
		f.staged = append(f.staged, *evt)
	}
	return nil
}

func (f *fakeStore) FindByIdempotencyKey(ctx context.Context, key string) (Payment, error) {
	for _, p := range f.payments {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	return Payment{}, ErrNotFound
}

func (f *fakeStore) HasActiveForOrder(ctx context.Context, orderID string) (bool, error) {
	for _, p := range f.payments {
		if p.OrderID == orderID && (p.Status == StatusProcessing || p.Status == StatusCompleted) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID string) ([]Payment, error) {
	var out []Payment
	for _, p := range f.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	var out []Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeGateway struct {
	accept    bool
	refundOK  bool
	chargeErr error
}

func (f *fakeGateway) Charge(ctx context.Context, p Payment) (bool, error) {
	return f.accept, f.chargeErr
}

func (f *fakeGateway) Refund(ctx context.Context, p Payment, amount decimal.Decimal) (bool, error) {
	return f.refundOK, nil
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(store *fakeStore, gw Gateway) *Ledger {
	l := NewLedger(store, gw, logging.Nop())
	l.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	l.newID = func() string { return "pay_test00000000" }
	return l
}

func validCreate() CreateRequest {
	return CreateRequest{
		OrderID:        "ORD-SEED0001",
		UserID:         "u1",
		Amount:         amount("20.00"),
		Method:         MethodCreditCard,
		IdempotencyKey: "idem-1",
	}
}

func TestCreatePaymentPending(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store, &fakeGateway{})

	p, err := ledger.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", p.Status)
	}
	if p.PaymentID != "pay_test00000000" {
		t.Fatalf("unexpected payment id %q", p.PaymentID)
	}
	if p.Currency != "USD" {
		t.Fatalf("expected USD default, got %s", p.Currency)
	}
	if p.Description != "Payment for order: ORD-SEED0001" {
		t.Fatalf("unexpected description %q", p.Description)
	}
}

func TestCreateDuplicateIdempotencyKey(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store, &fakeGateway{})

	if _, err := ledger.Create(context.Background(), validCreate()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	req := validCreate()
	req.OrderID = "ORD-SEED0002"
	_, err := ledger.Create(context.Background(), req)
	if !errs.HasCode(err, errs.CodeDuplicatePaymentRequest) {
		t.Fatalf("expected DUPLICATE_PAYMENT_REQUEST, got %v", err)
	}
	if len(store.payments) != 1 {
		t.Fatalf("second payment row must not exist, got %d", len(store.payments))
	}
}

func TestCreateRaceOnIdempotencyKey(t *testing.T) {
	// The pre-check passes but the unique index fires on insert.
	store := newFakeStore()
	store.dupOnCreate = true
	ledger := newTestLedger(store, &fakeGateway{})

	_, err := ledger.Create(context.Background(), validCreate())
	if !errs.HasCode(err, errs.CodeDuplicatePaymentRequest) {
		t.Fatalf("expected DUPLICATE_PAYMENT_REQUEST, got %v", err)
	}
}

func TestCreateActivePaymentForOrderRejected(t *testing.T) {
	store := newFakeStore()
	store.payments["pay_done"] = Payment{PaymentID: "pay_done", OrderID: "ORD-SEED0001", Status: StatusCompleted}
	ledger := newTestLedger(store, &fakeGateway{})

	req := validCreate()
	req.IdempotencyKey = ""
	_, err := ledger.Create(context.Background(), req)
	if !errs.HasCode(err, errs.CodePaymentAlreadyExists) {
		t.Fatalf("expected PAYMENT_ALREADY_EXISTS, got %v", err)
	}
}

func TestCreateInvalidAmount(t *testing.T) {
	ledger := newTestLedger(newFakeStore(), &fakeGateway{})
	for _, amt := range []string{"0", "-5.00"} {
		req := validCreate()
		req.Amount = amount(amt)
		_, err := ledger.Create(context.Background(), req)
		if !errs.HasCode(err, errs.CodeInvalidPaymentAmount) {
			t.Fatalf("amount %s: expected INVALID_PAYMENT_AMOUNT, got %v", amt, err)
		}
	}
}

func seedPending(store *fakeStore) Payment {
	p := Payment{
		PaymentID: "pay_seed00000000",
		OrderID:   "ORD-SEED0001",
		UserID:    "u1",
		Amount:    amount("20.00"),
		Currency:  "USD",
		Status:    StatusPending,
		Method:    MethodCreditCard,
	}
	store.payments[p.PaymentID] = p
	return p
}

func TestProcessSuccess(t *testing.T) {
	store := newFakeStore()
	seedPending(store)
	ledger := newTestLedger(store, &fakeGateway{accept: true})

	p, err := ledger.Process(context.Background(), "pay_seed00000000", "txn-123")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if p.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", p.Status)
	}
	if p.TransactionID != "txn-123" || p.CompletedAt == nil {
		t.Fatalf("transaction id and completion time must be set: %+v", p)
	}
	if len(store.staged) != 1 || store.staged[0].EventType != events.TypePaymentCompleted {
		t.Fatalf("expected staged PAYMENT_COMPLETED event, got %+v", store.staged)
	}
	if store.staged[0].OrderID != "ORD-SEED0001" {
		t.Fatal("event must carry the order correlation id")
	}
}

func TestProcessDeclineRecordsFailureAndErrors(t *testing.T) {
	store := newFakeStore()
	seedPending(store)
	ledger := newTestLedger(store, &fakeGateway{accept: false})

	_, err := ledger.Process(context.Background(), "pay_seed00000000", "txn-123")
	if !errs.HasCode(err, errs.CodePaymentProcessingFailed) {
		t.Fatalf("expected PAYMENT_PROCESSING_FAILED, got %v", err)
	}
	// The failure is recorded, not swallowed.
	p := store.payments["pay_seed00000000"]
	if p.Status != StatusFailed || p.FailureReason == "" {
		t.Fatalf("decline must persist FAILED with a reason, got %+v", p)
	}
	if len(store.staged) != 1 || store.staged[0].EventType != events.TypePaymentFailed {
		t.Fatalf("expected staged PAYMENT_FAILED event, got %+v", store.staged)
	}
}

func TestProcessGatewayTimeoutRecordsFailure(t *testing.T) {
	store := newFakeStore()
	seedPending(store)
	ledger := newTestLedger(store, &fakeGateway{chargeErr: errors.New("context deadline exceeded")})

	_, err := ledger.Process(context.Background(), "pay_seed00000000", "txn-123")
	if !errs.HasCode(err, errs.CodePaymentProcessingFailed) {
		t.Fatalf("expected PAYMENT_PROCESSING_FAILED, got %v", err)
	}
	if store.payments["pay_seed00000000"].FailureReason != "Payment gateway timeout" {
		t.Fatalf("unexpected reason %q", store.payments["pay_seed00000000"].FailureReason)
	}
}

func TestProcessNonPendingRejected(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded} {
		store := newFakeStore()
		p := seedPending(store)
		p.Status = status
		store.payments[p.PaymentID] = p
		ledger := newTestLedger(store, &fakeGateway{accept: true})

		_, err := ledger.Process(context.Background(), p.PaymentID, "txn-123")
		if !errs.HasCode(err, errs.CodePaymentAlreadyProcessed) {
			t.Fatalf("status %s: expected PAYMENT_ALREADY_PROCESSED, got %v", status, err)
		}
	}
}

func TestCancelOnlyPending(t *testing.T) {
	store := newFakeStore()
	seedPending(store)
	ledger := newTestLedger(store, &fakeGateway{})

	p, err := ledger.Cancel(context.Background(), "pay_seed00000000")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", p.Status)
	}

	_, err = ledger.Cancel(context.Background(), "pay_seed00000000")
	if !errs.HasCode(err, errs.CodePaymentNotCancellable) {
		t.Fatalf("expected PAYMENT_NOT_CANCELLABLE, got %v", err)
	}
}

func TestRefundOnlyCompleted(t *testing.T) {
	store := newFakeStore()
	seedPending(store)
	ledger := newTestLedger(store, &fakeGateway{refundOK: true})

	_, err := ledger.Refund(context.Background(), "pay_seed00000000", amount("5.00"))
	if !errs.HasCode(err, errs.CodePaymentNotRefundable) {
		t.Fatalf("expected PAYMENT_NOT_REFUNDABLE, got %v", err)
	}
}

func TestRefundAmountCap(t *testing.T) {
	store := newFakeStore()
	p := seedPending(store)
	p.Status = StatusCompleted
	store.payments[p.PaymentID] = p
	ledger := newTestLedger(store, &fakeGateway{refundOK: true})

	_, err := ledger.Refund(context.Background(), p.PaymentID, amount("20.01"))
	if !errs.HasCode(err, errs.CodeInvalidRefundAmount) {
		t.Fatalf("expected INVALID_REFUND_AMOUNT, got %v", err)
	}

	got, err := ledger.Refund(context.Background(), p.PaymentID, amount("20.00"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got.Status != StatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", got.Status)
	}
}

func TestRefundGatewayFailure(t *testing.T) {
	store := newFakeStore()
	p := seedPending(store)
	p.Status = StatusCompleted
	store.payments[p.PaymentID] = p
	ledger := newTestLedger(store, &fakeGateway{refundOK: false})

	_, err := ledger.Refund(context.Background(), p.PaymentID, amount("5.00"))
	if !errs.HasCode(err, errs.CodeRefundProcessingFailed) {
		t.Fatalf("expected REFUND_PROCESSING_FAILED, got %v", err)
	}
	if store.payments[p.PaymentID].Status != StatusCompleted {
		t.Fatal("failed refund must leave the payment COMPLETED")
	}
}

func TestValidate(t *testing.T) {
	store := newFakeStore()
	p := seedPending(store)
	ledger := newTestLedger(store, &fakeGateway{})

	ok, err := ledger.Validate(context.Background(), "pay_missing")
	if err != nil || ok {
		t.Fatalf("missing payment must validate false without error, got %v %v", ok, err)
	}

	ok, err = ledger.Validate(context.Background(), p.PaymentID)
	if err != nil || ok {
		t.Fatalf("pending payment must validate false, got %v %v", ok, err)
	}

	p.Status = StatusCompleted
	store.payments[p.PaymentID] = p
	ok, err = ledger.Validate(context.Background(), p.PaymentID)
	if err != nil || !ok {
		t.Fatalf("completed payment must validate true, got %v %v", ok, err)
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod("credit_card"); err != nil || m != MethodCreditCard {
		t.Fatalf("expected CREDIT_CARD, got %v %v", m, err)
	}
	if _, err := ParseMethod("BARTER"); !errs.HasCode(err, errs.CodeValidationFailure) {
		t.Fatalf("unknown method must fail validation, got %v", err)
	}
}
