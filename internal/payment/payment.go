// Package payment owns the payment ledger: creation under an idempotency
// guarantee, the bounded payment state machine, and refunds.
package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/shop-lab-go/pkg/errs"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

type Method string

const (
	MethodCreditCard   Method = "CREDIT_CARD"
	MethodDebitCard    Method = "DEBIT_CARD"
	MethodPaypal       Method = "PAYPAL"
	MethodBankTransfer Method = "BANK_TRANSFER"
)

// ParseMethod converts a raw method string from the transport boundary.
func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(raw))) {
	case MethodCreditCard:
		return MethodCreditCard, nil
	case MethodDebitCard:
		return MethodDebitCard, nil
	case MethodPaypal:
		return MethodPaypal, nil
	case MethodBankTransfer:
		return MethodBankTransfer, nil
	}
	return "", errs.New(errs.CodeValidationFailure, "invalid payment method: %s", raw)
}

// Payment is one ledger record. At most one payment per order may be
// PROCESSING or COMPLETED, and an idempotency key maps to exactly one
// payment.
type Payment struct {
	PaymentID      string          `json:"paymentId"`
	OrderID        string          `json:"orderId"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         Status          `json:"status"`
	Method         Method          `json:"paymentMethod"`
	TransactionID  string          `json:"transactionId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Description    string          `json:"description,omitempty"`
	FailureReason  string          `json:"failureReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}
