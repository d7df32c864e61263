// Package errs defines the coded errors shared by all services. Every
// domain failure carries a stable code string; transport layers map codes
// to HTTP statuses and never invent new semantics.
package errs

import (
	"errors"
	"fmt"
)

const (
	CodeOrderNotFound          = "ORDER_NOT_FOUND"
	CodeInvalidOrderState      = "INVALID_ORDER_STATE"
	CodeItemUnavailable        = "ITEM_UNAVAILABLE"
	CodeItemServiceUnavailable = "ITEM_SERVICE_UNAVAILABLE"
	CodeValidationFailure      = "VALIDATION_FAILURE"

	CodePaymentNotFound         = "PAYMENT_NOT_FOUND"
	CodeDuplicatePaymentRequest = "DUPLICATE_PAYMENT_REQUEST"
	CodePaymentAlreadyExists    = "PAYMENT_ALREADY_EXISTS"
	CodeInvalidPaymentAmount    = "INVALID_PAYMENT_AMOUNT"
	CodePaymentAlreadyProcessed = "PAYMENT_ALREADY_PROCESSED"
	CodePaymentProcessingFailed = "PAYMENT_PROCESSING_FAILED"
	CodePaymentNotCancellable   = "PAYMENT_NOT_CANCELLABLE"
	CodePaymentNotRefundable    = "PAYMENT_NOT_REFUNDABLE"
	CodeInvalidRefundAmount     = "INVALID_REFUND_AMOUNT"
	CodeRefundProcessingFailed  = "REFUND_PROCESSING_FAILED"
)

// E is a domain error with a stable code.
type E struct {
	Code    string
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

// New builds a coded error.
func New(code, format string, args ...any) *E {
	return &E{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a coded error around an underlying cause.
func Wrap(err error, code, format string, args ...any) *E {
	return &E{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code carried by err, or "" for uncoded errors.
func CodeOf(err error) string {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}
