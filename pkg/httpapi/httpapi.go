// Package httpapi carries the response envelope shared by all services
// and the single place where error codes become HTTP statuses.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nazeru/shop-lab-go/pkg/errs"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, message string, data any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// Fail writes an explicit failure envelope.
func Fail(w http.ResponseWriter, status int, message, errorCode string) {
	WriteJSON(w, status, Response{Success: false, Message: message, ErrorCode: errorCode})
}

// Error maps a domain error to its HTTP status and writes the envelope.
// Uncoded errors come out as 500 without leaking internals.
func Error(w http.ResponseWriter, err error) {
	var e *errs.E
	if !errors.As(err, &e) {
		Fail(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	Fail(w, StatusFor(e.Code), e.Message, e.Code)
}

// StatusFor maps stable error codes to HTTP statuses. Transport never
// invents semantics beyond this table.
func StatusFor(code string) int {
	switch code {
	case errs.CodeOrderNotFound, errs.CodePaymentNotFound:
		return http.StatusNotFound
	case errs.CodeDuplicatePaymentRequest, errs.CodePaymentAlreadyExists, errs.CodePaymentAlreadyProcessed:
		return http.StatusConflict
	case errs.CodePaymentProcessingFailed:
		return http.StatusUnprocessableEntity
	case errs.CodeItemServiceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
