package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nazeru/shop-lab-go/pkg/errs"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{errs.CodeOrderNotFound, http.StatusNotFound},
		{errs.CodePaymentNotFound, http.StatusNotFound},
		{errs.CodeDuplicatePaymentRequest, http.StatusConflict},
		{errs.CodePaymentAlreadyExists, http.StatusConflict},
		{errs.CodePaymentAlreadyProcessed, http.StatusConflict},
		{errs.CodePaymentProcessingFailed, http.StatusUnprocessableEntity},
		{errs.CodeItemServiceUnavailable, http.StatusBadGateway},
		{errs.CodeValidationFailure, http.StatusBadRequest},
		{errs.CodeInvalidOrderState, http.StatusBadRequest},
		{errs.CodeRefundProcessingFailed, http.StatusBadRequest},
		{"SOMETHING_ELSE", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.code); got != tc.want {
			t.Errorf("StatusFor(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestErrorWritesCodedEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, fmt.Errorf("handler: %w", errs.New(errs.CodeOrderNotFound, "order missing")))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Error("success should be false")
	}
	if resp.ErrorCode != errs.CodeOrderNotFound {
		t.Errorf("errorCode = %q", resp.ErrorCode)
	}
	if resp.Message != "order missing" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestErrorHidesUncodedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("pq: connection reset"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "internal error" {
		t.Errorf("message = %q, internals must not leak", resp.Message)
	}
}

func TestOKEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, "done", map[string]string{"id": "x"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.ErrorCode != "" {
		t.Errorf("envelope = %+v", resp)
	}
}
