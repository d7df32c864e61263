// Package idempotency reads the caller-supplied idempotency token used to
// make payment creation safe to retry.
package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

// Key returns the trimmed header value, or "" when the caller sent none.
func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}
