// Package order owns the order record, its two denormalized views and the
// bounded state machine that drives them. All mutations flow through the
// workflow service; nothing outside this package writes these rows.
package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/shop-lab-go/pkg/errs"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPaid      Status = "PAID"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
)

// successors is the allowed-successor set per state. COMPLETED and
// CANCELED are terminal.
var successors = map[Status][]Status{
	StatusCreated:   {StatusPaid, StatusCanceled},
	StatusPaid:      {StatusCompleted, StatusCanceled},
	StatusCompleted: {},
	StatusCanceled:  {},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a raw status string from the transport boundary
// into the closed enum. Unknown strings never reach the state machine.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusCreated:
		return StatusCreated, nil
	case StatusPaid:
		return StatusPaid, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusCanceled:
		return StatusCanceled, nil
	}
	return "", errs.New(errs.CodeValidationFailure, "invalid order status: %s", raw)
}

// Item is a line item snapshotted from the catalog at creation time and
// immutable afterwards.
type Item struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	ImageURL string          `json:"imageUrl"`
}

// Address is a validated shipping address. All fields are required.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (a Address) Validate() error {
	if a.Street == "" || a.City == "" || a.State == "" || a.ZipCode == "" || a.Country == "" {
		return errs.New(errs.CodeValidationFailure, "shipping address requires street, city, state, zip and country")
	}
	return nil
}

// Order is the primary record. TotalAmount is derived once at creation
// and equals the sum of price×quantity over the line items.
type Order struct {
	OrderID         string            `json:"orderId"`
	UserID          string            `json:"userId"`
	Status          Status            `json:"status"`
	TotalAmount     decimal.Decimal   `json:"totalAmount"`
	Items           []Item            `json:"items"`
	ShippingAddress map[string]string `json:"shippingAddress"`
	PaymentInfo     map[string]string `json:"paymentInfo,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// UserIndexEntry is the denormalized "orders for user X" row. Its status
// converges with the primary record inside the same logical update.
type UserIndexEntry struct {
	UserID      string          `json:"userId"`
	OrderID     string          `json:"orderId"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// HistoryEntry is one append-only status history row, keyed by order id
// and event timestamp.
type HistoryEntry struct {
	OrderID   string    `json:"orderId"`
	UpdatedAt time.Time `json:"updatedAt"`
	Notes     string    `json:"notes"`
}

func total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}
