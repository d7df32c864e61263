// Package events defines the domain event envelope and topic names shared
// by producers and consumers. Events are immutable facts; delivery is
// at-least-once, so side-effecting consumers dedupe by EventID.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TopicOrderCreated   = "order-created"
	TopicOrderCanceled  = "order-canceled"
	TopicOrderPaid      = "order-paid"
	TopicOrderCompleted = "order-completed"
	TopicPaymentSuccess = "payment-success"
	TopicPaymentFailed  = "payment-failed"
)

const (
	TypeOrderCreated     = "ORDER_CREATED"
	TypeOrderCanceled    = "ORDER_CANCELED"
	TypeOrderPaid        = "ORDER_PAID"
	TypeOrderCompleted   = "ORDER_COMPLETED"
	TypePaymentCompleted = "PAYMENT_COMPLETED"
	TypePaymentFailed    = "PAYMENT_FAILED"
)

// Event is the wire envelope for every lifecycle event. Partition key is
// the order id, so events for one order land on one partition.
type Event struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	EventTime   time.Time       `json:"eventTime"`
	Payload     map[string]any  `json:"payload,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(eventType, orderID, userID, status string, total decimal.Decimal, payload map[string]any) Event {
	return Event{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		OrderID:     orderID,
		UserID:      userID,
		Status:      status,
		TotalAmount: total,
		EventTime:   time.Now().UTC(),
		Payload:     payload,
	}
}

// TopicFor maps an event type to its topic, or "" for unknown types.
func TopicFor(eventType string) string {
	switch eventType {
	case TypeOrderCreated:
		return TopicOrderCreated
	case TypeOrderCanceled:
		return TopicOrderCanceled
	case TypeOrderPaid:
		return TopicOrderPaid
	case TypeOrderCompleted:
		return TopicOrderCompleted
	case TypePaymentCompleted:
		return TopicPaymentSuccess
	case TypePaymentFailed:
		return TopicPaymentFailed
	}
	return ""
}
