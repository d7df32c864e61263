package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/shop-lab-go/internal/catalog"
	"github.com/nazeru/shop-lab-go/pkg/errs"
	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/logging"
)

// ErrNotFound is the store-level sentinel for missing orders.
var ErrNotFound = errors.New("order not found")

// Store persists the order, its user index entry and its status history
// as one atomic unit, staging the lifecycle event alongside them.
type Store interface {
	// Create writes the order, index entry, initial history row and the
	// staged event in one transaction.
	Create(ctx context.Context, o Order, hist HistoryEntry, evt events.Event) error
	Get(ctx context.Context, orderID string) (Order, error)
	// Update persists mutable fields plus a history row. Status is not
	// touched here.
	Update(ctx context.Context, o Order, hist HistoryEntry) error
	// Transition applies the status change guarded by the expected
	// current status. It updates the order row, the index row and
	// appends history plus the staged event atomically, and reports
	// false when another writer got there first.
	Transition(ctx context.Context, o Order, expected Status, hist HistoryEntry, evt events.Event) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]UserIndexEntry, error)
}

// CreateRequest is the workflow input for a new order.
type CreateRequest struct {
	UserID          string
	Items           []RequestedItem
	ShippingAddress Address
}

type RequestedItem struct {
	ItemID   string
	Quantity int
}

// Service is the order workflow. All collaborators are injected; tests
// swap them for fakes.
type Service struct {
	store   Store
	catalog catalog.Lookup
	log     *logging.Logger
	now     func() time.Time
	newID   func() string
}

func NewService(store Store, lookup catalog.Lookup, log *logging.Logger) *Service {
	return &Service{
		store:   store,
		catalog: lookup,
		log:     log,
		now:     time.Now,
		newID:   generateOrderID,
	}
}

func generateOrderID() string {
	return "ORD-" + strings.ToUpper(uuid.NewString()[:8])
}

// Create validates the request against a point-in-time catalog snapshot,
// computes the immutable price total, and persists the order with its
// secondary views and the order-created event in one atomic batch. Stock
// is checked, not reserved; reservation is the checkout caller's step.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Order, error) {
	if req.UserID == "" {
		return Order{}, errs.New(errs.CodeValidationFailure, "user id is required")
	}
	if len(req.Items) == 0 {
		return Order{}, errs.New(errs.CodeValidationFailure, "order requires at least one item")
	}
	for _, it := range req.Items {
		if it.ItemID == "" || it.Quantity <= 0 {
			return Order{}, errs.New(errs.CodeValidationFailure, "each item requires an id and a positive quantity")
		}
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return Order{}, err
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ItemID)
	}
	snapshot, err := s.catalog.GetItems(ctx, ids)
	if err != nil {
		return Order{}, err
	}
	byID := catalog.IndexByID(snapshot)

	items := make([]Item, 0, len(req.Items))
	for _, want := range req.Items {
		info, ok := byID[want.ItemID]
		if !ok {
			return Order{}, errs.New(errs.CodeItemUnavailable, "item not found: %s", want.ItemID)
		}
		if info.Stock < want.Quantity {
			return Order{}, errs.New(errs.CodeItemUnavailable,
				"insufficient stock for item %s: available %d, requested %d",
				want.ItemID, info.Stock, want.Quantity)
		}
		items = append(items, Item{
			ItemID:   info.ItemID,
			Name:     info.Name,
			Price:    info.Price,
			Quantity: want.Quantity,
			ImageURL: info.ImageURL,
		})
	}

	now := s.now().UTC()
	o := Order{
		OrderID:         s.newID(),
		UserID:          req.UserID,
		Status:          StatusCreated,
		TotalAmount:     total(items),
		Items:           items,
		ShippingAddress: addressToMap(req.ShippingAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	evt := events.New(events.TypeOrderCreated, o.OrderID, o.UserID, string(o.Status), o.TotalAmount, map[string]any{
		"items":           o.Items,
		"shippingAddress": o.ShippingAddress,
	})
	hist := HistoryEntry{OrderID: o.OrderID, UpdatedAt: now, Notes: "Order created successfully"}

	if err := s.store.Create(ctx, o, hist, evt); err != nil {
		return Order{}, fmt.Errorf("persist order: %w", err)
	}
	s.log.Info("order created", logging.Fields{OrderID: o.OrderID, Step: "create", Status: string(o.Status)})
	return o, nil
}

// Cancel is idempotent for already-canceled orders and refuses completed
// ones. Any other state cancels through the state machine.
func (s *Service) Cancel(ctx context.Context, orderID string) (Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status == StatusCanceled {
		s.log.Warn("order already canceled", logging.Fields{OrderID: orderID, Step: "cancel"})
		return o, nil
	}
	if o.Status == StatusCompleted {
		return Order{}, errs.New(errs.CodeInvalidOrderState, "cannot cancel completed order")
	}
	return s.transition(ctx, o, StatusCanceled, "Order canceled by user")
}

// UpdateRequest carries the only mutable fields. Absent maps are no-ops.
type UpdateRequest struct {
	ShippingAddress map[string]string
	PaymentInfo     map[string]string
}

// Update rewrites shipping address and payment info while the order is
// still CREATED or PAID. A history entry is appended even when nothing
// materially changed.
func (s *Service) Update(ctx context.Context, orderID string, req UpdateRequest) (Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusCreated && o.Status != StatusPaid {
		return Order{}, errs.New(errs.CodeInvalidOrderState, "cannot update order in %s state", o.Status)
	}
	if len(req.ShippingAddress) > 0 {
		o.ShippingAddress = req.ShippingAddress
	}
	if len(req.PaymentInfo) > 0 {
		o.PaymentInfo = req.PaymentInfo
	}
	now := s.now().UTC()
	o.UpdatedAt = now
	hist := HistoryEntry{OrderID: orderID, UpdatedAt: now, Notes: "Order details updated"}
	if err := s.store.Update(ctx, o, hist); err != nil {
		return Order{}, fmt.Errorf("update order: %w", err)
	}
	s.log.Info("order updated", logging.Fields{OrderID: orderID, Step: "update"})
	return o, nil
}

// TransitionStatus is the single mutation point for status changes, used
// by the HTTP surface and the payment-event consumer alike.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, target Status) (Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	note := fmt.Sprintf("Order status changed from %s to %s", o.Status, target)
	return s.transition(ctx, o, target, note)
}

func (s *Service) transition(ctx context.Context, o Order, target Status, note string) (Order, error) {
	if !CanTransition(o.Status, target) {
		return Order{}, errs.New(errs.CodeInvalidOrderState, "invalid status transition: %s -> %s", o.Status, target)
	}
	expected := o.Status
	now := s.now().UTC()
	o.Status = target
	o.UpdatedAt = now

	evt := events.New(eventTypeFor(target), o.OrderID, o.UserID, string(target), o.TotalAmount, nil)
	hist := HistoryEntry{OrderID: o.OrderID, UpdatedAt: now, Notes: note}

	applied, err := s.store.Transition(ctx, o, expected, hist, evt)
	if err != nil {
		return Order{}, fmt.Errorf("transition order: %w", err)
	}
	if !applied {
		// A concurrent writer moved the order first; the caller's view
		// of the source state is stale.
		return Order{}, errs.New(errs.CodeInvalidOrderState,
			"invalid status transition: order %s no longer in %s", o.OrderID, expected)
	}
	s.log.Info("order status changed", logging.Fields{
		OrderID: o.OrderID, Step: "transition", Status: string(target), EventID: evt.EventID,
	})
	return o, nil
}

// Get returns the primary record.
func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	return s.get(ctx, orderID)
}

// ListByUser answers "orders for user X" from the denormalized index.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]UserIndexEntry, error) {
	if userID == "" {
		return nil, errs.New(errs.CodeValidationFailure, "user id is required")
	}
	return s.store.ListByUser(ctx, userID)
}

func (s *Service) get(ctx context.Context, orderID string) (Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return Order{}, errs.New(errs.CodeOrderNotFound, "order not found: %s", orderID)
	}
	if err != nil {
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	return o, nil
}

func eventTypeFor(target Status) string {
	switch target {
	case StatusPaid:
		return events.TypeOrderPaid
	case StatusCompleted:
		return events.TypeOrderCompleted
	case StatusCanceled:
		return events.TypeOrderCanceled
	default:
		return events.TypeOrderCreated
	}
}

func addressToMap(a Address) map[string]string {
	return map[string]string{
		"street":  a.Street,
		"city":    a.City,
		"state":   a.State,
		"zipCode": a.ZipCode,
		"country": a.Country,
	}
}
