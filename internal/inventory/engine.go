package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/nazeru/shop-lab-go/pkg/logging"
)

// ErrNotFound is returned by stores for unknown item ids.
var ErrNotFound = errors.New("inventory record not found")

// Store is the persistence contract. ConditionalReserve must be a single
// atomic read-compare-write: it succeeds and applies the decrement only
// when available >= qty, and two racing callers can never both win the
// last unit.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, itemID string) (Record, error)
	ConditionalReserve(ctx context.Context, itemID string, qty int) (bool, error)
	ReleaseReserved(ctx context.Context, itemID string, qty int) error
	ConsumeReserved(ctx context.Context, itemID string, qty int) error
}

// Engine exposes the reservation operations. Reserve surfaces failure to
// the caller because a lost sale must be visible; Release and Consume are
// compensating cleanup and only log on store failure.
type Engine struct {
	store Store
	log   *logging.Logger
	now   func() time.Time
}

func NewEngine(store Store, log *logging.Logger) *Engine {
	return &Engine{store: store, log: log, now: time.Now}
}

// Initialize sets available = total = qty with nothing reserved. There is
// no existence check; re-initializing overwrites the record.
func (e *Engine) Initialize(ctx context.Context, itemID string, qty int) (Record, error) {
	rec := Record{
		ItemID:      itemID,
		Available:   qty,
		Reserved:    0,
		Total:       qty,
		LastUpdated: e.now().UTC(),
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return Record{}, err
	}
	e.log.Info("inventory initialized", logging.Fields{ItemID: itemID, Step: "initialize"})
	return rec, nil
}

// Reserve atomically moves qty units from available to reserved. It
// returns false, not an error, when stock is insufficient.
func (e *Engine) Reserve(ctx context.Context, itemID string, qty int) bool {
	ok, err := e.store.ConditionalReserve(ctx, itemID, qty)
	if err != nil {
		e.log.Error("inventory reserve failed", logging.Fields{ItemID: itemID, Step: "reserve", Err: err})
		return false
	}
	if ok {
		e.log.Info("inventory reserved", logging.Fields{ItemID: itemID, Step: "reserve", Status: "reserved"})
	} else {
		e.log.Warn("insufficient stock", logging.Fields{ItemID: itemID, Step: "reserve", Status: "insufficient"})
	}
	return ok
}

// Release returns qty reserved units to available after a reservation
// that was never consumed. Store failure is logged, not raised.
func (e *Engine) Release(ctx context.Context, itemID string, qty int) {
	if err := e.store.ReleaseReserved(ctx, itemID, qty); err != nil {
		e.log.Error("inventory release failed", logging.Fields{ItemID: itemID, Step: "release", Err: err})
		return
	}
	e.log.Info("inventory released", logging.Fields{ItemID: itemID, Step: "release"})
}

// Consume removes qty reserved units from the system on fulfillment.
// Store failure is logged, not raised.
func (e *Engine) Consume(ctx context.Context, itemID string, qty int) {
	if err := e.store.ConsumeReserved(ctx, itemID, qty); err != nil {
		e.log.Error("inventory consume failed", logging.Fields{ItemID: itemID, Step: "consume", Err: err})
		return
	}
	e.log.Info("inventory consumed", logging.Fields{ItemID: itemID, Step: "consume"})
}

// UpdateTotal resizes available stock, keeping reserved units intact.
// A missing record behaves as Initialize.
func (e *Engine) UpdateTotal(ctx context.Context, itemID string, newAvailable int) (Record, error) {
	rec, err := e.store.Get(ctx, itemID)
	if errors.Is(err, ErrNotFound) {
		return e.Initialize(ctx, itemID, newAvailable)
	}
	if err != nil {
		return Record{}, err
	}
	rec.Available = newAvailable
	rec.Total = newAvailable + rec.Reserved
	rec.LastUpdated = e.now().UTC()
	if err := e.store.Put(ctx, rec); err != nil {
		return Record{}, err
	}
	e.log.Info("inventory resized", logging.Fields{ItemID: itemID, Step: "update_total"})
	return rec, nil
}

// Get returns the counter row for one item.
func (e *Engine) Get(ctx context.Context, itemID string) (Record, error) {
	return e.store.Get(ctx, itemID)
}
