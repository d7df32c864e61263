package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nazeru/shop-lab-go/pkg/logging"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	condErr error
	adjErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (f *fakeStore) Put(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ItemID] = rec
	return nil
}

func (f *fakeStore) Get(ctx context.Context, itemID string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[itemID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) ConditionalReserve(ctx context.Context, itemID string, qty int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.condErr != nil {
		return false, f.condErr
	}
	rec, ok := f.records[itemID]
	if !ok || rec.Available < qty {
		return false, nil
	}
	rec.Available -= qty
	rec.Reserved += qty
	f.records[itemID] = rec
	return true, nil
}

func (f *fakeStore) ReleaseReserved(ctx context.Context, itemID string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjErr != nil {
		return f.adjErr
	}
	rec, ok := f.records[itemID]
	if !ok || rec.Reserved < qty {
		return ErrNotFound
	}
	rec.Available += qty
	rec.Reserved -= qty
	f.records[itemID] = rec
	return nil
}

func (f *fakeStore) ConsumeReserved(ctx context.Context, itemID string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjErr != nil {
		return f.adjErr
	}
	rec, ok := f.records[itemID]
	if !ok {
		return ErrNotFound
	}
	rec.Reserved -= qty
	rec.Total -= qty
	f.records[itemID] = rec
	return nil
}

func TestInitializeSetsCounters(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())

	rec, err := engine.Initialize(context.Background(), "I1", 25)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rec.Available != 25 || rec.Reserved != 0 || rec.Total != 25 {
		t.Fatalf("unexpected counters: %+v", rec)
	}
}

func TestInitializeOverwritesExisting(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())

	if _, err := engine.Initialize(context.Background(), "I1", 5); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	engine.Reserve(context.Background(), "I1", 2)

	rec, err := engine.Initialize(context.Background(), "I1", 9)
	if err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	if rec.Available != 9 || rec.Reserved != 0 || rec.Total != 9 {
		t.Fatalf("re-initialize should overwrite, got %+v", rec)
	}
}

func TestReserveMovesUnits(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())
	_, _ = engine.Initialize(context.Background(), "I1", 5)

	if !engine.Reserve(context.Background(), "I1", 2) {
		t.Fatal("reserve should succeed")
	}
	rec, _ := engine.Get(context.Background(), "I1")
	if rec.Available != 3 || rec.Reserved != 2 || rec.Total != 5 {
		t.Fatalf("unexpected counters after reserve: %+v", rec)
	}
}

func TestReserveInsufficientStockLeavesCountersUnchanged(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())
	_, _ = engine.Initialize(context.Background(), "I2", 4)

	if engine.Reserve(context.Background(), "I2", 10) {
		t.Fatal("reserve should fail for insufficient stock")
	}
	rec, _ := engine.Get(context.Background(), "I2")
	if rec.Available != 4 || rec.Reserved != 0 || rec.Total != 4 {
		t.Fatalf("counters must be unchanged, got %+v", rec)
	}
}

func TestReserveStoreErrorReturnsFalse(t *testing.T) {
	store := newFakeStore()
	store.records["I1"] = Record{ItemID: "I1", Available: 5, Total: 5}
	store.condErr = errors.New("store down")
	engine := NewEngine(store, logging.Nop())

	if engine.Reserve(context.Background(), "I1", 1) {
		t.Fatal("reserve must surface store failure as false")
	}
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())
	_, _ = engine.Initialize(context.Background(), "hot", 1)

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- engine.Reserve(context.Background(), "hot", 1)
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("exactly one caller must win the last unit, got %d", won)
	}
	rec, _ := engine.Get(context.Background(), "hot")
	if rec.Available != 0 || rec.Reserved != 1 {
		t.Fatalf("unexpected counters: %+v", rec)
	}
	if rec.Available < 0 {
		t.Fatal("available must never go negative")
	}
}

func TestReleaseAndConsume(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())
	_, _ = engine.Initialize(context.Background(), "I1", 10)
	engine.Reserve(context.Background(), "I1", 4)

	engine.Release(context.Background(), "I1", 1)
	rec, _ := engine.Get(context.Background(), "I1")
	if rec.Reserved != 3 || rec.Available != 7 || rec.Total != 10 {
		t.Fatalf("unexpected counters after release: %+v", rec)
	}

	engine.Consume(context.Background(), "I1", 3)
	rec, _ = engine.Get(context.Background(), "I1")
	if rec.Reserved != 0 || rec.Total != 7 {
		t.Fatalf("unexpected counters after consume: %+v", rec)
	}
}

func TestReleaseStoreFailureDoesNotPanic(t *testing.T) {
	store := newFakeStore()
	store.adjErr = errors.New("store down")
	engine := NewEngine(store, logging.Nop())

	// Best-effort path: must log and return, never raise.
	engine.Release(context.Background(), "I1", 1)
	engine.Consume(context.Background(), "I1", 1)
}

func TestUpdateTotalResizesKeepingReserved(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())
	_, _ = engine.Initialize(context.Background(), "I1", 10)
	engine.Reserve(context.Background(), "I1", 4)

	rec, err := engine.UpdateTotal(context.Background(), "I1", 20)
	if err != nil {
		t.Fatalf("update total: %v", err)
	}
	if rec.Available != 20 || rec.Reserved != 4 || rec.Total != 24 {
		t.Fatalf("unexpected counters after resize: %+v", rec)
	}
}

func TestUpdateTotalMissingRecordInitializes(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, logging.Nop())

	rec, err := engine.UpdateTotal(context.Background(), "new", 7)
	if err != nil {
		t.Fatalf("update total: %v", err)
	}
	if rec.Available != 7 || rec.Reserved != 0 || rec.Total != 7 {
		t.Fatalf("expected initialize semantics, got %+v", rec)
	}
}

func TestStockStatus(t *testing.T) {
	tests := []struct {
		available int
		want      StockStatus
	}{
		{0, StockStatusOutOfStock},
		{-1, StockStatusOutOfStock},
		{1, StockStatusLowStock},
		{10, StockStatusLowStock},
		{11, StockStatusInStock},
	}
	for _, tc := range tests {
		got := Record{Available: tc.available}.Status()
		if got != tc.want {
			t.Errorf("available=%d: got %s, want %s", tc.available, got, tc.want)
		}
	}
}
