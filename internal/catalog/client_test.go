package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nazeru/shop-lab-go/pkg/errs"
)

func TestGetItemsDecodesBatch(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("ids")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"data": [
				{"itemId": "sku-1", "name": "Widget", "price": "19.99", "stock": 5},
				{"itemId": "sku-2", "name": "Gadget", "price": "4.50", "stock": 0}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	items, err := c.GetItems(context.Background(), []string{"sku-1", "sku-2"})
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if gotPath != "/api/items/batch" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "sku-1,sku-2" {
		t.Errorf("ids query = %q", gotQuery)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ItemID != "sku-1" || items[0].Price.String() != "19.99" {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Stock != 0 {
		t.Errorf("second item stock = %d, want 0", items[1].Stock)
	}
}

func TestGetItemsServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.GetItems(context.Background(), []string{"sku-1"}); !errs.HasCode(err, errs.CodeItemServiceUnavailable) {
		t.Fatalf("err = %v, want ITEM_SERVICE_UNAVAILABLE", err)
	}
}

func TestGetItemsFailureEnvelopeIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "message": "catalog down", "errorCode": "ITEM_SERVICE_ERROR"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.GetItems(context.Background(), []string{"sku-1"}); !errs.HasCode(err, errs.CodeItemServiceUnavailable) {
		t.Fatalf("err = %v, want ITEM_SERVICE_UNAVAILABLE", err)
	}
}

func TestGetItemsConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.GetItems(context.Background(), []string{"sku-1"}); !errs.HasCode(err, errs.CodeItemServiceUnavailable) {
		t.Fatalf("err = %v, want ITEM_SERVICE_UNAVAILABLE", err)
	}
}

func TestIndexByID(t *testing.T) {
	idx := IndexByID([]Item{{ItemID: "a"}, {ItemID: "b"}})
	if len(idx) != 2 {
		t.Fatalf("got %d entries, want 2", len(idx))
	}
	if _, ok := idx["b"]; !ok {
		t.Error("missing entry for b")
	}
}
