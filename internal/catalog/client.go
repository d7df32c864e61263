// Package catalog is the client side of the item service boundary. Order
// creation treats any failure here as a hard failure.
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/shop-lab-go/pkg/errs"
)

// Item is the point-in-time price and stock snapshot for one catalog item.
// Stock here is a creation-time check only, not a reservation.
type Item struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	ImageURL string          `json:"imageUrl"`
}

// Lookup is what the order workflow needs from the catalog.
type Lookup interface {
	GetItems(ctx context.Context, ids []string) ([]Item, error)
}

// Client fetches item snapshots over HTTP in one batch call.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type batchEnvelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      []Item `json:"data"`
	ErrorCode string `json:"errorCode"`
}

func (c *Client) GetItems(ctx context.Context, ids []string) ([]Item, error) {
	u := c.baseURL + "/api/items/batch?ids=" + url.QueryEscape(strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeItemServiceUnavailable, "item service request failed")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeItemServiceUnavailable, "item service unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.CodeItemServiceUnavailable, "item service returned status %d", resp.StatusCode)
	}
	var env batchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errs.Wrap(err, errs.CodeItemServiceUnavailable, "item service response malformed")
	}
	if !env.Success {
		return nil, errs.New(errs.CodeItemServiceUnavailable, "item service error: %s", env.Message)
	}
	return env.Data, nil
}

var _ Lookup = (*Client)(nil)

// IndexByID keys a snapshot batch by item id for lookup during order
// assembly.
func IndexByID(items []Item) map[string]Item {
	out := make(map[string]Item, len(items))
	for _, it := range items {
		out[it.ItemID] = it
	}
	return out
}
