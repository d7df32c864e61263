// Package inventory holds per-item stock counters and the atomic
// conditional reserve used by checkout. The invariant for every record is
// available + reserved == total, with available never below zero.
package inventory

import "time"

type StockStatus string

const (
	StockStatusInStock    StockStatus = "IN_STOCK"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

const lowStockThreshold = 10

// Record is the stock counter row for one item.
type Record struct {
	ItemID      string    `json:"itemId"`
	Available   int       `json:"availableUnits"`
	Reserved    int       `json:"reservedUnits"`
	Total       int       `json:"totalUnits"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Status derives the stock level from available units.
func (r Record) Status() StockStatus {
	switch {
	case r.Available <= 0:
		return StockStatusOutOfStock
	case r.Available <= lowStockThreshold:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}
