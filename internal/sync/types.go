// Package sync reconciles orders, stocks and prices between a source and a target system.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peteski22/shopbridge/internal/model"
)

// Kind names a synchronized entity kind.
type Kind string

const (
	// KindOrders synchronizes customer orders.
	KindOrders Kind = "orders"

	// KindPrices synchronizes product prices.
	KindPrices Kind = "prices"

	// KindStocks synchronizes stock levels.
	KindStocks Kind = "stocks"
)

// Kinds lists every kind in the order a full run processes them.
var Kinds = []Kind{KindOrders, KindStocks, KindPrices}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// Result contains the outcome of one synchronizer run.
type Result struct {
	// Created is the number of target entities created.
	Created int

	// DryRun indicates this was a dry-run (no writes to the target).
	DryRun bool

	// Errors contains every per-entity failure, in the order they were detected.
	Errors []error

	// Kind is the synchronized entity kind.
	Kind Kind

	// Processed is the number of source records read.
	Processed int

	// RelationsCreated is the number of relations recorded.
	RelationsCreated int

	// RelationsDestroyed is the number of stale relations removed.
	RelationsDestroyed int

	// Skipped is the number of records left alone because the action was disabled or had no counterpart.
	Skipped int

	// Unchanged is the number of matched records that already agreed with the source.
	Unchanged int

	// Updated is the number of target entities updated.
	Updated int
}

// Err joins every per-entity failure, or returns nil when there were none.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("synchronizing %s: %d failures: %w", r.Kind, len(r.Errors), errors.Join(r.Errors...))
}

func (r *Result) addErrors(errs ...error) {
	r.Errors = append(r.Errors, errs...)
}

// StateStore keeps the checkpoint of each kind between runs.
type StateStore interface {
	// LastSyncTime returns the checkpoint of kind, or the zero time if there is none.
	LastSyncTime(ctx context.Context, kind string) (time.Time, error)

	// SetLastSyncTime records the checkpoint of kind.
	SetLastSyncTime(ctx context.Context, kind string, t time.Time) error
}

// OrderSource reads orders from the source system.
type OrderSource interface {
	// Orders returns the orders placed or changed since the given time. A zero time means all orders.
	Orders(ctx context.Context, since time.Time) ([]model.Order, error)
}

// OrderTarget is the target side of the order synchronization.
// Every lookup is called with one chunk of values and returns whatever entities match them, in any order.
type OrderTarget interface {
	// OrdersByAttribute returns the orders whose custom field attributeID holds one of values.
	OrdersByAttribute(ctx context.Context, attributeID string, values []string) ([]model.Order, error)

	// OrdersByExternalCodes returns the orders with the given external codes.
	OrdersByExternalCodes(ctx context.Context, codes []string) ([]model.Order, error)

	// OrdersByIDs returns the orders with the given ids.
	OrdersByIDs(ctx context.Context, ids []string) ([]model.Order, error)

	// ProductsByArticles returns the catalog entries with the given articles.
	ProductsByArticles(ctx context.Context, articles []string) ([]model.Product, error)

	// ProductsByIDs returns the catalog entries with the given ids.
	ProductsByIDs(ctx context.Context, ids []string) ([]model.Product, error)

	// SaveOrders creates orders without an ID and updates the others, returning the saved orders.
	SaveOrders(ctx context.Context, orders []model.Order) ([]model.Order, error)
}

// StockSource reads stock levels from the source system.
type StockSource interface {
	// Stocks returns one row per article and warehouse.
	Stocks(ctx context.Context) ([]model.Stock, error)
}

// StockTarget is the target side of the stock synchronization.
type StockTarget interface {
	// StocksByArticles returns every warehouse row of the given articles.
	StocksByArticles(ctx context.Context, articles []string) ([]model.Stock, error)

	// UpdateStocks replaces the quantities of the given rows and returns the rows accepted.
	UpdateStocks(ctx context.Context, stocks []model.Stock) ([]model.Stock, error)
}

// PriceSource reads product prices from the source system.
type PriceSource interface {
	// ProductPrices returns the prices of every product.
	ProductPrices(ctx context.Context) ([]model.ProductPrices, error)
}

// PriceTarget is the target side of the price synchronization.
type PriceTarget interface {
	// ProductPricesByArticles returns the prices of the products with the given articles.
	ProductPricesByArticles(ctx context.Context, articles []string) ([]model.ProductPrices, error)

	// UpdateProductPrices writes the given prices and returns the products accepted.
	UpdateProductPrices(ctx context.Context, prices []model.ProductPrices) ([]model.ProductPrices, error)
}
