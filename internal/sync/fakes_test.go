package sync

import (
	"context"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"github.com/peteski22/shopbridge/internal/model"
)

// fakeOrderSource returns a fixed set of orders.
type fakeOrderSource struct {
	err    error
	orders []model.Order
	since  time.Time
}

// Orders returns the configured orders.
func (f *fakeOrderSource) Orders(_ context.Context, since time.Time) ([]model.Order, error) {
	f.since = since
	return f.orders, f.err
}

// fakeOrderTarget is an in-memory order system.
type fakeOrderTarget struct {
	mu           stdsync.Mutex
	lookups      map[string]int
	nextID       int
	orders       []model.Order
	productIDErr error
	products     []model.Product
	saveErr      error
	saves        [][]model.Order
}

func (f *fakeOrderTarget) count(op string) {
	if f.lookups == nil {
		f.lookups = make(map[string]int)
	}
	f.lookups[op]++
}

// OrdersByAttribute returns orders whose attribute holds one of values.
func (f *fakeOrderTarget) OrdersByAttribute(_ context.Context, attributeID string, values []string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count("attribute")
	return filter(f.orders, func(o model.Order) bool {
		v, ok := o.Attribute(attributeID)
		return ok && slices.Contains(values, v)
	}), nil
}

// OrdersByExternalCodes returns orders with the given codes.
func (f *fakeOrderTarget) OrdersByExternalCodes(_ context.Context, codes []string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count("external_code")
	return filter(f.orders, func(o model.Order) bool { return slices.Contains(codes, o.ExternalCode) }), nil
}

// OrdersByIDs returns orders with the given ids.
func (f *fakeOrderTarget) OrdersByIDs(_ context.Context, ids []string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count("id")
	return filter(f.orders, func(o model.Order) bool { return slices.Contains(ids, o.ID) }), nil
}

// ProductsByArticles returns products with the given articles.
func (f *fakeOrderTarget) ProductsByArticles(_ context.Context, articles []string) ([]model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count("product_article")
	return filter(f.products, func(p model.Product) bool { return slices.Contains(articles, p.Article) }), nil
}

// ProductsByIDs returns products with the given ids.
func (f *fakeOrderTarget) ProductsByIDs(_ context.Context, ids []string) ([]model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count("product_id")
	if f.productIDErr != nil {
		return nil, f.productIDErr
	}
	return filter(f.products, func(p model.Product) bool { return slices.Contains(ids, p.ID) }), nil
}

// SaveOrders creates orders without an id and applies the set fields of the others.
func (f *fakeOrderTarget) SaveOrders(_ context.Context, orders []model.Order) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves = append(f.saves, slices.Clone(orders))
	if f.saveErr != nil {
		return nil, f.saveErr
	}

	saved := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.ID == "" {
			f.nextID++
			o.ID = fmt.Sprintf("T%d", f.nextID)
			f.orders = append(f.orders, o)
			saved = append(saved, o)
			continue
		}

		i := slices.IndexFunc(f.orders, func(existing model.Order) bool { return existing.ID == o.ID })
		if i < 0 {
			continue
		}
		if o.Status != "" {
			f.orders[i].Status = o.Status
		}
		if o.Positions != nil {
			f.orders[i].Positions = o.Positions
		}
		saved = append(saved, f.orders[i])
	}

	return saved, nil
}

func (f *fakeOrderTarget) lookupCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lookups[op]
}

func (f *fakeOrderTarget) order(id string) (model.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := slices.IndexFunc(f.orders, func(o model.Order) bool { return o.ID == id })
	if i < 0 {
		return model.Order{}, false
	}
	return f.orders[i], true
}

// fakeStockSource returns a fixed set of rows.
type fakeStockSource struct {
	rows []model.Stock
}

// Stocks returns the configured rows.
func (f *fakeStockSource) Stocks(_ context.Context) ([]model.Stock, error) {
	return f.rows, nil
}

// fakeStockTarget is an in-memory stock table.
type fakeStockTarget struct {
	mu      stdsync.Mutex
	rows    []model.Stock
	updates [][]model.Stock
}

// StocksByArticles returns every row of the given articles.
func (f *fakeStockTarget) StocksByArticles(_ context.Context, articles []string) ([]model.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return filter(f.rows, func(st model.Stock) bool { return slices.Contains(articles, st.Article) }), nil
}

// UpdateStocks replaces or appends rows.
func (f *fakeStockTarget) UpdateStocks(_ context.Context, stocks []model.Stock) ([]model.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates = append(f.updates, slices.Clone(stocks))
	for _, st := range stocks {
		i := slices.IndexFunc(f.rows, func(r model.Stock) bool {
			return r.Article == st.Article && r.WarehouseID == st.WarehouseID
		})
		if i < 0 {
			f.rows = append(f.rows, st)
			continue
		}
		f.rows[i].Quantity = st.Quantity
	}
	return stocks, nil
}

func (f *fakeStockTarget) quantity(article string, warehouse string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rows {
		if r.Article == article && r.WarehouseID == warehouse {
			return r.Quantity, true
		}
	}
	return 0, false
}

// fakePriceSource returns a fixed set of products.
type fakePriceSource struct {
	products []model.ProductPrices
}

// ProductPrices returns the configured products.
func (f *fakePriceSource) ProductPrices(_ context.Context) ([]model.ProductPrices, error) {
	return f.products, nil
}

// fakePriceTarget is an in-memory price list.
type fakePriceTarget struct {
	mu       stdsync.Mutex
	products []model.ProductPrices
	updates  [][]model.ProductPrices
}

// ProductPricesByArticles returns products with the given articles.
func (f *fakePriceTarget) ProductPricesByArticles(_ context.Context, articles []string) ([]model.ProductPrices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return filter(f.products, func(p model.ProductPrices) bool { return slices.Contains(articles, p.Article) }), nil
}

// UpdateProductPrices applies the given prices.
func (f *fakePriceTarget) UpdateProductPrices(_ context.Context, prices []model.ProductPrices) ([]model.ProductPrices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates = append(f.updates, slices.Clone(prices))
	for _, update := range prices {
		i := slices.IndexFunc(f.products, func(p model.ProductPrices) bool { return p.Article == update.Article })
		if i < 0 {
			continue
		}
		for _, price := range update.Prices {
			j := slices.IndexFunc(f.products[i].Prices, func(p model.Price) bool { return p.ID == price.ID })
			if j < 0 {
				f.products[i].Prices = append(f.products[i].Prices, price)
				continue
			}
			f.products[i].Prices[j].Value = price.Value
		}
	}
	return prices, nil
}

func (f *fakePriceTarget) price(article string, id string) (model.Price, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.products {
		if p.Article == article {
			return p.Price(id)
		}
	}
	return model.Price{}, false
}

func filter[T any](values []T, keep func(T) bool) []T {
	var out []T
	for _, v := range values {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
