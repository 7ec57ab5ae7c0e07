package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/peteski22/shopbridge/internal/model"
	"github.com/peteski22/shopbridge/internal/relation"
)

// dryRunOrderTarget wraps an OrderTarget and logs writes instead of executing them.
type dryRunOrderTarget struct {
	OrderTarget

	counter atomic.Uint64
	logger  *slog.Logger
}

// NewDryRunOrderTarget returns an OrderTarget whose reads hit target and whose writes are only logged.
func NewDryRunOrderTarget(target OrderTarget, logger *slog.Logger) OrderTarget {
	return &dryRunOrderTarget{OrderTarget: target, logger: orDefault(logger)}
}

// SaveOrders logs what would be saved and echoes the orders, with fake ids for new ones.
func (d *dryRunOrderTarget) SaveOrders(_ context.Context, orders []model.Order) ([]model.Order, error) {
	saved := make([]model.Order, len(orders))
	for i, o := range orders {
		if o.ID == "" {
			o.ID = fmt.Sprintf("dry-run-order-%d", d.counter.Add(1))
			d.logger.Info("[DRY-RUN] would create order",
				"fake_id", o.ID,
				"external_code", o.ExternalCode,
				"name", o.Name,
				"status", o.Status,
				"positions", len(o.Positions))
		} else {
			d.logger.Info("[DRY-RUN] would update order",
				"target_id", o.ID,
				"status", o.Status,
				"positions", len(o.Positions))
		}
		saved[i] = o
	}
	return saved, nil
}

// dryRunStockTarget wraps a StockTarget and logs writes instead of executing them.
type dryRunStockTarget struct {
	StockTarget

	logger *slog.Logger
}

// NewDryRunStockTarget returns a StockTarget whose reads hit target and whose writes are only logged.
func NewDryRunStockTarget(target StockTarget, logger *slog.Logger) StockTarget {
	return &dryRunStockTarget{StockTarget: target, logger: orDefault(logger)}
}

// UpdateStocks logs what would be written and echoes the rows.
func (d *dryRunStockTarget) UpdateStocks(_ context.Context, stocks []model.Stock) ([]model.Stock, error) {
	for _, st := range stocks {
		d.logger.Info("[DRY-RUN] would update stock",
			"article", st.Article,
			"warehouse_id", st.WarehouseID,
			"quantity", st.Quantity)
	}
	return stocks, nil
}

// dryRunPriceTarget wraps a PriceTarget and logs writes instead of executing them.
type dryRunPriceTarget struct {
	PriceTarget

	logger *slog.Logger
}

// NewDryRunPriceTarget returns a PriceTarget whose reads hit target and whose writes are only logged.
func NewDryRunPriceTarget(target PriceTarget, logger *slog.Logger) PriceTarget {
	return &dryRunPriceTarget{PriceTarget: target, logger: orDefault(logger)}
}

// UpdateProductPrices logs what would be written and echoes the prices.
func (d *dryRunPriceTarget) UpdateProductPrices(_ context.Context, prices []model.ProductPrices) ([]model.ProductPrices, error) {
	for _, p := range prices {
		for _, price := range p.Prices {
			d.logger.Info("[DRY-RUN] would update price",
				"article", p.Article,
				"price_id", price.ID,
				"value", price.Value.String())
		}
	}
	return prices, nil
}

// dryRunRepository wraps a relation.Repository and logs writes instead of executing them.
type dryRunRepository struct {
	relation.Repository

	logger *slog.Logger
}

// NewDryRunRepository returns a relation.Repository whose lookups hit repo and whose writes are only logged.
func NewDryRunRepository(repo relation.Repository, logger *slog.Logger) relation.Repository {
	return &dryRunRepository{Repository: repo, logger: orDefault(logger)}
}

// Create logs the relation that would be recorded.
func (d *dryRunRepository) Create(_ context.Context, r relation.Relation) (bool, error) {
	d.logger.Info("[DRY-RUN] would record relation",
		"source_id", r.SourceID,
		"target_id", r.TargetID)
	return true, nil
}

// Destroy logs the relation that would be removed.
func (d *dryRunRepository) Destroy(_ context.Context, r relation.Relation) (bool, error) {
	d.logger.Info("[DRY-RUN] would remove relation",
		"source_id", r.SourceID,
		"target_id", r.TargetID)
	return true, nil
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
