package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/peteski22/shopbridge/internal/batch"
	"github.com/peteski22/shopbridge/internal/model"
	"github.com/peteski22/shopbridge/internal/validation"
)

// WarehouseRelation folds one or more source warehouses into a target warehouse.
type WarehouseRelation struct {
	// Source lists the source warehouse ids.
	Source []string

	// Target is the target warehouse id.
	Target string
}

// StockOptions controls one stock synchronization run.
type StockOptions struct {
	// DefaultWarehouse receives the stock of unmapped source warehouses. Empty drops it.
	DefaultWarehouse string

	// DoUpdate enables writing quantities to the target.
	DoUpdate bool

	// Relations maps source warehouses onto target warehouses.
	Relations []WarehouseRelation

	// Throw makes Synchronize return the joined per-article errors.
	Throw bool
}

// StocksConfig holds the collaborators of a StocksSynchronizer.
type StocksConfig struct {
	// ChunkSize is the number of values sent per target call. Zero uses the batch default.
	ChunkSize int

	// Logger is the structured logger.
	Logger *slog.Logger

	// Source provides the stock levels.
	Source StockSource

	// Target receives the stock levels.
	Target StockTarget
}

func (c *StocksConfig) validate() error {
	var errs []error
	if c.Source == nil {
		errs = append(errs, errors.New("stock source is required"))
	}
	if c.Target == nil {
		errs = append(errs, errors.New("stock target is required"))
	}
	return errors.Join(errs...)
}

// StocksSynchronizer replaces target stock levels with the aggregated source quantities.
type StocksSynchronizer struct {
	chunk     []batch.Option
	logger    *slog.Logger
	source    StockSource
	target    StockTarget
	validator *validation.Validator
}

// stockKey identifies one aggregated quantity.
type stockKey struct {
	article   string
	warehouse string
}

// NewStocksSynchronizer creates a StocksSynchronizer.
func NewStocksSynchronizer(cfg StocksConfig) (*StocksSynchronizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StocksSynchronizer{
		chunk:     chunkOptions(cfg.ChunkSize),
		logger:    logger,
		source:    cfg.Source,
		target:    cfg.Target,
		validator: validation.New(),
	}, nil
}

// Synchronize runs one stock synchronization.
func (s *StocksSynchronizer) Synchronize(ctx context.Context, opts StockOptions) (*Result, error) {
	result := &Result{Kind: KindStocks}

	rows, err := s.source.Stocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching source stocks: %w", err)
	}
	result.Processed = len(rows)

	s.logger.Info("fetched source stocks", "count", len(rows))

	checked := validation.SplitTwoPass(s.validator, batch.Entries(rows))
	reject(s.logger, result, checked.Errors())

	keys, totals := s.aggregate(checked.Valid, opts)

	articles := make([]string, len(keys))
	for i, k := range keys {
		articles[i] = k.article
	}

	items := batch.Lookup(
		ctx,
		distinct(articles),
		batch.DispatchFunc[string, []model.Stock](s.target.StocksByArticles),
		extractBy(func(st model.Stock) string { return st.Article }),
		s.chunk...,
	)

	targetRows := make(map[string][]model.Stock, len(items))
	for _, item := range items {
		if !item.OK() {
			reject(s.logger, result, []error{item.Err})
			continue
		}
		targetRows[item.Value] = item.Entities
	}

	var updates []model.Stock
	for _, k := range keys {
		existing, ok := targetRows[k.article]
		if !ok {
			continue
		}

		quantity := totals[k]
		update := model.Stock{Article: k.article, Quantity: quantity, WarehouseID: k.warehouse}

		if row, found := findWarehouse(existing, k.warehouse); found {
			if row.Quantity == quantity {
				result.Unchanged++
				continue
			}
			update.ID = row.ID
		}

		updates = append(updates, update)
	}

	if !opts.DoUpdate {
		result.Skipped += len(updates)
	} else {
		s.write(ctx, updates, result)
	}

	logResult(s.logger, result)

	if opts.Throw {
		if err := result.Err(); err != nil {
			return result, err
		}
	}

	return result, nil
}

// aggregate sums the quantities of every row folding into the same article and target warehouse.
// Keys are returned in first-seen order.
func (s *StocksSynchronizer) aggregate(rows []batch.Entry[model.Stock], opts StockOptions) ([]stockKey, map[stockKey]int64) {
	warehouses := make(map[string]string)
	for _, r := range opts.Relations {
		for _, src := range r.Source {
			warehouses[src] = r.Target
		}
	}

	var keys []stockKey
	totals := make(map[stockKey]int64)

	for _, e := range rows {
		row := e.Value

		target, ok := warehouses[row.WarehouseID]
		if !ok {
			target = opts.DefaultWarehouse
		}
		if target == "" {
			s.logger.Debug("dropping stock of unmapped warehouse",
				"article", row.Article,
				"warehouse_id", row.WarehouseID)
			continue
		}

		k := stockKey{article: row.Article, warehouse: target}
		if _, seen := totals[k]; !seen {
			keys = append(keys, k)
		}
		totals[k] += row.Quantity
	}

	return keys, totals
}

func (s *StocksSynchronizer) write(ctx context.Context, updates []model.Stock, result *Result) {
	if len(updates) == 0 {
		return
	}

	checked := validation.SplitTwoPass(s.validator, batch.Entries(updates))
	reject(s.logger, result, checked.Errors())

	d := batch.GetByChunks(
		ctx,
		checked.Valid,
		batch.Identity[model.Stock](),
		batch.DispatchFunc[model.Stock, []model.Stock](s.target.UpdateStocks),
		s.chunk...,
	)
	items := batch.MapResults(batch.KeyChunks(d.Chunks, stockRowKey), d.Wait(), extractBy(stockRowKey))

	for _, item := range items {
		if !item.OK() {
			reject(s.logger, result, []error{item.Err})
			continue
		}

		u := updates[item.Key]
		result.Updated++
		s.logger.Info("updated stock",
			"article", u.Article,
			"warehouse_id", u.WarehouseID,
			"quantity", u.Quantity)
	}
}

func findWarehouse(rows []model.Stock, warehouse string) (model.Stock, bool) {
	for _, r := range rows {
		if r.WarehouseID == warehouse {
			return r, true
		}
	}
	return model.Stock{}, false
}

func stockRowKey(st model.Stock) string {
	return st.Article + "\x00" + st.WarehouseID
}
