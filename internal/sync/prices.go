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

// PriceRelation maps a source price type onto a target price type.
type PriceRelation struct {
	// Source is the source price type id.
	Source string

	// Target is the target price type id.
	Target string
}

// PriceOptions controls one price synchronization run.
type PriceOptions struct {
	// DoUpdate enables writing prices to the target.
	DoUpdate bool

	// Relations lists the price types to copy. Unlisted price types are never sent.
	Relations []PriceRelation

	// Throw makes Synchronize return the joined per-product errors.
	Throw bool
}

// PricesConfig holds the collaborators of a PricesSynchronizer.
type PricesConfig struct {
	// ChunkSize is the number of values sent per target call. Zero uses the batch default.
	ChunkSize int

	// Logger is the structured logger.
	Logger *slog.Logger

	// Source provides the product prices.
	Source PriceSource

	// Target receives the product prices.
	Target PriceTarget
}

func (c *PricesConfig) validate() error {
	var errs []error
	if c.Source == nil {
		errs = append(errs, errors.New("price source is required"))
	}
	if c.Target == nil {
		errs = append(errs, errors.New("price target is required"))
	}
	return errors.Join(errs...)
}

// PricesSynchronizer copies mapped price types from source products to target products with the same article.
type PricesSynchronizer struct {
	chunk     []batch.Option
	logger    *slog.Logger
	source    PriceSource
	target    PriceTarget
	validator *validation.Validator
}

// NewPricesSynchronizer creates a PricesSynchronizer.
func NewPricesSynchronizer(cfg PricesConfig) (*PricesSynchronizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PricesSynchronizer{
		chunk:     chunkOptions(cfg.ChunkSize),
		logger:    logger,
		source:    cfg.Source,
		target:    cfg.Target,
		validator: validation.New(),
	}, nil
}

// Synchronize runs one price synchronization.
// Source products without a target counterpart are skipped; a repeated article is a DUPLICATE.
func (s *PricesSynchronizer) Synchronize(ctx context.Context, opts PriceOptions) (*Result, error) {
	result := &Result{Kind: KindPrices}

	products, err := s.source.ProductPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching source prices: %w", err)
	}
	result.Processed = len(products)

	s.logger.Info("fetched source prices", "count", len(products))

	checked := validation.SplitTwoPass(s.validator, batch.Entries(products))
	reject(s.logger, result, checked.Errors())

	sources := make([]model.ProductPrices, len(checked.Valid))
	articles := make([]string, len(checked.Valid))
	for i, e := range checked.Valid {
		sources[i] = e.Value
		articles[i] = e.Value.Article
	}

	items := batch.Lookup(
		ctx,
		articles,
		batch.DispatchFunc[string, []model.ProductPrices](s.target.ProductPricesByArticles),
		extractBy(func(p model.ProductPrices) string { return p.Article }),
		s.chunk...,
	)

	var updates []model.ProductPrices
	for _, item := range items {
		switch {
		case item.OK():
		case item.Err.Type == batch.ErrorTypeNotFound:
			result.Skipped++
			s.logger.Debug("no target product for article", "article", item.Value)
			continue
		default:
			reject(s.logger, result, []error{item.Err})
			continue
		}

		target := item.Entities[0]
		changes := priceChanges(sources[item.Key], target, opts.Relations)
		if len(changes) == 0 {
			result.Unchanged++
			continue
		}

		updates = append(updates, model.ProductPrices{
			Article: target.Article,
			ID:      target.ID,
			Prices:  changes,
		})
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

func (s *PricesSynchronizer) write(ctx context.Context, updates []model.ProductPrices, result *Result) {
	if len(updates) == 0 {
		return
	}

	checked := validation.SplitTwoPass(s.validator, batch.Entries(updates))
	reject(s.logger, result, checked.Errors())

	key := func(p model.ProductPrices) string { return p.Article }

	d := batch.GetByChunks(
		ctx,
		checked.Valid,
		batch.Identity[model.ProductPrices](),
		batch.DispatchFunc[model.ProductPrices, []model.ProductPrices](s.target.UpdateProductPrices),
		s.chunk...,
	)
	items := batch.MapResults(batch.KeyChunks(d.Chunks, key), d.Wait(), extractBy(key))

	for _, item := range items {
		if !item.OK() {
			reject(s.logger, result, []error{item.Err})
			continue
		}

		result.Updated++
		s.logger.Info("updated prices",
			"article", item.Value,
			"prices", len(updates[item.Key].Prices))
	}
}

// priceChanges returns the target prices that differ from their mapped source prices.
func priceChanges(source model.ProductPrices, target model.ProductPrices, relations []PriceRelation) []model.Price {
	var changes []model.Price
	for _, r := range relations {
		price, ok := source.Price(r.Source)
		if !ok {
			continue
		}
		if current, ok := target.Price(r.Target); ok && current.Value.Equal(price.Value) {
			continue
		}
		changes = append(changes, model.Price{ID: r.Target, Value: price.Value})
	}
	return changes
}
