package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// defaultSyncDays is how far back the first order sync reaches.
const defaultSyncDays = -30

// Config holds the configuration for creating a Service.
// Each kind is enabled by providing both its source and its target.
type Config struct {
	// ChunkSize is the number of values sent per target call. Zero uses the batch default.
	ChunkSize int

	// DryRun wraps every target so that writes are logged instead of executed.
	DryRun bool

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// OrderOptions controls order runs. Since is taken from the state store.
	OrderOptions OrderOptions

	// OrderSource provides orders.
	OrderSource OrderSource

	// OrderTarget receives orders.
	OrderTarget OrderTarget

	// PriceOptions controls price runs.
	PriceOptions PriceOptions

	// PriceSource provides product prices.
	PriceSource PriceSource

	// PriceTarget receives product prices.
	PriceTarget PriceTarget

	// SinceOverride optionally overrides the order checkpoint.
	SinceOverride *time.Time

	// StateStore keeps checkpoints between runs.
	StateStore StateStore

	// StockOptions controls stock runs.
	StockOptions StockOptions

	// StockSource provides stock levels.
	StockSource StockSource

	// StockTarget receives stock levels.
	StockTarget StockTarget
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.StateStore == nil {
		errs = append(errs, errors.New("state store is required"))
	}
	if (c.OrderSource == nil) != (c.OrderTarget == nil) {
		errs = append(errs, errors.New("order source and target must be set together"))
	}
	if c.OrderSource != nil && c.OrderOptions.Repository == nil {
		errs = append(errs, errors.New("order relation repository is required"))
	}
	if (c.StockSource == nil) != (c.StockTarget == nil) {
		errs = append(errs, errors.New("stock source and target must be set together"))
	}
	if (c.PriceSource == nil) != (c.PriceTarget == nil) {
		errs = append(errs, errors.New("price source and target must be set together"))
	}
	if c.OrderSource == nil && c.StockSource == nil && c.PriceSource == nil {
		errs = append(errs, errors.New("at least one of orders, stocks or prices must be configured"))
	}
	return errors.Join(errs...)
}

// Service runs the synchronizers of every configured kind and keeps the order checkpoint.
type Service struct {
	dryRun        bool
	logger        *slog.Logger
	orderOptions  OrderOptions
	orders        *OrdersSynchronizer
	priceOptions  PriceOptions
	prices        *PricesSynchronizer
	sinceOverride *time.Time
	stateStore    StateStore
	stockOptions  StockOptions
	stocks        *StocksSynchronizer
}

// New creates a new sync orchestration service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := orDefault(cfg.Logger)

	s := &Service{
		dryRun:        cfg.DryRun,
		logger:        logger,
		orderOptions:  cfg.OrderOptions,
		priceOptions:  cfg.PriceOptions,
		sinceOverride: cfg.SinceOverride,
		stateStore:    cfg.StateStore,
		stockOptions:  cfg.StockOptions,
	}

	if cfg.OrderSource != nil {
		target := cfg.OrderTarget
		if cfg.DryRun {
			target = NewDryRunOrderTarget(target, logger)
			s.orderOptions.Repository = NewDryRunRepository(s.orderOptions.Repository, logger)
		}
		orders, err := NewOrdersSynchronizer(OrdersConfig{
			ChunkSize: cfg.ChunkSize,
			Logger:    logger,
			Source:    cfg.OrderSource,
			Target:    target,
		})
		if err != nil {
			return nil, err
		}
		s.orders = orders
	}

	if cfg.StockSource != nil {
		target := cfg.StockTarget
		if cfg.DryRun {
			target = NewDryRunStockTarget(target, logger)
		}
		stocks, err := NewStocksSynchronizer(StocksConfig{
			ChunkSize: cfg.ChunkSize,
			Logger:    logger,
			Source:    cfg.StockSource,
			Target:    target,
		})
		if err != nil {
			return nil, err
		}
		s.stocks = stocks
	}

	if cfg.PriceSource != nil {
		target := cfg.PriceTarget
		if cfg.DryRun {
			target = NewDryRunPriceTarget(target, logger)
		}
		prices, err := NewPricesSynchronizer(PricesConfig{
			ChunkSize: cfg.ChunkSize,
			Logger:    logger,
			Source:    cfg.PriceSource,
			Target:    target,
		})
		if err != nil {
			return nil, err
		}
		s.prices = prices
	}

	return s, nil
}

// Run synchronizes the given kinds in order, or every configured kind when none are given.
// A failing kind does not stop the others; their errors are joined.
func (s *Service) Run(ctx context.Context, kinds ...Kind) ([]*Result, error) {
	if len(kinds) == 0 {
		kinds = s.configured()
	}

	var (
		errs    []error
		results []*Result
	)

	for _, kind := range kinds {
		result, err := s.run(ctx, kind)
		if result != nil {
			result.DryRun = s.dryRun
			results = append(results, result)
		}
		if err != nil {
			s.logger.Error("sync failed", "kind", kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}

	return results, errors.Join(errs...)
}

func (s *Service) run(ctx context.Context, kind Kind) (*Result, error) {
	startedAt := time.Now()

	var (
		result *Result
		err    error
	)

	switch kind {
	case KindOrders:
		if s.orders == nil {
			return nil, errors.New("orders are not configured")
		}

		opts := s.orderOptions
		opts.Since, err = s.since(ctx)
		if err != nil {
			return nil, err
		}

		s.logger.Info("starting order sync", "since", opts.Since, "dry_run", s.dryRun)
		result, err = s.orders.Synchronize(ctx, opts)
	case KindStocks:
		if s.stocks == nil {
			return nil, errors.New("stocks are not configured")
		}

		s.logger.Info("starting stock sync", "dry_run", s.dryRun)
		result, err = s.stocks.Synchronize(ctx, s.stockOptions)
	case KindPrices:
		if s.prices == nil {
			return nil, errors.New("prices are not configured")
		}

		s.logger.Info("starting price sync", "dry_run", s.dryRun)
		result, err = s.prices.Synchronize(ctx, s.priceOptions)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	if err != nil {
		return result, err
	}

	// Only the order fetch is bounded by a checkpoint. Stocks and prices are full snapshots.
	if !s.dryRun && kind == KindOrders {
		if err := s.stateStore.SetLastSyncTime(ctx, string(kind), startedAt); err != nil {
			return result, fmt.Errorf("updating last sync time: %w", err)
		}
	}

	return result, nil
}

// since returns the lower bound of the order fetch.
func (s *Service) since(ctx context.Context) (time.Time, error) {
	if s.sinceOverride != nil {
		s.logger.Info("using override sync time", "since", *s.sinceOverride)
		return *s.sinceOverride, nil
	}

	since, err := s.stateStore.LastSyncTime(ctx, string(KindOrders))
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last sync time: %w", err)
	}

	if since.IsZero() {
		since = time.Now().AddDate(0, 0, defaultSyncDays)
		s.logger.Info("initial sync detected", "since", since)
	}

	return since, nil
}

func (s *Service) configured() []Kind {
	var kinds []Kind
	for _, k := range Kinds {
		switch {
		case k == KindOrders && s.orders != nil,
			k == KindStocks && s.stocks != nil,
			k == KindPrices && s.prices != nil:
			kinds = append(kinds, k)
		}
	}
	return kinds
}
