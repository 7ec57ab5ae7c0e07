package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/peteski22/shopbridge/internal/config"
	"github.com/peteski22/shopbridge/internal/moysklad"
	"github.com/peteski22/shopbridge/internal/ozon"
	"github.com/peteski22/shopbridge/internal/relation"
	"github.com/peteski22/shopbridge/internal/sync"
)

// runOptions holds the per invocation settings of a sync run.
type runOptions struct {
	// dryRun logs target writes instead of executing them.
	dryRun bool

	// kinds limits the run. Empty runs every kind.
	kinds []sync.Kind

	// since overrides the order checkpoint.
	since *time.Time

	// testKey is stamped on the relations of the run.
	testKey string
}

// dependencies are the environment specific collaborators of a run.
type dependencies struct {
	logger     *slog.Logger
	moySklad   config.MoySklad
	ozon       config.Ozon
	repository relation.Repository
	stateStore sync.StateStore
	tokenStore moysklad.TokenStore
}

// newService wires the MoySklad and Ozon clients into a sync service.
// Orders flow from Ozon to MoySklad; stocks and prices flow from MoySklad to Ozon.
func newService(deps dependencies, mapping config.Mapping, run runOptions) (*sync.Service, error) {
	msOpts := []moysklad.Option{moysklad.WithLogger(deps.logger)}
	if deps.moySklad.BaseURL != "" {
		msOpts = append(msOpts, moysklad.WithBaseURL(deps.moySklad.BaseURL))
	}
	msClient, err := moysklad.NewClient(moysklad.Config{
		Login: deps.moySklad.Login,
		OrderDefaults: moysklad.OrderDefaults{
			AgentID:        deps.moySklad.AgentID,
			OrganizationID: deps.moySklad.OrganizationID,
			StoreID:        deps.moySklad.StoreID,
		},
		Password:   deps.moySklad.Password,
		TokenStore: deps.tokenStore,
	}, msOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating moysklad client: %w", err)
	}

	ozonOpts := []ozon.Option{ozon.WithLogger(deps.logger)}
	if deps.ozon.BaseURL != "" {
		ozonOpts = append(ozonOpts, ozon.WithBaseURL(deps.ozon.BaseURL))
	}
	ozonClient, err := ozon.NewClient(ozon.Config{
		APIKey:   deps.ozon.APIKey,
		ClientID: deps.ozon.ClientID,
	}, ozonOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating ozon client: %w", err)
	}

	svc, err := sync.New(sync.Config{
		ChunkSize:     mapping.ChunkSize,
		DryRun:        run.dryRun,
		Logger:        deps.logger,
		OrderOptions:  orderOptions(mapping.Orders, deps.repository, run.testKey),
		OrderSource:   ozonClient,
		OrderTarget:   msClient,
		PriceOptions:  priceOptions(mapping.Prices),
		PriceSource:   msClient,
		PriceTarget:   ozonClient,
		SinceOverride: run.since,
		StateStore:    deps.stateStore,
		StockOptions:  stockOptions(mapping.Stocks),
		StockSource:   msClient,
		StockTarget:   ozonClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sync service: %w", err)
	}

	return svc, nil
}

// orderOptions fails the run on any order error so the checkpoint is not advanced past it.
func orderOptions(m config.OrderMapping, repository relation.Repository, testKey string) sync.OrderOptions {
	opts := sync.OrderOptions{
		Additional: m.Additional,
		DoCreate:   m.Create,
		DoUpdate:   m.Update,
		Repository: repository,
		TestKey:    testKey,
		Throw:      true,
	}
	for _, source := range config.SortedKeys(m.Statuses) {
		opts.Status = append(opts.Status, sync.StatusMapping{Source: source, Target: m.Statuses[source]})
	}
	return opts
}

func priceOptions(m config.PriceMapping) sync.PriceOptions {
	opts := sync.PriceOptions{DoUpdate: m.Update}
	for _, source := range config.SortedKeys(m.Types) {
		opts.Relations = append(opts.Relations, sync.PriceRelation{Source: source, Target: m.Types[source]})
	}
	return opts
}

func stockOptions(m config.StockMapping) sync.StockOptions {
	opts := sync.StockOptions{
		DefaultWarehouse: m.DefaultWarehouse,
		DoUpdate:         m.Update,
	}
	for _, target := range config.SortedKeys(m.Warehouses) {
		opts.Relations = append(opts.Relations, sync.WarehouseRelation{Source: m.Warehouses[target], Target: target})
	}
	return opts
}
