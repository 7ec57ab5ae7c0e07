package main

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/shopbridge/internal/config"
	"github.com/peteski22/shopbridge/internal/storage"
	"github.com/peteski22/shopbridge/internal/sync"
)

func TestOrderOptions(t *testing.T) {
	t.Parallel()

	repo := storage.NewMemoryRelationStore()

	opts := orderOptions(config.OrderMapping{
		Additional: "attr-posting",
		Create:     true,
		Statuses:   map[string]string{"delivering": "st-sent", "awaiting_packaging": "st-new"},
	}, repo, "key-1")

	require.Equal(t, "attr-posting", opts.Additional)
	require.True(t, opts.DoCreate)
	require.False(t, opts.DoUpdate)
	require.Same(t, repo, opts.Repository)
	require.Equal(t, "key-1", opts.TestKey)
	require.True(t, opts.Throw)
	require.Equal(t, []sync.StatusMapping{
		{Source: "awaiting_packaging", Target: "st-new"},
		{Source: "delivering", Target: "st-sent"},
	}, opts.Status)
}

func TestStockOptions(t *testing.T) {
	t.Parallel()

	opts := stockOptions(config.StockMapping{
		DefaultWarehouse: "501",
		Update:           true,
		Warehouses:       map[string][]string{"502": {"store-3"}, "501": {"store-1", "store-2"}},
	})

	require.Equal(t, sync.StockOptions{
		DefaultWarehouse: "501",
		DoUpdate:         true,
		Relations: []sync.WarehouseRelation{
			{Source: []string{"store-1", "store-2"}, Target: "501"},
			{Source: []string{"store-3"}, Target: "502"},
		},
	}, opts)
}

func TestPriceOptions(t *testing.T) {
	t.Parallel()

	opts := priceOptions(config.PriceMapping{Types: map[string]string{"pt-sale": "old_price", "pt-retail": "price"}})

	require.Equal(t, sync.PriceOptions{
		Relations: []sync.PriceRelation{
			{Source: "pt-retail", Target: "price"},
			{Source: "pt-sale", Target: "old_price"},
		},
	}, opts)
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		args        []string
		errMsg      string
		wantErr     bool
		wantRun     runOptions
		wantVerbose bool
	}{
		"no flags": {
			args: nil,
		},
		"all flags": {
			args:        []string{"--dry-run", "--kind", "orders, prices", "--since=2024-01-01T00:00:00Z", "--verbose"},
			wantRun:     runOptions{dryRun: true, kinds: []sync.Kind{sync.KindOrders, sync.KindPrices}, since: &since},
			wantVerbose: true,
		},
		"unknown kind": {
			args:    []string{"--kind=refunds"},
			wantErr: true,
			errMsg:  `unknown kind "refunds"`,
		},
		"invalid since": {
			args:    []string{"--since=yesterday"},
			wantErr: true,
			errMsg:  "invalid since",
		},
		"unknown flag": {
			args:    []string{"--force"},
			wantErr: true,
			errMsg:  "parsing flags",
		},
		"unknown command": {
			args:    []string{"migrate"},
			wantErr: true,
			errMsg:  `unknown command "migrate"`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			run, verbose, err := parseFlags(tc.args)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantRun, run)
			require.Equal(t, tc.wantVerbose, verbose)
		})
	}
}

func TestNewService(t *testing.T) {
	t.Parallel()

	deps := func() dependencies {
		return dependencies{
			logger:     slog.New(slog.DiscardHandler),
			moySklad:   config.MoySklad{AgentID: "agent-1", OrganizationID: "org-1"},
			ozon:       config.Ozon{APIKey: "key", ClientID: "42"},
			repository: storage.NewMemoryRelationStore(),
			stateStore: storage.NewNoopStateStore(time.Time{}),
			tokenStore: &storage.FileTokenStore{},
		}
	}

	tests := map[string]struct {
		errMsg  string
		modify  func(d *dependencies)
		wantErr bool
	}{
		"valid dependencies": {},
		"invalid moysklad settings": {
			modify:  func(d *dependencies) { d.moySklad.AgentID = "" },
			wantErr: true,
			errMsg:  "creating moysklad client",
		},
		"invalid ozon settings": {
			modify:  func(d *dependencies) { d.ozon.APIKey = "" },
			wantErr: true,
			errMsg:  "creating ozon client",
		},
		"invalid ozon base URL": {
			modify:  func(d *dependencies) { d.ozon.BaseURL = " " },
			wantErr: true,
			errMsg:  "creating ozon client",
		},
		"missing logger": {
			modify:  func(d *dependencies) { d.logger = nil },
			wantErr: true,
			errMsg:  "logger cannot be nil",
		},
		"missing repository": {
			modify:  func(d *dependencies) { d.repository = nil },
			wantErr: true,
			errMsg:  "order relation repository is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := deps()
			if tc.modify != nil {
				tc.modify(&d)
			}

			svc, err := newService(d, config.Mapping{}, runOptions{})

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, svc)
			} else {
				require.NoError(t, err)
				require.NotNil(t, svc)
			}
		})
	}
}

func TestPrintResults(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printResults(&buf, []*sync.Result{
		{Kind: sync.KindOrders, Processed: 3, Created: 1, Updated: 1, Unchanged: 1},
		{Kind: sync.KindStocks, DryRun: true, Processed: 2, Skipped: 1, Errors: []error{errors.New("boom")}},
	})

	require.Equal(t,
		"orders: processed 3, created 1, updated 1, unchanged 1, skipped 0, failed 0\n"+
			"[DRY-RUN] stocks: processed 2, created 0, updated 0, unchanged 0, skipped 1, failed 1\n",
		buf.String())
}
