package sync

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/shopbridge/internal/batch"
	"github.com/peteski22/shopbridge/internal/model"
	"github.com/peteski22/shopbridge/internal/relation"
	"github.com/peteski22/shopbridge/internal/storage"
)

func sourceOrder(id string, status string, externalCode string) model.Order {
	return model.Order{
		ExternalCode: externalCode,
		ID:           id,
		Moment:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Name:         "posting-" + id,
		Positions: []model.Position{
			{Article: "A1", Name: "Mug", Price: decimal.NewFromInt(100), Quantity: 2},
		},
		Status: status,
	}
}

func newTestOrdersSynchronizer(t *testing.T, source OrderSource, target OrderTarget) *OrdersSynchronizer {
	t.Helper()

	s, err := NewOrdersSynchronizer(OrdersConfig{
		ChunkSize: 2,
		Logger:    slog.New(slog.DiscardHandler),
		Source:    source,
		Target:    target,
	})
	require.NoError(t, err)
	return s
}

func catalogProducts() []model.Product {
	return []model.Product{{Article: "A1", ID: "P1", Name: "Mug"}}
}

func TestNewOrdersSynchronizer(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		config  OrdersConfig
		errMsg  string
		wantErr bool
	}{
		"valid config": {
			config: OrdersConfig{Source: &fakeOrderSource{}, Target: &fakeOrderTarget{}},
		},
		"missing source": {
			config:  OrdersConfig{Target: &fakeOrderTarget{}},
			wantErr: true,
			errMsg:  "order source is required",
		},
		"missing target": {
			config:  OrdersConfig{Source: &fakeOrderSource{}},
			wantErr: true,
			errMsg:  "order target is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := NewOrdersSynchronizer(tc.config)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, s)
			} else {
				require.NoError(t, err)
				require.NotNil(t, s)
			}
		})
	}
}

func TestOrdersSynchronizer_CreatesWithMappedStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source := &fakeOrderSource{orders: []model.Order{sourceOrder("S1", "process", "E1")}}
	target := &fakeOrderTarget{products: catalogProducts()}
	repo := storage.NewMemoryRelationStore()

	result, err := newTestOrdersSynchronizer(t, source, target).Synchronize(ctx, OrderOptions{
		DoCreate:   true,
		DoUpdate:   true,
		Repository: repo,
		Status:     []StatusMapping{{Source: "process", Target: "new"}},
	})

	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.Created)
	require.Equal(t, 1, result.RelationsCreated)

	require.Len(t, target.orders, 1)
	created := target.orders[0]
	require.Equal(t, "new", created.Status)
	require.Equal(t, "E1", created.ExternalCode)
	require.Equal(t, []model.Position{
		{Article: "A1", Name: "Mug", Price: decimal.NewFromInt(100), ProductID: "P1", Quantity: 2},
	}, created.Positions)

	r, err := repo.BySourceID(ctx, "S1")
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, created.ID, r.TargetID)
}

func TestOrdersSynchronizer_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source := &fakeOrderSource{orders: []model.Order{
		sourceOrder("S1", "process", "E1"),
		sourceOrder("S2", "process", ""),
		sourceOrder("S3", "done", ""),
	}}
	target := &fakeOrderTarget{products: catalogProducts()}
	repo := storage.NewMemoryRelationStore()
	s := newTestOrdersSynchronizer(t, source, target)

	opts := OrderOptions{
		DoCreate:   true,
		DoUpdate:   true,
		Repository: repo,
		Status:     []StatusMapping{{Source: "process", Target: "new"}},
	}

	first, err := s.Synchronize(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 3, first.Created)

	second, err := s.Synchronize(ctx, opts)
	require.NoError(t, err)
	require.Empty(t, second.Errors)
	require.Zero(t, second.Created)
	require.Zero(t, second.Updated)
	require.Equal(t, 3, second.Unchanged)
	require.Len(t, target.orders, 3)
	require.Len(t, target.saves, 2, "only the first run writes, in chunks of two")
}

func TestOrdersSynchronizer_UpdatesOnlyWhatChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source := &fakeOrderSource{orders: []model.Order{sourceOrder("S1", "process", "E1")}}
	target := &fakeOrderTarget{products: catalogProducts()}
	repo := storage.NewMemoryRelationStore()
	s := newTestOrdersSynchronizer(t, source, target)

	opts := OrderOptions{DoCreate: true, DoUpdate: true, Repository: repo}
	_, err := s.Synchronize(ctx, opts)
	require.NoError(t, err)

	source.orders[0].Status = "delivered"

	result, err := s.Synchronize(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)

	last := target.saves[len(target.saves)-1]
	require.Len(t, last, 1)
	require.Equal(t, "delivered", last[0].Status)
	require.Nil(t, last[0].Positions)

	source.orders[0].Positions[0].Quantity = 5

	result, err = s.Synchronize(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)

	last = target.saves[len(target.saves)-1]
	require.Empty(t, last[0].Status)
	require.Equal(t, int64(5), last[0].Positions[0].Quantity)
	require.Equal(t, "P1", last[0].Positions[0].ProductID)
}

func TestOrdersSynchronizer_StaleRelationFallsThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source := &fakeOrderSource{orders: []model.Order{sourceOrder("S1", "new", "")}}
	target := &fakeOrderTarget{products: catalogProducts()}
	repo := storage.NewMemoryRelationStore(relation.Relation{SourceID: "S1", TargetID: "gone"})

	result, err := newTestOrdersSynchronizer(t, source, target).Synchronize(ctx, OrderOptions{
		DoCreate:   true,
		Repository: repo,
	})

	require.NoError(t, err)
	require.Equal(t, 1, result.RelationsDestroyed)
	require.Equal(t, 1, result.Created)

	r, err := repo.BySourceID(ctx, "S1")
	require.NoError(t, err)
	require.NotEqual(t, "gone", r.TargetID)
}

func TestOrdersSynchronizer_Matching(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		additional   string
		sources      []model.Order
		target       []model.Order
		wantErrTypes []batch.ErrorType
		wantRelation map[string]string
		wantUpdated  int
	}{
		"matches by external code": {
			sources:      []model.Order{sourceOrder("S1", "new", "E1")},
			target:       []model.Order{{ExternalCode: "E1", ID: "T7", Status: "old"}},
			wantRelation: map[string]string{"S1": "T7"},
			wantUpdated:  1,
		},
		"external code defaults to the source id": {
			sources:      []model.Order{sourceOrder("S1", "new", "")},
			target:       []model.Order{{ExternalCode: "S1", ID: "T7", Status: "old"}},
			wantRelation: map[string]string{"S1": "T7"},
			wantUpdated:  1,
		},
		"matches by additional field": {
			additional: "src",
			sources:    []model.Order{sourceOrder("S1", "new", "E1")},
			target: []model.Order{{
				Attributes:   []model.Attribute{{ID: "src", Value: "S1"}},
				ExternalCode: "other",
				ID:           "T8",
				Status:       "old",
			}},
			wantRelation: map[string]string{"S1": "T8"},
			wantUpdated:  1,
		},
		"repeated additional lookup value is a duplicate": {
			additional: "src",
			sources: []model.Order{
				sourceOrder("S1", "new", "E1"),
				sourceOrder("S1", "new", "E2"),
			},
			target: []model.Order{{
				Attributes:   []model.Attribute{{ID: "src", Value: "S1"}},
				ExternalCode: "other",
				ID:           "T8",
				Status:       "old",
			}},
			wantErrTypes: []batch.ErrorType{batch.ErrorTypeDuplicate},
			wantRelation: map[string]string{"S1": "T8"},
			wantUpdated:  1,
		},
		"repeated external code is a duplicate": {
			sources: []model.Order{
				sourceOrder("S1", "new", "E1"),
				sourceOrder("S2", "new", "E1"),
			},
			target:       []model.Order{{ExternalCode: "E1", ID: "T7", Status: "old"}},
			wantErrTypes: []batch.ErrorType{batch.ErrorTypeDuplicate},
			wantRelation: map[string]string{"S1": "T7"},
			wantUpdated:  1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			target := &fakeOrderTarget{orders: tc.target, products: catalogProducts()}
			repo := storage.NewMemoryRelationStore()

			result, err := newTestOrdersSynchronizer(t, &fakeOrderSource{orders: tc.sources}, target).Synchronize(ctx, OrderOptions{
				Additional: tc.additional,
				DoUpdate:   true,
				Repository: repo,
			})

			require.NoError(t, err)
			require.Zero(t, result.Created)
			require.Equal(t, tc.wantUpdated, result.Updated)
			require.Len(t, result.Errors, len(tc.wantErrTypes))
			for i, errType := range tc.wantErrTypes {
				require.True(t, batch.IsType(result.Errors[i], errType), "error %d: %v", i, result.Errors[i])
			}
			for source, want := range tc.wantRelation {
				r, err := repo.BySourceID(ctx, source)
				require.NoError(t, err)
				require.NotNil(t, r)
				require.Equal(t, want, r.TargetID)
			}
		})
	}
}

func TestOrdersSynchronizer_Failures(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		products     []model.Product
		saveErr      error
		sources      []model.Order
		wantCreated  int
		wantErrTypes []batch.ErrorType
	}{
		"unmatched position fails the whole order": {
			sources: []model.Order{{
				ID: "S1",
				Positions: []model.Position{
					{Article: "A1", Quantity: 1},
					{Article: "missing", Quantity: 1},
				},
			}},
			products:     catalogProducts(),
			wantErrTypes: []batch.ErrorType{batch.ErrorTypeNotFound},
		},
		"invalid source order is never sent": {
			sources: []model.Order{
				{ID: "S1", Positions: []model.Position{{Article: "A1", Quantity: 0}}},
				sourceOrder("S2", "new", ""),
			},
			products:     catalogProducts(),
			wantCreated:  1,
			wantErrTypes: []batch.ErrorType{batch.ErrorTypeValidation},
		},
		"failed write tags every order of the chunk": {
			sources: []model.Order{
				sourceOrder("S1", "new", ""),
				sourceOrder("S2", "new", ""),
			},
			products:     catalogProducts(),
			saveErr:      &batch.HTTPError{StatusCode: 412, Status: "412 Precondition Failed"},
			wantErrTypes: []batch.ErrorType{batch.ErrorTypeHTTP, batch.ErrorTypeHTTP},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			target := &fakeOrderTarget{products: tc.products, saveErr: tc.saveErr}

			result, err := newTestOrdersSynchronizer(t, &fakeOrderSource{orders: tc.sources}, target).Synchronize(
				context.Background(),
				OrderOptions{DoCreate: true, Repository: storage.NewMemoryRelationStore()},
			)

			require.NoError(t, err)
			require.Equal(t, tc.wantCreated, result.Created)
			require.Len(t, result.Errors, len(tc.wantErrTypes))
			for i, errType := range tc.wantErrTypes {
				require.True(t, batch.IsType(result.Errors[i], errType), "error %d: %v", i, result.Errors[i])
			}
		})
	}
}

func TestOrdersSynchronizer_Options(t *testing.T) {
	t.Parallel()

	t.Run("disabled actions are skipped", func(t *testing.T) {
		t.Parallel()

		target := &fakeOrderTarget{
			orders:   []model.Order{{ExternalCode: "S1", ID: "T1", Status: "old"}},
			products: catalogProducts(),
		}
		source := &fakeOrderSource{orders: []model.Order{
			sourceOrder("S1", "new", ""),
			sourceOrder("S2", "new", ""),
		}}

		result, err := newTestOrdersSynchronizer(t, source, target).Synchronize(
			context.Background(),
			OrderOptions{Repository: storage.NewMemoryRelationStore()},
		)

		require.NoError(t, err)
		require.Equal(t, 2, result.Skipped)
		require.Empty(t, target.saves)
	})

	t.Run("throw returns the joined errors", func(t *testing.T) {
		t.Parallel()

		source := &fakeOrderSource{orders: []model.Order{
			{ID: "S1", Positions: []model.Position{{Quantity: 1}}},
		}}
		target := &fakeOrderTarget{}

		result, err := newTestOrdersSynchronizer(t, source, target).Synchronize(
			context.Background(),
			OrderOptions{DoCreate: true, Repository: storage.NewMemoryRelationStore(), Throw: true},
		)

		require.Error(t, err)
		require.NotNil(t, result)
		require.True(t, batch.IsType(err, batch.ErrorTypeValidation))
	})

	t.Run("source failure aborts", func(t *testing.T) {
		t.Parallel()

		source := &fakeOrderSource{err: errors.New("unavailable")}

		_, err := newTestOrdersSynchronizer(t, source, &fakeOrderTarget{}).Synchronize(
			context.Background(),
			OrderOptions{Repository: storage.NewMemoryRelationStore()},
		)

		require.Error(t, err)
		require.Contains(t, err.Error(), "fetching source orders")
	})

	t.Run("repository is required", func(t *testing.T) {
		t.Parallel()

		_, err := newTestOrdersSynchronizer(t, &fakeOrderSource{}, &fakeOrderTarget{}).Synchronize(
			context.Background(),
			OrderOptions{},
		)

		require.Error(t, err)
	})

	t.Run("test key is stamped on relations", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		repo := storage.NewMemoryRelationStore()
		key := relation.NewTestKey()

		_, err := newTestOrdersSynchronizer(t,
			&fakeOrderSource{orders: []model.Order{sourceOrder("S1", "new", "")}},
			&fakeOrderTarget{products: catalogProducts()},
		).Synchronize(ctx, OrderOptions{DoCreate: true, Repository: repo, TestKey: key})
		require.NoError(t, err)

		r, err := repo.BySourceID(ctx, "S1")
		require.NoError(t, err)
		require.Equal(t, key, r.TestKey)
	})
}

func TestPositionsDiffer(t *testing.T) {
	t.Parallel()

	a := model.Position{Article: "A", Price: decimal.RequireFromString("10.50"), Quantity: 1}
	b := model.Position{Article: "B", Price: decimal.NewFromInt(3), Quantity: 2}

	tests := map[string]struct {
		source []model.Position
		target []model.Position
		want   bool
	}{
		"same positions in another order": {
			source: []model.Position{a, b},
			target: []model.Position{b, a},
		},
		"equal prices with different scale": {
			source: []model.Position{a},
			target: []model.Position{{Article: "A", Price: decimal.RequireFromString("10.5"), Quantity: 1}},
		},
		"different quantity": {
			source: []model.Position{a},
			target: []model.Position{{Article: "A", Price: a.Price, Quantity: 2}},
			want:   true,
		},
		"different length": {
			source: []model.Position{a, b},
			target: []model.Position{a},
			want:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, positionsDiffer(tc.source, tc.target))
		})
	}
}

// failingRelations refuses to record relations.
type failingRelations struct {
	relation.Repository
}

// Create always fails.
func (failingRelations) Create(_ context.Context, _ relation.Relation) (bool, error) {
	return false, errors.New("table unavailable")
}

func TestOrdersSynchronizer_UnidentifiedOrders(t *testing.T) {
	t.Parallel()

	t.Run("blank source id is rejected before matching", func(t *testing.T) {
		t.Parallel()

		source := &fakeOrderSource{orders: []model.Order{{
			Positions: []model.Position{{Article: "A1", Price: decimal.NewFromInt(100), Quantity: 1}},
			Status:    "new",
		}}}
		target := &fakeOrderTarget{
			orders:   []model.Order{{ID: "UNRELATED", Status: "old"}},
			products: catalogProducts(),
		}

		result, err := newTestOrdersSynchronizer(t, source, target).Synchronize(
			context.Background(),
			OrderOptions{DoCreate: true, DoUpdate: true, Repository: storage.NewMemoryRelationStore()},
		)

		require.NoError(t, err)
		require.Zero(t, result.Created)
		require.Zero(t, result.Updated)
		require.Len(t, result.Errors, 1)
		require.True(t, batch.IsType(result.Errors[0], batch.ErrorTypeValidation), result.Errors[0])
		require.Zero(t, target.lookupCount("external_code"))
		require.Empty(t, target.saves)

		unrelated, ok := target.order("UNRELATED")
		require.True(t, ok)
		require.Equal(t, "old", unrelated.Status)
		require.Empty(t, unrelated.Positions)
	})

	t.Run("match without a recorded relation is not written", func(t *testing.T) {
		t.Parallel()

		source := &fakeOrderSource{orders: []model.Order{sourceOrder("S1", "new", "E1")}}
		target := &fakeOrderTarget{
			orders:   []model.Order{{ExternalCode: "E1", ID: "T7", Status: "old"}},
			products: catalogProducts(),
		}

		result, err := newTestOrdersSynchronizer(t, source, target).Synchronize(
			context.Background(),
			OrderOptions{
				DoCreate:   true,
				DoUpdate:   true,
				Repository: failingRelations{Repository: storage.NewMemoryRelationStore()},
			},
		)

		require.NoError(t, err)
		require.Zero(t, result.Created)
		require.Zero(t, result.Updated)
		require.Zero(t, result.RelationsCreated)
		require.Len(t, result.Errors, 1)
		require.Contains(t, result.Errors[0].Error(), "recording relation of order S1")
		require.Empty(t, target.saves)

		matched, ok := target.order("T7")
		require.True(t, ok)
		require.Equal(t, "old", matched.Status)
	})
}

func TestOrdersSynchronizer_PositionResolution(t *testing.T) {
	t.Parallel()

	price := decimal.NewFromInt(100)
	resolved := []model.Position{{Article: "A1", Name: "Mug", Price: price, ProductID: "P1", Quantity: 1}}

	tests := map[string]struct {
		position         model.Position
		productIDErr     error
		wantArticleCalls int
		wantErrType      batch.ErrorType
		wantPositions    []model.Position
	}{
		"resolves by product id": {
			position:      model.Position{Price: price, ProductID: "P1", Quantity: 1},
			wantPositions: resolved,
		},
		"product id wins over article": {
			position:      model.Position{Article: "stale-article", Price: price, ProductID: "P1", Quantity: 1},
			wantPositions: resolved,
		},
		"unknown product id falls back to article": {
			position:         model.Position{Article: "A1", Price: price, ProductID: "ozon-123", Quantity: 1},
			wantArticleCalls: 1,
			wantPositions:    resolved,
		},
		"failed id lookup still resolves by article": {
			position:         model.Position{Article: "A1", Price: price, ProductID: "P1", Quantity: 1},
			productIDErr:     &batch.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"},
			wantArticleCalls: 1,
			wantPositions:    resolved,
		},
		"failed id lookup without article fails the order": {
			position:     model.Position{Price: price, ProductID: "P1", Quantity: 1},
			productIDErr: &batch.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"},
			wantErrType:  batch.ErrorTypeHTTP,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			source := &fakeOrderSource{orders: []model.Order{{ID: "S1", Positions: []model.Position{tc.position}}}}
			target := &fakeOrderTarget{productIDErr: tc.productIDErr, products: catalogProducts()}

			result, err := newTestOrdersSynchronizer(t, source, target).Synchronize(
				context.Background(),
				OrderOptions{DoCreate: true, Repository: storage.NewMemoryRelationStore()},
			)

			require.NoError(t, err)
			require.Equal(t, 1, target.lookupCount("product_id"))
			require.Equal(t, tc.wantArticleCalls, target.lookupCount("product_article"))

			if tc.wantErrType != "" {
				require.Zero(t, result.Created)
				require.Len(t, result.Errors, 1)
				require.True(t, batch.IsType(result.Errors[0], tc.wantErrType), result.Errors[0])
				return
			}

			require.Empty(t, result.Errors)
			require.Equal(t, 1, result.Created)
			require.Len(t, target.orders, 1)
			require.Equal(t, tc.wantPositions, target.orders[0].Positions)
		})
	}
}
