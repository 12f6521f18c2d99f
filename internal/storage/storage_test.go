package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"p2pmaker/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleDispatch(merchantID string, state core.DispatchState, due time.Time) *core.Dispatch {
	now := time.Now()
	return &core.Dispatch{
		ID:         uuid.New().String(),
		MerchantID: merchantID,
		Intent: core.BuyIntent{
			Type:         core.IntentFixedAmount,
			Asset:        "USDT",
			FiatCurrency: "EUR",
			Amount:       decimal.RequireFromString("100"),
		},
		State:            state,
		IdempotencyToken: uuid.New().String(),
		NextAttemptAt:    due,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// The SQLite and memory stores must behave identically; every suite
// runs against both.

func dispatchStores(t *testing.T) map[string]core.IDispatchStore {
	return map[string]core.IDispatchStore{
		"sqlite": NewSQLiteDispatchStore(openTestDB(t)),
		"memory": NewMemoryDispatchStore(),
	}
}

func TestDispatchStoreRoundTrip(t *testing.T) {
	for name, store := range dispatchStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := sampleDispatch("m1", core.DispatchPending, time.Now())
			require.NoError(t, store.Create(ctx, d))

			got, err := store.Get(ctx, "m1", d.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, d.ID, got.ID)
			assert.Equal(t, d.IdempotencyToken, got.IdempotencyToken)
			assert.True(t, got.Intent.Amount.Equal(d.Intent.Amount))

			// Duplicate create must fail.
			assert.Error(t, store.Create(ctx, d))

			got.State = core.DispatchRunning
			got.AttemptCount = 1
			require.NoError(t, store.Update(ctx, got))

			again, err := store.Get(ctx, "m1", d.ID)
			require.NoError(t, err)
			assert.Equal(t, core.DispatchRunning, again.State)
			assert.Equal(t, 1, again.AttemptCount)
		})
	}
}

func TestDispatchStoreMissingReturnsNil(t *testing.T) {
	for name, store := range dispatchStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Get(context.Background(), "m1", "nope")
			require.NoError(t, err)
			assert.Nil(t, got)

			assert.Error(t, store.Update(context.Background(),
				sampleDispatch("m1", core.DispatchPending, time.Now())))
		})
	}
}

func TestDispatchStoreScopesByMerchant(t *testing.T) {
	for name, store := range dispatchStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d1 := sampleDispatch("m1", core.DispatchPending, time.Now())
			d2 := sampleDispatch("m2", core.DispatchPending, time.Now())
			require.NoError(t, store.Create(ctx, d1))
			require.NoError(t, store.Create(ctx, d2))

			got, err := store.Get(ctx, "m2", d1.ID)
			require.NoError(t, err)
			assert.Nil(t, got, "merchant m2 must not see m1's dispatch")

			list, err := store.ListByState(ctx, "m1", core.DispatchPending)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestDispatchStoreListDue(t *testing.T) {
	for name, store := range dispatchStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			due := sampleDispatch("m1", core.DispatchPending, now.Add(-time.Minute))
			future := sampleDispatch("m1", core.DispatchRetrying, now.Add(time.Hour))
			dead := sampleDispatch("m1", core.DispatchDead, now.Add(-time.Minute))
			require.NoError(t, store.Create(ctx, due))
			require.NoError(t, store.Create(ctx, future))
			require.NoError(t, store.Create(ctx, dead))

			got, err := store.ListDue(ctx, "m1", now)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, due.ID, got[0].ID)
		})
	}
}

func orderStores(t *testing.T) map[string]core.IOrderStore {
	return map[string]core.IOrderStore{
		"sqlite": NewSQLiteOrderStore(openTestDB(t)),
		"memory": NewMemoryOrderStore(),
	}
}

func sampleOrder(number string, status core.OrderStatus, createdAt time.Time) *core.Order {
	return &core.Order{
		OrderNumber:  number,
		MerchantID:   "m1",
		Status:       status,
		Side:         core.SideBuy,
		Asset:        "USDT",
		FiatCurrency: "EUR",
		Amount:       decimal.RequireFromString("100"),
		Price:        decimal.RequireFromString("0.95"),
		CreatedAt:    createdAt,
		LastSyncedAt: time.Now(),
	}
}

func TestOrderStoreUpsert(t *testing.T) {
	for name, store := range orderStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := sampleOrder("ORD-1", core.OrderStatusCreated, time.Now())
			require.NoError(t, store.Upsert(ctx, o))

			o.Status = core.OrderStatusPaid
			require.NoError(t, store.Upsert(ctx, o))

			got, err := store.Get(ctx, "m1", "ORD-1")
			require.NoError(t, err)
			assert.Equal(t, core.OrderStatusPaid, got.Status)
		})
	}
}

func TestOrderStoreListFilters(t *testing.T) {
	for name, store := range orderStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, store.Upsert(ctx, sampleOrder("ORD-1", core.OrderStatusPaid, now.Add(-2*time.Hour))))
			require.NoError(t, store.Upsert(ctx, sampleOrder("ORD-2", core.OrderStatusPaid, now)))
			require.NoError(t, store.Upsert(ctx, sampleOrder("ORD-3", core.OrderStatusCompleted, now)))

			paid, err := store.List(ctx, "m1", core.OrderStatusPaid, time.Time{})
			require.NoError(t, err)
			assert.Len(t, paid, 2)

			recent, err := store.List(ctx, "m1", "", now.Add(-time.Hour))
			require.NoError(t, err)
			assert.Len(t, recent, 2)

			all, err := store.List(ctx, "m1", "", time.Time{})
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func tupleStores(t *testing.T) map[string]core.ITupleStateStore {
	return map[string]core.ITupleStateStore{
		"sqlite": NewSQLiteTupleStateStore(openTestDB(t)),
		"memory": NewMemoryTupleStateStore(),
	}
}

func TestTupleStateStoreRoundTrip(t *testing.T) {
	for name, store := range tupleStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tuple := core.Tuple{MerchantID: "m1", Asset: "USDT", FiatCurrency: "EUR", Side: core.SideSell}
			st := &core.TupleState{
				Tuple:          tuple,
				PublishedPrice: decimal.RequireFromString("0.94"),
				LastDecision: &core.PricingDecision{
					TargetPrice:              decimal.RequireFromString("0.94"),
					ReferenceCompetitorPrice: decimal.RequireFromString("0.95"),
					QualifiedCompetitorCount: 3,
					ComputedAt:               time.Now(),
				},
				UpdatedAt: time.Now(),
			}
			require.NoError(t, store.Save(ctx, st))

			got, err := store.Load(ctx, tuple)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "0.94", got.PublishedPrice.String())
			require.NotNil(t, got.LastDecision)
			assert.Equal(t, 3, got.LastDecision.QualifiedCompetitorCount)

			// Overwrite
			st.PublishedPrice = decimal.RequireFromString("0.93")
			require.NoError(t, store.Save(ctx, st))
			got, err = store.Load(ctx, tuple)
			require.NoError(t, err)
			assert.Equal(t, "0.93", got.PublishedPrice.String())

			all, err := store.LoadAll(ctx, "m1")
			require.NoError(t, err)
			assert.Len(t, all, 1)

			missing, err := store.Load(ctx, core.Tuple{MerchantID: "m2", Asset: "BTC", FiatCurrency: "EUR", Side: core.SideBuy})
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}
