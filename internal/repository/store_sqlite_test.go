package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"iap-entitlement-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStoreRepository {
	t.Helper()
	store, err := NewSQLiteStoreRepository(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testPurchase(t *testing.T, sku string) model.Purchase {
	t.Helper()
	payload, err := model.NewPurchasePayload("order-"+sku, "com.example.app", sku, 1700000000000, "dev", "tok-"+sku)
	require.NoError(t, err)
	p, err := model.ParsePurchase(model.ItemTypeInApp, payload, "sig")
	require.NoError(t, err)
	return p
}

func TestSQLiteProducts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProducts(ctx, []model.Product{
		{SKU: "b", Type: model.ItemTypeInApp, Title: "B", Price: "$1"},
		{SKU: "a", Type: model.ItemTypeSubs, Title: "A", PriceAmountMicros: 990000, PriceCurrencyCode: "USD"},
	}))
	require.NoError(t, store.UpsertProducts(ctx, []model.Product{{SKU: "b", Type: model.ItemTypeInApp, Title: "B2"}}))

	all, err := store.ListProducts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].SKU)
	assert.Equal(t, int64(990000), all[0].PriceAmountMicros)
	assert.Equal(t, "B2", all[1].Title)

	some, err := store.ListProducts(ctx, []string{"b", "zzz"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "b", some[0].SKU)

	p, err := store.GetProduct(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.ItemTypeSubs, p.Type)

	missing, err := store.GetProduct(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLitePurchases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	gem := testPurchase(t, "gem")
	require.NoError(t, store.InsertPurchase(ctx, gem))
	assert.Error(t, store.InsertPurchase(ctx, gem), "one purchase per sku")

	purchases, err := store.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, gem, purchases[0])

	deleted, err := store.DeletePurchase(ctx, "gem")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeletePurchase(ctx, "gem")
	require.NoError(t, err)
	assert.False(t, deleted)

	purchases, err = store.ListPurchases(ctx)
	require.NoError(t, err)
	assert.Empty(t, purchases)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	store, err := NewSQLiteStoreRepository(path)
	require.NoError(t, err)
	require.NoError(t, store.InsertPurchase(ctx, testPurchase(t, "gem")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStoreRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	purchases, err := reopened.ListPurchases(ctx)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
}

func TestSQLiteStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.UpsertProducts(ctx, []model.Product{{SKU: "a", Type: model.ItemTypeInApp}}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats["driver"])
	assert.Equal(t, int64(1), stats["total_products"])
	assert.Equal(t, int64(0), stats["total_purchases"])
}

func TestSeedCatalog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"sku": "gem", "type": "inapp", "title": "Gem", "price": "$0.99"},
		{"sku": "gold", "type": "subs", "title": "Gold", "price": "$4.99"}
	]`), 0o644))

	n, err := SeedCatalog(ctx, store, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = SeedCatalog(ctx, store, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"sku": "x", "type": "weird"}]`), 0o644))
	_, err = SeedCatalog(ctx, store, bad)
	assert.ErrorContains(t, err, "unknown type")
}

func TestSkuFilter(t *testing.T) {
	where, args := skuFilter([]string{"a", "b"}, true)
	assert.Equal(t, " WHERE sku IN ($1, $2)", where)
	assert.Equal(t, []interface{}{"a", "b"}, args)

	where, _ = skuFilter([]string{"a"}, false)
	assert.Equal(t, " WHERE sku IN (?)", where)

	where, args = skuFilter(nil, false)
	assert.Empty(t, where)
	assert.Nil(t, args)
}
