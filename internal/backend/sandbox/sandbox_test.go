package sandbox

import (
	"context"
	"path/filepath"
	"testing"

	"iap-entitlement-api/internal/backend"
	"iap-entitlement-api/internal/model"
	"iap-entitlement-api/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T, subs bool) (*Backend, *repository.SQLiteStoreRepository) {
	t.Helper()
	store, err := repository.NewSQLiteStoreRepository(filepath.Join(t.TempDir(), "sandbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.UpsertProducts(context.Background(), []model.Product{
		{SKU: "gem", Type: model.ItemTypeInApp, Title: "Gem", Price: "$0.99"},
		{SKU: "gold", Type: model.ItemTypeSubs, Title: "Gold", Price: "$4.99"},
		{SKU: "silver", Type: model.ItemTypeSubs, Title: "Silver", Price: "$1.99"},
	}))

	sb := New(store, Options{PackageName: "com.example.app", Subscriptions: subs})
	require.NoError(t, sb.Connect(context.Background(), ""))
	return sb, store
}

func resultCode(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	return backend.ResultOf(err).Response
}

func TestQueryInventory(t *testing.T) {
	sb, _ := newTestSandbox(t, true)
	ctx := context.Background()

	inv, err := sb.QueryInventory(ctx, backend.QueryRequest{Details: true})
	require.NoError(t, err)
	products, purchases := inv.Counts()
	assert.Equal(t, 3, products)
	assert.Zero(t, purchases)

	inv, err = sb.QueryInventory(ctx, backend.QueryRequest{Details: true, SKUs: []string{"gem"}})
	require.NoError(t, err)
	products, _ = inv.Counts()
	assert.Equal(t, 1, products)

	inv, err = sb.QueryInventory(ctx, backend.QueryRequest{})
	require.NoError(t, err)
	products, _ = inv.Counts()
	assert.Zero(t, products)
}

func TestRequiresConnection(t *testing.T) {
	sb, _ := newTestSandbox(t, true)
	sb.Dispose()

	_, err := sb.QueryInventory(context.Background(), backend.QueryRequest{})
	assert.Equal(t, backend.ResponseBillingUnavailable, resultCode(t, err))
	err = sb.LaunchPurchaseFlow(context.Background(), backend.FlowRequest{SKU: "gem", ItemType: model.ItemTypeInApp})
	assert.Equal(t, backend.ResponseBillingUnavailable, resultCode(t, err))
}

func TestLaunchValidation(t *testing.T) {
	sb, store := newTestSandbox(t, false)
	ctx := context.Background()

	err := sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{SKU: "missing", ItemType: model.ItemTypeInApp})
	assert.Equal(t, backend.ResponseItemUnavailable, resultCode(t, err))

	err = sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{SKU: "gold", ItemType: model.ItemTypeSubs})
	assert.Equal(t, backend.HelperSubscriptionsNotAvail, resultCode(t, err))

	err = sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{SKU: "gem", ItemType: model.ItemTypeInApp, OldSKUs: []string{"x"}})
	assert.Equal(t, backend.HelperSubscriptionUpdate, resultCode(t, err))

	err = sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{SKU: "gold", ItemType: model.ItemTypeInApp})
	assert.Equal(t, backend.ResponseDeveloperError, resultCode(t, err))

	payload, err := model.NewPurchasePayload("o", "com.example.app", "gem", 1, "", "tok")
	require.NoError(t, err)
	owned, err := model.ParsePurchase(model.ItemTypeInApp, payload, Sign(payload))
	require.NoError(t, err)
	require.NoError(t, store.InsertPurchase(ctx, owned))

	err = sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{SKU: "gem", ItemType: model.ItemTypeInApp})
	assert.Equal(t, backend.ResponseItemAlreadyOwned, resultCode(t, err))
	assert.Empty(t, sb.Flows())
}

func TestApproveDeliversPurchase(t *testing.T) {
	sb, store := newTestSandbox(t, true)
	ctx := context.Background()

	var got []backend.ActivityResult
	sb.SetResultListener(func(r backend.ActivityResult) bool {
		got = append(got, r)
		return true
	})

	req := backend.FlowRequest{RequestCode: 10001, Marker: "m1", SKU: "gem", ItemType: model.ItemTypeInApp, DeveloperPayload: "dev"}
	require.NoError(t, sb.LaunchPurchaseFlow(ctx, req))

	flows := sb.Flows()
	require.Len(t, flows, 1)
	assert.Equal(t, "m1", flows[0].Marker)

	handled, err := sb.Approve(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, sb.Flows())

	require.Len(t, got, 1)
	assert.Equal(t, 10001, got[0].RequestCode)
	assert.Equal(t, backend.ActivityResultOK, got[0].ResultCode)
	assert.Equal(t, Sign(got[0].PurchaseData), got[0].DataSignature)

	p, err := backend.ParseActivityResult(model.ItemTypeInApp, got[0])
	require.NoError(t, err)
	assert.Equal(t, "gem", p.SKU)
	assert.Equal(t, "dev", p.DeveloperPayload)
	assert.Equal(t, "com.example.app", p.PackageName)
	assert.NotEmpty(t, p.Token)

	purchases, err := store.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, p.OriginalJSON, purchases[0].OriginalJSON)

	_, err = sb.Approve(ctx, "m1")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestApproveOwnedSKUReportsConflict(t *testing.T) {
	sb, store := newTestSandbox(t, true)
	ctx := context.Background()

	var got []backend.ActivityResult
	sb.SetResultListener(func(r backend.ActivityResult) bool {
		got = append(got, r)
		return true
	})

	// two flows for the same sku, for example across a teardown
	require.NoError(t, sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{RequestCode: 1, Marker: "first", SKU: "gem", ItemType: model.ItemTypeInApp}))
	require.NoError(t, sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{RequestCode: 2, Marker: "second", SKU: "gem", ItemType: model.ItemTypeInApp}))

	_, err := sb.Approve(ctx, "second")
	require.NoError(t, err)
	handled, err := sb.Approve(ctx, "first")
	assert.ErrorIs(t, err, ErrAlreadyOwned)
	assert.True(t, handled)
	assert.Empty(t, sb.Flows())

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].RequestCode)
	_, err = backend.ParseActivityResult(model.ItemTypeInApp, got[1])
	assert.Equal(t, backend.ResponseItemAlreadyOwned, resultCode(t, err))

	purchases, err := store.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "gem", purchases[0].SKU)
}

func TestCancelDeliversCanceled(t *testing.T) {
	sb, store := newTestSandbox(t, true)
	ctx := context.Background()

	var got backend.ActivityResult
	sb.SetResultListener(func(r backend.ActivityResult) bool {
		got = r
		return true
	})
	require.NoError(t, sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{RequestCode: 7, Marker: "m", SKU: "gem", ItemType: model.ItemTypeInApp}))

	handled, err := sb.Cancel("m")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, backend.ActivityResultCanceled, got.ResultCode)

	_, err = backend.ParseActivityResult(model.ItemTypeInApp, got)
	assert.Equal(t, backend.HelperUserCancelled, resultCode(t, err))

	purchases, err := store.ListPurchases(ctx)
	require.NoError(t, err)
	assert.Empty(t, purchases)
}

func TestApproveWithoutListener(t *testing.T) {
	sb, _ := newTestSandbox(t, true)
	require.NoError(t, sb.LaunchPurchaseFlow(context.Background(), backend.FlowRequest{Marker: "m", SKU: "gem", ItemType: model.ItemTypeInApp}))

	handled, err := sb.Approve(context.Background(), "m")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestSubscriptionReplacesOldSKUs(t *testing.T) {
	sb, store := newTestSandbox(t, true)
	ctx := context.Background()
	sb.SetResultListener(func(backend.ActivityResult) bool { return true })

	require.NoError(t, sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{Marker: "a", SKU: "silver", ItemType: model.ItemTypeSubs}))
	_, err := sb.Approve(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{Marker: "b", SKU: "gold", ItemType: model.ItemTypeSubs, OldSKUs: []string{"silver"}}))
	_, err = sb.Approve(ctx, "b")
	require.NoError(t, err)

	purchases, err := store.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "gold", purchases[0].SKU)
	assert.Equal(t, model.ItemTypeSubs, purchases[0].ItemType)
}

func TestConsume(t *testing.T) {
	sb, store := newTestSandbox(t, true)
	ctx := context.Background()
	sb.SetResultListener(func(backend.ActivityResult) bool { return true })

	require.NoError(t, sb.LaunchPurchaseFlow(ctx, backend.FlowRequest{Marker: "m", SKU: "gem", ItemType: model.ItemTypeInApp}))
	_, err := sb.Approve(ctx, "m")
	require.NoError(t, err)

	purchases, err := store.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	gem := purchases[0]

	sub := gem
	sub.ItemType = model.ItemTypeSubs
	assert.Equal(t, backend.HelperInvalidConsumption, resultCode(t, sb.Consume(ctx, sub)))

	noToken := gem
	noToken.Token = ""
	assert.Equal(t, backend.HelperMissingToken, resultCode(t, sb.Consume(ctx, noToken)))

	require.NoError(t, sb.Consume(ctx, gem))
	assert.Equal(t, backend.ResponseItemNotOwned, resultCode(t, sb.Consume(ctx, gem)))
}

func TestPutProductsValidates(t *testing.T) {
	sb, store := newTestSandbox(t, true)
	ctx := context.Background()

	assert.ErrorIs(t, sb.PutProducts(ctx, []model.Product{{Type: model.ItemTypeInApp}}), ErrInvalidProduct)
	assert.ErrorIs(t, sb.PutProducts(ctx, []model.Product{{SKU: "x", Type: "bogus"}}), ErrInvalidProduct)
	require.NoError(t, sb.PutProducts(ctx, []model.Product{{SKU: "x", Type: model.ItemTypeInApp, Title: "X"}}))

	p, err := store.GetProduct(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "X", p.Title)
}

func TestSetDebugLogging(t *testing.T) {
	sb, _ := newTestSandbox(t, true)
	sb.SetDebugLogging(true)
	assert.Equal(t, "debug", sb.log().GetLevel().String())
	sb.SetDebugLogging(false)
	assert.Equal(t, "info", sb.log().GetLevel().String())
	assert.True(t, sb.SubscriptionsSupported())
}
