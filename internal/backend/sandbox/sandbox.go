// Package sandbox is a local billing backend and purchase flow launcher backed by
// the store repository. Purchase flows stay pending until they are approved or
// canceled, which delivers the activity result to the registered listener.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"iap-entitlement-api/internal/backend"
	"iap-entitlement-api/internal/model"
	"iap-entitlement-api/internal/repository"
	"iap-entitlement-api/pkg/uid"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrFlowNotFound is returned when no pending flow has the marker.
	ErrFlowNotFound = errors.New("purchase flow not found")
	// ErrAlreadyOwned is returned when a flow is approved for a sku bought since it was launched.
	ErrAlreadyOwned = errors.New("item already owned")
	// ErrInvalidProduct is returned by PutProducts for catalog entries that cannot be stored.
	ErrInvalidProduct = errors.New("invalid product")
)

// Flow is a launched purchase flow awaiting a decision.
type Flow struct {
	Marker           string    `json:"marker"`
	RequestCode      int       `json:"request_code"`
	SKU              string    `json:"sku"`
	ItemType         string    `json:"item_type"`
	OldSKUs          []string  `json:"old_skus,omitempty"`
	DeveloperPayload string    `json:"developer_payload"`
	CreatedAt        time.Time `json:"created_at"`
}

// Options configures the sandbox.
type Options struct {
	PackageName   string
	Subscriptions bool
}

// Backend implements backend.Backend and backend.FlowLauncher.
type Backend struct {
	store       repository.StoreRepository
	packageName string
	subs        bool
	now         func() time.Time

	mu        sync.Mutex
	connected bool
	listener  backend.ResultListener
	flows     map[string]*Flow
	logger    zerolog.Logger
}

// New creates a sandbox over store.
func New(store repository.StoreRepository, opts Options) *Backend {
	if opts.PackageName == "" {
		opts.PackageName = "com.example.sandbox"
	}
	return &Backend{
		store:       store,
		packageName: opts.PackageName,
		subs:        opts.Subscriptions,
		now:         time.Now,
		flows:       make(map[string]*Flow),
		logger:      log.With().Str("component", "sandbox").Logger().Level(zerolog.InfoLevel),
	}
}

// Connect checks the store. The key is accepted but never used; sandbox signatures are not verified.
func (b *Backend) Connect(ctx context.Context, publicKey string) error {
	if err := b.store.Ping(ctx); err != nil {
		b.log().Error().Err(err).Msg("Store unavailable")
		return backend.Fail(backend.ResponseBillingUnavailable, "Billing service unavailable on device.")
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.log().Debug().Bool("verification_key", publicKey != "").Msg("Billing service connected.")
	return nil
}

// SubscriptionsSupported reports the configured subscription support.
func (b *Backend) SubscriptionsSupported() bool {
	return b.subs
}

// QueryInventory returns stored purchases and, when requested, catalog details.
func (b *Backend) QueryInventory(ctx context.Context, req backend.QueryRequest) (*model.Inventory, error) {
	if !b.isConnected() {
		return nil, backend.Fail(backend.ResponseBillingUnavailable, "Billing service is not connected.")
	}

	inv, err := b.owned(ctx)
	if err != nil {
		b.log().Error().Err(err).Msg("Failed to list purchases")
		return nil, backend.Fail(backend.ResponseError, "Error refreshing inventory (querying owned items).")
	}

	if req.Details {
		products, err := b.store.ListProducts(ctx, req.SKUs)
		if err != nil {
			b.log().Error().Err(err).Msg("Failed to list products")
			return nil, backend.Fail(backend.ResponseError, "Error refreshing inventory (querying prices of items).")
		}
		for _, p := range products {
			inv.AddProduct(p)
		}
	}

	products, owned := inv.Counts()
	b.log().Debug().Int("products", products).Int("purchases", owned).Msg("Inventory queried.")
	return inv, nil
}

// Consume removes a one-time purchase from the store.
func (b *Backend) Consume(ctx context.Context, p model.Purchase) error {
	if !b.isConnected() {
		return backend.Fail(backend.ResponseBillingUnavailable, "Billing service is not connected.")
	}
	if p.ItemType != model.ItemTypeInApp {
		return backend.Fail(backend.HelperInvalidConsumption, "Items of type '"+p.ItemType+"' can't be consumed.")
	}
	if p.Token == "" {
		return backend.Fail(backend.HelperMissingToken, "PurchaseInfo is missing token for sku: "+p.SKU+" "+p.String())
	}

	deleted, err := b.store.DeletePurchase(ctx, p.SKU)
	if err != nil {
		b.log().Error().Err(err).Str("sku", p.SKU).Msg("Failed to delete purchase")
		return backend.Fail(backend.HelperRemoteException, "Remote exception while consuming. PurchaseInfo: "+p.String())
	}
	if !deleted {
		return backend.Fail(backend.ResponseItemNotOwned, "Error consuming sku "+p.SKU)
	}
	b.log().Debug().Str("sku", p.SKU).Msg("Successfully consumed sku.")
	return nil
}

// SetDebugLogging toggles verbose logging.
func (b *Backend) SetDebugLogging(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if enabled {
		b.logger = b.logger.Level(zerolog.DebugLevel)
	} else {
		b.logger = b.logger.Level(zerolog.InfoLevel)
	}
}

// Dispose disconnects. Pending flows survive and are reported to the listener when decided.
func (b *Backend) Dispose() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.log().Debug().Msg("Disposed.")
}

// LaunchPurchaseFlow validates the request and registers a pending flow.
func (b *Backend) LaunchPurchaseFlow(ctx context.Context, req backend.FlowRequest) error {
	if !b.isConnected() {
		return backend.Fail(backend.ResponseBillingUnavailable, "Billing service is not connected.")
	}
	if req.ItemType == model.ItemTypeSubs && !b.subs {
		return backend.Fail(backend.HelperSubscriptionsNotAvail, "Subscriptions are not available.")
	}
	if len(req.OldSKUs) > 0 && req.ItemType != model.ItemTypeSubs {
		return backend.Fail(backend.HelperSubscriptionUpdate, "Subscription updates are not available.")
	}

	product, err := b.store.GetProduct(ctx, req.SKU)
	if err != nil {
		return backend.Fail(backend.HelperSendIntentFailed, "Failed to send intent.")
	}
	if product == nil {
		return backend.Fail(backend.ResponseItemUnavailable, "Unable to buy item")
	}
	if product.Type != req.ItemType {
		return backend.Fail(backend.ResponseDeveloperError, fmt.Sprintf("Item %s is of type %s", req.SKU, product.Type))
	}

	owned, err := b.owned(ctx)
	if err != nil {
		return backend.Fail(backend.HelperSendIntentFailed, "Failed to send intent.")
	}
	if owned.HasPurchase(req.SKU) {
		return backend.Fail(backend.ResponseItemAlreadyOwned, "Unable to buy item")
	}

	flow := &Flow{
		Marker:           req.Marker,
		RequestCode:      req.RequestCode,
		SKU:              req.SKU,
		ItemType:         req.ItemType,
		OldSKUs:          append([]string(nil), req.OldSKUs...),
		DeveloperPayload: req.DeveloperPayload,
		CreatedAt:        b.now().UTC(),
	}
	if flow.Marker == "" {
		flow.Marker = uid.New()
	}

	b.mu.Lock()
	b.flows[flow.Marker] = flow
	b.mu.Unlock()
	b.log().Debug().Str("sku", flow.SKU).Str("marker", flow.Marker).Int("request_code", flow.RequestCode).Msg("Purchase flow launched.")
	return nil
}

// SetResultListener registers the receiver of activity results.
func (b *Backend) SetResultListener(fn backend.ResultListener) {
	b.mu.Lock()
	b.listener = fn
	b.mu.Unlock()
}

// Flows returns the pending flows, oldest first.
func (b *Backend) Flows() []Flow {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Flow, 0, len(b.flows))
	for _, f := range b.flows {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestCode < out[j].RequestCode
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Approve completes a pending flow: the purchase is stored, replaced subscriptions
// are removed and the result is delivered. It reports whether the listener handled it.
//
// A flow whose sku was bought after launch is delivered as ITEM_ALREADY_OWNED and
// Approve returns ErrAlreadyOwned.
func (b *Backend) Approve(ctx context.Context, marker string) (bool, error) {
	flow, err := b.take(marker)
	if err != nil {
		return false, err
	}

	owned, err := b.owned(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list purchases: %w", err)
	}
	if owned.HasPurchase(flow.SKU) && !slices.Contains(flow.OldSKUs, flow.SKU) {
		b.log().Debug().Str("sku", flow.SKU).Str("marker", flow.Marker).Msg("Purchase flow approved for owned item.")
		handled := b.deliver(backend.ActivityResult{
			RequestCode:  flow.RequestCode,
			ResultCode:   backend.ActivityResultOK,
			ResponseCode: backend.ResponseItemAlreadyOwned,
		})
		return handled, ErrAlreadyOwned
	}

	payload, err := model.NewPurchasePayload(
		uid.Prefixed("sandbox"),
		b.packageName,
		flow.SKU,
		b.now().UnixMilli(),
		flow.DeveloperPayload,
		uid.New(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to build purchase payload: %w", err)
	}
	signature := Sign(payload)

	purchase, err := model.ParsePurchase(flow.ItemType, payload, signature)
	if err != nil {
		return false, fmt.Errorf("failed to parse purchase payload: %w", err)
	}
	for _, old := range flow.OldSKUs {
		if !owned.HasPurchase(old) {
			continue
		}
		if _, err := b.store.DeletePurchase(ctx, old); err != nil {
			return false, fmt.Errorf("failed to replace subscription %s: %w", old, err)
		}
	}
	if err := b.store.InsertPurchase(ctx, purchase); err != nil {
		return false, err
	}

	b.log().Debug().Str("sku", flow.SKU).Str("order_id", purchase.OrderID).Msg("Purchase flow approved.")
	return b.deliver(backend.ActivityResult{
		RequestCode:   flow.RequestCode,
		ResultCode:    backend.ActivityResultOK,
		ResponseCode:  backend.ResponseOK,
		PurchaseData:  payload,
		DataSignature: signature,
	}), nil
}

// Cancel ends a pending flow as canceled by the user.
func (b *Backend) Cancel(marker string) (bool, error) {
	flow, err := b.take(marker)
	if err != nil {
		return false, err
	}
	b.log().Debug().Str("sku", flow.SKU).Msg("Purchase flow canceled.")
	return b.deliver(backend.ActivityResult{
		RequestCode: flow.RequestCode,
		ResultCode:  backend.ActivityResultCanceled,
	}), nil
}

// PutProducts inserts or replaces catalog entries.
func (b *Backend) PutProducts(ctx context.Context, products []model.Product) error {
	for _, p := range products {
		if p.SKU == "" {
			return fmt.Errorf("%w: product sku is required", ErrInvalidProduct)
		}
		if !model.ValidItemType(p.Type) {
			return fmt.Errorf("%w: product %s has unknown type %q", ErrInvalidProduct, p.SKU, p.Type)
		}
	}
	return b.store.UpsertProducts(ctx, products)
}

// Sign returns the sandbox signature of a payload.
func Sign(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// owned loads the stored purchases into an inventory.
func (b *Backend) owned(ctx context.Context) (*model.Inventory, error) {
	purchases, err := b.store.ListPurchases(ctx)
	if err != nil {
		return nil, err
	}
	inv := model.NewInventory()
	for _, p := range purchases {
		inv.AddPurchase(p)
	}
	return inv, nil
}

func (b *Backend) take(marker string) (*Flow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	flow, ok := b.flows[marker]
	if !ok {
		return nil, ErrFlowNotFound
	}
	delete(b.flows, marker)
	return flow, nil
}

// deliver calls the listener outside the lock.
func (b *Backend) deliver(r backend.ActivityResult) bool {
	b.mu.Lock()
	fn := b.listener
	b.mu.Unlock()
	if fn == nil {
		b.log().Warn().Int("request_code", r.RequestCode).Msg("No result listener registered")
		return false
	}
	return fn(r)
}

func (b *Backend) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Backend) log() *zerolog.Logger {
	b.mu.Lock()
	l := b.logger
	b.mu.Unlock()
	return &l
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.FlowLauncher = (*Backend)(nil)
)
