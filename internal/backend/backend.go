// Package backend defines the contracts the billing client uses to reach the
// platform billing service and the purchase flow launcher.
package backend

import (
	"context"

	"iap-entitlement-api/internal/model"
)

// QueryRequest scopes an inventory query.
type QueryRequest struct {
	// Details requests product metadata in addition to owned purchases.
	Details bool
	// SKUs limits product details to these skus. Empty means all known products.
	SKUs []string
}

// Backend is a connection to the billing service.
// The methods taking a context may block and are never called from the client's
// sequencing goroutine. The others must return without waiting on the service.
type Backend interface {
	// Connect establishes the billing connection. A single attempt is made.
	Connect(ctx context.Context, publicKey string) error

	// SubscriptionsSupported reports whether subscriptions can be purchased.
	// It must not block.
	SubscriptionsSupported() bool

	// QueryInventory returns owned purchases and product metadata.
	QueryInventory(ctx context.Context, req QueryRequest) (*model.Inventory, error)

	// Consume marks a one-time purchase as used.
	Consume(ctx context.Context, purchase model.Purchase) error

	// SetDebugLogging toggles verbose logging inside the backend. It must not block.
	SetDebugLogging(enabled bool)

	// Dispose releases the connection. It must not block; calls in flight are
	// ended through their context.
	Dispose()
}

// FlowRequest describes a purchase flow to launch.
type FlowRequest struct {
	RequestCode      int
	Marker           string
	SKU              string
	ItemType         string
	OldSKUs          []string
	DeveloperPayload string
}

// ResultListener receives platform activity results. It returns true when the result was handled.
type ResultListener func(ActivityResult) bool

// FlowLauncher starts purchase flows. Their outcome arrives later as an ActivityResult
// delivered to the registered listener.
type FlowLauncher interface {
	// LaunchPurchaseFlow starts the flow. An error means the flow could not be started.
	// It may block.
	LaunchPurchaseFlow(ctx context.Context, req FlowRequest) error

	// SetResultListener registers the receiver of activity results. It must not block.
	SetResultListener(fn ResultListener)
}
