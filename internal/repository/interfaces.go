package repository

import (
	"context"
	"errors"

	"iap-entitlement-api/internal/model"
	"iap-entitlement-api/internal/notify"
)

// ErrKeyNotFound is returned when no active verification key matches.
var ErrKeyNotFound = errors.New("verification key not found")

// StoreRepository defines catalog and purchase data access for the sandbox billing backend.
type StoreRepository interface {
	// UpsertProducts inserts or replaces catalog entries by sku.
	UpsertProducts(ctx context.Context, products []model.Product) error

	// ListProducts returns catalog entries ordered by sku. Empty skus returns all of them.
	ListProducts(ctx context.Context, skus []string) ([]model.Product, error)

	// GetProduct returns a catalog entry, or nil when the sku is unknown.
	GetProduct(ctx context.Context, sku string) (*model.Product, error)

	// InsertPurchase records an owned purchase. There is at most one purchase per sku.
	InsertPurchase(ctx context.Context, p model.Purchase) error

	// ListPurchases returns owned purchases ordered by sku.
	ListPurchases(ctx context.Context) ([]model.Purchase, error)

	// DeletePurchase removes the purchase of sku and reports whether one existed.
	DeletePurchase(ctx context.Context, sku string) (bool, error)

	// GetStats returns statistics about the store.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}

// KeyRepository defines verification key lookups.
type KeyRepository interface {
	// GetVerificationKey returns the active key stored under name for the package.
	GetVerificationKey(ctx context.Context, packageName, name string) (string, error)
}

// NotificationLogRepository stores delivered notifications for auditing.
type NotificationLogRepository interface {
	InsertNotification(ctx context.Context, n notify.Notification) error
	GetNotifications(ctx context.Context, filter NotificationFilter) ([]notify.Notification, int64, error)
	Close() error
}

// NotificationFilter pages through the notification log, newest first.
type NotificationFilter struct {
	CallbackID *int
	Limit      int
	Offset     int
}
