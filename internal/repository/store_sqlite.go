package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"iap-entitlement-api/internal/model"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStoreRepository implements StoreRepository using SQLite.
// Thread-safe with WAL mode for concurrent reads.
type SQLiteStoreRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStoreRepository creates a new SQLite store repository.
// dbPath is the path to the SQLite database file (e.g., "./data/store.db")
func NewSQLiteStoreRepository(dbPath string) (*SQLiteStoreRepository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info().Str("component", "store").Str("driver", "sqlite").Str("path", dbPath).Msg("Store initialized")
	return &SQLiteStoreRepository{db: db}, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS billing_products (
		sku TEXT PRIMARY KEY,
		item_type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '',
		price_amount_micros INTEGER NOT NULL DEFAULT 0,
		price_currency_code TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS billing_purchases (
		sku TEXT PRIMARY KEY,
		item_type TEXT NOT NULL,
		order_id TEXT NOT NULL,
		purchase_token TEXT NOT NULL,
		purchase_json TEXT NOT NULL,
		signature TEXT NOT NULL,
		purchased_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_purchases_token ON billing_purchases(purchase_token);
	`
	_, err := db.Exec(query)
	return err
}

// UpsertProducts inserts or replaces catalog entries in one transaction.
func (r *SQLiteStoreRepository) UpsertProducts(ctx context.Context, products []model.Product) error {
	if len(products) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO billing_products (`+productColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			item_type = excluded.item_type,
			title = excluded.title,
			description = excluded.description,
			price = excluded.price,
			price_amount_micros = excluded.price_amount_micros,
			price_currency_code = excluded.price_currency_code,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range products {
		_, err := stmt.ExecContext(ctx, p.SKU, p.Type, p.Title, p.Description, p.Price, p.PriceAmountMicros, p.PriceCurrencyCode, now)
		if err != nil {
			return fmt.Errorf("failed to upsert product %s: %w", p.SKU, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListProducts returns catalog entries ordered by sku.
func (r *SQLiteStoreRepository) ListProducts(ctx context.Context, skus []string) ([]model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	where, args := skuFilter(skus, false)
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM billing_products`+where+` ORDER BY sku`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return scanProducts(rows)
}

// GetProduct returns a catalog entry, or nil when the sku is unknown.
func (r *SQLiteStoreRepository) GetProduct(ctx context.Context, sku string) (*model.Product, error) {
	products, err := r.ListProducts(ctx, []string{sku})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

// InsertPurchase records an owned purchase.
func (r *SQLiteStoreRepository) InsertPurchase(ctx context.Context, p model.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO billing_purchases (sku, item_type, order_id, purchase_token, purchase_json, signature, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, p.SKU, p.ItemType, p.OrderID, p.Token, p.OriginalJSON, p.Signature, time.UnixMilli(p.PurchaseTime).UTC())
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

// ListPurchases returns owned purchases ordered by sku.
func (r *SQLiteStoreRepository) ListPurchases(ctx context.Context) ([]model.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM billing_purchases ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return scanPurchases(rows)
}

// DeletePurchase removes the purchase of sku.
func (r *SQLiteStoreRepository) DeletePurchase(ctx context.Context, sku string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM billing_purchases WHERE sku = ?`, sku)
	if err != nil {
		return false, fmt.Errorf("failed to delete purchase: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// GetStats returns statistics about the store database.
func (r *SQLiteStoreRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]interface{})

	var products, purchases int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM billing_products").Scan(&products); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM billing_purchases").Scan(&purchases); err != nil {
		return nil, err
	}
	stats["driver"] = "sqlite"
	stats["total_products"] = products
	stats["total_purchases"] = purchases

	var lastPurchase sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(purchased_at) FROM billing_purchases").Scan(&lastPurchase); err == nil && lastPurchase.Valid {
		stats["last_purchase"] = lastPurchase.String
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	if err := errors.Join(
		r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount),
		r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize),
	); err == nil {
		stats["db_size_bytes"] = pageCount * pageSize
	}

	return stats, nil
}

// Ping checks the database connection.
func (r *SQLiteStoreRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLiteStoreRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteStoreRepository implements StoreRepository
var _ StoreRepository = (*SQLiteStoreRepository)(nil)
