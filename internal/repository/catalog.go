package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"iap-entitlement-api/internal/model"
)

// LoadCatalog reads a JSON array of products from path.
func LoadCatalog(path string) ([]model.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var products []model.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for i, p := range products {
		if p.SKU == "" {
			return nil, fmt.Errorf("catalog entry %d has no sku", i)
		}
		if !model.ValidItemType(p.Type) {
			return nil, fmt.Errorf("catalog entry %s has unknown type %q", p.SKU, p.Type)
		}
	}
	return products, nil
}

// SeedCatalog loads path into the store. An empty path is a no-op.
func SeedCatalog(ctx context.Context, store StoreRepository, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	products, err := LoadCatalog(path)
	if err != nil {
		return 0, err
	}
	if err := store.UpsertProducts(ctx, products); err != nil {
		return 0, err
	}
	return len(products), nil
}
