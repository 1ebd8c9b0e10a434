package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"iap-entitlement-api/internal/model"
)

const (
	productColumns  = `sku, item_type, title, description, price, price_amount_micros, price_currency_code`
	purchaseColumns = `sku, item_type, purchase_json, signature`
)

// skuFilter renders "WHERE sku IN (...)" with driver placeholders starting at 1.
func skuFilter(skus []string, dollar bool) (string, []interface{}) {
	if len(skus) == 0 {
		return "", nil
	}
	marks := make([]string, len(skus))
	args := make([]interface{}, len(skus))
	for i, sku := range skus {
		if dollar {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
		args[i] = sku
	}
	return " WHERE sku IN (" + strings.Join(marks, ", ") + ")", args
}

func scanProducts(rows *sql.Rows) ([]model.Product, error) {
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.SKU, &p.Type, &p.Title, &p.Description, &p.Price, &p.PriceAmountMicros, &p.PriceCurrencyCode); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanPurchases(rows *sql.Rows) ([]model.Purchase, error) {
	defer rows.Close()

	purchases := []model.Purchase{}
	for rows.Next() {
		var sku, itemType, payload, signature string
		if err := rows.Scan(&sku, &itemType, &payload, &signature); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		p, err := model.ParsePurchase(itemType, payload, signature)
		if err != nil {
			return nil, fmt.Errorf("stored purchase %s is corrupt: %w", sku, err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
