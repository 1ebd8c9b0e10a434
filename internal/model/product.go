package model

// Item types as reported by the billing backend.
const (
	ItemTypeInApp = "inapp" // one-time (managed) product
	ItemTypeSubs  = "subs"  // subscription
)

// Product represents product metadata fetched from the billing backend.
type Product struct {
	SKU               string `json:"sku"`
	Type              string `json:"type"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Price             string `json:"price"`
	PriceAmountMicros int64  `json:"price_amount_micros,omitempty"`
	PriceCurrencyCode string `json:"price_currency_code,omitempty"`
}

// ValidItemType reports whether t is one of the known item types.
func ValidItemType(t string) bool {
	return t == ItemTypeInApp || t == ItemTypeSubs
}
