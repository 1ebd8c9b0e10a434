package model

import "sort"

// Inventory holds known products and purchases, both keyed by sku.
// It is not safe for concurrent use; the billing client owns it on a single goroutine.
type Inventory struct {
	products  map[string]Product
	purchases map[string]Purchase
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		products:  make(map[string]Product),
		purchases: make(map[string]Purchase),
	}
}

// AddProduct stores product metadata, replacing any previous entry for the sku.
func (inv *Inventory) AddProduct(p Product) {
	inv.products[p.SKU] = p
}

// AddPurchase stores a purchase, replacing any previous purchase for the sku.
func (inv *Inventory) AddPurchase(p Purchase) {
	inv.purchases[p.SKU] = p
}

// ErasePurchase removes the purchase for sku if present.
func (inv *Inventory) ErasePurchase(sku string) {
	delete(inv.purchases, sku)
}

// Purchase returns the purchase for sku.
func (inv *Inventory) Purchase(sku string) (Purchase, bool) {
	p, ok := inv.purchases[sku]
	return p, ok
}

// HasPurchase reports whether sku is owned.
func (inv *Inventory) HasPurchase(sku string) bool {
	_, ok := inv.purchases[sku]
	return ok
}

// Products returns all products ordered by sku.
func (inv *Inventory) Products() []Product {
	out := make([]Product, 0, len(inv.products))
	for _, p := range inv.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// Purchases returns all purchases ordered by sku.
func (inv *Inventory) Purchases() []Purchase {
	out := make([]Purchase, 0, len(inv.purchases))
	for _, p := range inv.purchases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// OwnedSKUs returns the skus that have a purchase, filtered by item type when itemType is not empty.
func (inv *Inventory) OwnedSKUs(itemType string) []string {
	out := make([]string, 0, len(inv.purchases))
	for sku, p := range inv.purchases {
		if itemType == "" || p.ItemType == itemType {
			out = append(out, sku)
		}
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of products and purchases.
func (inv *Inventory) Counts() (products, purchases int) {
	return len(inv.products), len(inv.purchases)
}
