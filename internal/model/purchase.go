package model

import (
	"encoding/json"
	"fmt"
)

// PurchaseState mirrors the backend purchase state field.
type PurchaseState int

const (
	PurchaseStatePurchased PurchaseState = 0
	PurchaseStateCanceled  PurchaseState = 1
	PurchaseStateRefunded  PurchaseState = 2
)

func (s PurchaseState) String() string {
	switch s {
	case PurchaseStatePurchased:
		return "purchased"
	case PurchaseStateCanceled:
		return "canceled"
	case PurchaseStateRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Purchase represents a purchase record as returned by the billing backend.
// OriginalJSON is the raw payload the typed fields were parsed from.
type Purchase struct {
	ItemType         string
	OrderID          string
	PackageName      string
	SKU              string
	PurchaseTime     int64
	PurchaseState    PurchaseState
	DeveloperPayload string
	Token            string
	OriginalJSON     string
	Signature        string
}

// purchasePayload is the backend payload layout.
type purchasePayload struct {
	OrderID          string        `json:"orderId"`
	PackageName      string        `json:"packageName"`
	ProductID        string        `json:"productId"`
	PurchaseTime     int64         `json:"purchaseTime"`
	PurchaseState    PurchaseState `json:"purchaseState"`
	DeveloperPayload string        `json:"developerPayload"`
	Token            string        `json:"token"`
	PurchaseToken    string        `json:"purchaseToken"`
}

// ParsePurchase builds a Purchase from the raw backend payload.
func ParsePurchase(itemType, originalJSON, signature string) (Purchase, error) {
	var payload purchasePayload
	if err := json.Unmarshal([]byte(originalJSON), &payload); err != nil {
		return Purchase{}, fmt.Errorf("failed to parse purchase payload: %w", err)
	}
	if payload.ProductID == "" {
		return Purchase{}, fmt.Errorf("purchase payload has no productId")
	}

	token := payload.Token
	if token == "" {
		token = payload.PurchaseToken
	}

	return Purchase{
		ItemType:         itemType,
		OrderID:          payload.OrderID,
		PackageName:      payload.PackageName,
		SKU:              payload.ProductID,
		PurchaseTime:     payload.PurchaseTime,
		PurchaseState:    payload.PurchaseState,
		DeveloperPayload: payload.DeveloperPayload,
		Token:            token,
		OriginalJSON:     originalJSON,
		Signature:        signature,
	}, nil
}

// NewPurchasePayload renders the backend payload for a purchase.
func NewPurchasePayload(orderID, packageName, sku string, purchaseTime int64, payload, token string) (string, error) {
	data, err := json.Marshal(purchasePayload{
		OrderID:          orderID,
		PackageName:      packageName,
		ProductID:        sku,
		PurchaseTime:     purchaseTime,
		PurchaseState:    PurchaseStatePurchased,
		DeveloperPayload: payload,
		PurchaseToken:    token,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (p Purchase) String() string {
	return fmt.Sprintf("PurchaseInfo(type:%s):%s", p.ItemType, p.OriginalJSON)
}
