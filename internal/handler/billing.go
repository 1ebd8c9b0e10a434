package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"iap-entitlement-api/internal/backend"
	"iap-entitlement-api/internal/billing"
	"iap-entitlement-api/pkg/apierror"
	"iap-entitlement-api/pkg/response"

	"github.com/rs/zerolog"
)

// BillingClient is the part of the billing client the HTTP surface drives.
type BillingClient interface {
	Initialize(ctx context.Context, callbackID int, skus []string, verifyReceipts bool) (bool, error)
	SetDebugLogging(enabled bool) bool
	GetPurchases(callbackID int) (bool, error)
	GetAvailableProducts(callbackID int) (bool, error)
	GetProductDetails(callbackID int, skus []string) (bool, error)
	Buy(callbackID int, sku, developerPayload string) (bool, error)
	Subscribe(callbackID int, sku, developerPayload string, oldSKUs []string) (bool, error)
	ConsumePurchase(callbackID int, sku string) (bool, error)
	HandleActivityResult(r backend.ActivityResult) bool
	Teardown() bool
	Stats() billing.Stats
}

// CallbackForgetter clears a stored completion before its id is reused.
type CallbackForgetter interface {
	Forget(ctx context.Context, callbackID int) error
}

// BillingHandler handles billing HTTP requests. Operations answer 202 and complete
// through the callback id.
type BillingHandler struct {
	client    BillingClient
	callbacks CallbackForgetter
}

// NewBillingHandler creates a new billing handler. callbacks may be nil.
func NewBillingHandler(client BillingClient, callbacks CallbackForgetter) *BillingHandler {
	return &BillingHandler{client: client, callbacks: callbacks}
}

// AcceptedResponse acknowledges a request whose completion arrives on the callback id.
// Accepted is false when the request was rejected before any work started.
type AcceptedResponse struct {
	Accepted   bool `json:"accepted"`
	CallbackID int  `json:"callback_id"`
}

// InitializeRequest is the body of POST /billing/initialize.
type InitializeRequest struct {
	CallbackID     *int     `json:"callback_id"`
	SKUs           []string `json:"skus"`
	VerifyReceipts bool     `json:"verify_receipts"`
}

// DebugRequest is the body of POST /billing/debug.
type DebugRequest struct {
	Enabled bool `json:"enabled"`
}

// DetailsRequest is the body of POST /billing/products/details.
type DetailsRequest struct {
	CallbackID *int     `json:"callback_id"`
	SKUs       []string `json:"skus"`
}

// PurchaseRequest is the body of POST /billing/buy and /billing/subscribe.
type PurchaseRequest struct {
	CallbackID   *int     `json:"callback_id"`
	SKU          string   `json:"sku"`
	Payload      string   `json:"payload"`
	ReplacedSKUs []string `json:"replaced_skus"`
}

// ConsumeRequest is the body of POST /billing/consume.
type ConsumeRequest struct {
	CallbackID *int   `json:"callback_id"`
	SKU        string `json:"sku"`
}

// Initialize handles POST /api/v1/billing/initialize
func (h *BillingHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CallbackID == nil {
		response.Error(w, missingCallbackID())
		return
	}

	id := *req.CallbackID
	h.forget(r, id)
	accepted, err := h.client.Initialize(r.Context(), id, req.SKUs, req.VerifyReceipts)
	if err != nil {
		var berr *billing.Error
		if errors.As(err, &berr) && berr.Kind == billing.KindConfiguration {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Billing is not configured")
			response.Error(w, apierror.Configuration(err.Error()))
			return
		}
		response.Error(w, closedError(err))
		return
	}
	h.respond(w, id, accepted, nil)
}

// SetDebug handles POST /api/v1/billing/debug
func (h *BillingHandler) SetDebug(w http.ResponseWriter, r *http.Request) {
	var req DebugRequest
	if !decode(w, r, &req) {
		return
	}
	response.OK(w, map[string]bool{"applied": h.client.SetDebugLogging(req.Enabled)})
}

// GetPurchases handles GET /api/v1/billing/purchases?callback_id=
func (h *BillingHandler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	id, ok := queryCallbackID(w, r)
	if !ok {
		return
	}
	h.forget(r, id)
	ok, err := h.client.GetPurchases(id)
	h.respond(w, id, ok, err)
}

// GetProducts handles GET /api/v1/billing/products?callback_id=
func (h *BillingHandler) GetProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := queryCallbackID(w, r)
	if !ok {
		return
	}
	h.forget(r, id)
	ok, err := h.client.GetAvailableProducts(id)
	h.respond(w, id, ok, err)
}

// GetProductDetails handles POST /api/v1/billing/products/details
func (h *BillingHandler) GetProductDetails(w http.ResponseWriter, r *http.Request) {
	var req DetailsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CallbackID == nil {
		response.Error(w, missingCallbackID())
		return
	}
	id := *req.CallbackID
	h.forget(r, id)
	ok, err := h.client.GetProductDetails(id, req.SKUs)
	h.respond(w, id, ok, err)
}

// Buy handles POST /api/v1/billing/buy
func (h *BillingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePurchase(w, r)
	if !ok {
		return
	}
	id := *req.CallbackID
	h.forget(r, id)
	ok, err := h.client.Buy(id, req.SKU, req.Payload)
	h.respond(w, id, ok, err)
}

// Subscribe handles POST /api/v1/billing/subscribe
func (h *BillingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePurchase(w, r)
	if !ok {
		return
	}
	id := *req.CallbackID
	h.forget(r, id)
	ok, err := h.client.Subscribe(id, req.SKU, req.Payload, req.ReplacedSKUs)
	h.respond(w, id, ok, err)
}

// Consume handles POST /api/v1/billing/consume
func (h *BillingHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CallbackID == nil {
		response.Error(w, missingCallbackID())
		return
	}
	if strings.TrimSpace(req.SKU) == "" {
		response.Error(w, apierror.ValidationError("invalid request",
			apierror.FieldError{Field: "sku", Message: "sku is required"}))
		return
	}
	id := *req.CallbackID
	h.forget(r, id)
	ok, err := h.client.ConsumePurchase(id, req.SKU)
	h.respond(w, id, ok, err)
}

// ActivityResult handles POST /api/v1/billing/activity-result
func (h *BillingHandler) ActivityResult(w http.ResponseWriter, r *http.Request) {
	var req backend.ActivityResult
	if !decode(w, r, &req) {
		return
	}
	response.OK(w, map[string]bool{"handled": h.client.HandleActivityResult(req)})
}

// Teardown handles POST /api/v1/billing/teardown
func (h *BillingHandler) Teardown(w http.ResponseWriter, r *http.Request) {
	if !h.client.Teardown() {
		response.Error(w, closedError(billing.ErrClosed))
		return
	}
	response.OK(w, map[string]string{"status": "torn_down"})
}

// State handles GET /api/v1/billing/state
func (h *BillingHandler) State(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.client.Stats())
}

// respond answers 202 for accepted and rejected requests alike; a rejection's
// reason is delivered on the callback id. A closed client answers 503.
func (h *BillingHandler) respond(w http.ResponseWriter, id int, accepted bool, err error) {
	if err != nil {
		response.Error(w, closedError(err))
		return
	}
	response.Accepted(w, AcceptedResponse{Accepted: accepted, CallbackID: id})
}

// forget drops a stale completion so a poll on a reused id only sees the new result.
func (h *BillingHandler) forget(r *http.Request, id int) {
	if h.callbacks == nil {
		return
	}
	if err := h.callbacks.Forget(r.Context(), id); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Int("callback_id", id).Msg("Failed to clear previous completion")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return false
	}
	return true
}

func decodePurchase(w http.ResponseWriter, r *http.Request) (PurchaseRequest, bool) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return req, false
	}

	var details []apierror.FieldError
	if req.CallbackID == nil {
		details = append(details, apierror.FieldError{Field: "callback_id", Message: "callback_id is required"})
	}
	if strings.TrimSpace(req.SKU) == "" {
		details = append(details, apierror.FieldError{Field: "sku", Message: "sku is required"})
	}
	if len(details) > 0 {
		response.Error(w, apierror.ValidationError("invalid request", details...))
		return req, false
	}
	return req, true
}

func queryCallbackID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("callback_id")
	if raw == "" {
		response.Error(w, missingCallbackID())
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		response.Error(w, apierror.BadRequest("callback_id must be an integer"))
		return 0, false
	}
	return id, true
}

func missingCallbackID() *apierror.Error {
	return apierror.ValidationError("invalid request",
		apierror.FieldError{Field: "callback_id", Message: "callback_id is required"})
}

func closedError(err error) *apierror.Error {
	return apierror.ServiceUnavailable(err.Error())
}
