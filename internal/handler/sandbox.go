package handler

import (
	"context"
	"errors"
	"net/http"

	"iap-entitlement-api/internal/backend/sandbox"
	"iap-entitlement-api/internal/model"
	"iap-entitlement-api/pkg/apierror"
	"iap-entitlement-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Sandbox is the decision surface of the local billing backend.
type Sandbox interface {
	Flows() []sandbox.Flow
	Approve(ctx context.Context, marker string) (bool, error)
	Cancel(marker string) (bool, error)
	PutProducts(ctx context.Context, products []model.Product) error
}

// SandboxHandler lets a tester decide pending purchase flows.
type SandboxHandler struct {
	sandbox Sandbox
}

// NewSandboxHandler creates a new sandbox handler.
func NewSandboxHandler(sb Sandbox) *SandboxHandler {
	return &SandboxHandler{sandbox: sb}
}

// ListFlows handles GET /api/v1/sandbox/flows
func (h *SandboxHandler) ListFlows(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.sandbox.Flows())
}

// Approve handles POST /api/v1/sandbox/flows/{marker}/approve
func (h *SandboxHandler) Approve(w http.ResponseWriter, r *http.Request) {
	marker := chi.URLParam(r, "marker")
	handled, err := h.sandbox.Approve(r.Context(), marker)
	h.decided(w, r, marker, "approved", handled, err)
}

// Cancel handles POST /api/v1/sandbox/flows/{marker}/cancel
func (h *SandboxHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	marker := chi.URLParam(r, "marker")
	handled, err := h.sandbox.Cancel(marker)
	h.decided(w, r, marker, "canceled", handled, err)
}

// PutProducts handles PUT /api/v1/sandbox/products
func (h *SandboxHandler) PutProducts(w http.ResponseWriter, r *http.Request) {
	var products []model.Product
	if !decode(w, r, &products) {
		return
	}
	if err := h.sandbox.PutProducts(r.Context(), products); err != nil {
		if errors.Is(err, sandbox.ErrInvalidProduct) {
			response.Error(w, apierror.Unprocessable(err.Error()))
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to store products")
		response.Error(w, apierror.InternalError("failed to store products"))
		return
	}
	response.OK(w, map[string]int{"products": len(products)})
}

func (h *SandboxHandler) decided(w http.ResponseWriter, r *http.Request, marker, status string, handled bool, err error) {
	switch {
	case errors.Is(err, sandbox.ErrFlowNotFound):
		response.Error(w, apierror.NotFound("purchase flow "+marker+" not found"))
		return
	case errors.Is(err, sandbox.ErrAlreadyOwned):
		response.Error(w, apierror.Conflict("item of purchase flow "+marker+" is already owned"))
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("marker", marker).Msg("Failed to decide purchase flow")
		response.Error(w, apierror.InternalError("failed to decide purchase flow"))
		return
	}
	response.OK(w, map[string]interface{}{
		"marker":  marker,
		"status":  status,
		"handled": handled,
	})
}
