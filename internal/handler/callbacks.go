package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"iap-entitlement-api/internal/notify"
	"iap-entitlement-api/pkg/apierror"
	"iap-entitlement-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const pollInterval = 50 * time.Millisecond

// CallbackStore reads completions by callback id.
type CallbackStore interface {
	Lookup(ctx context.Context, callbackID int) (notify.Notification, bool, error)
	Wait(ctx context.Context, callbackID int, interval time.Duration) (notify.Notification, bool, error)
}

// CallbackHandler serves the completion channel.
type CallbackHandler struct {
	store   CallbackStore
	maxWait time.Duration
}

// NewCallbackHandler creates a callback handler. Long polls are capped at maxWait.
func NewCallbackHandler(store CallbackStore, maxWait time.Duration) *CallbackHandler {
	return &CallbackHandler{store: store, maxWait: maxWait}
}

// Get handles GET /api/v1/callbacks/{callback_id}?wait=5s
func (h *CallbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "callback_id"))
	if err != nil {
		response.Error(w, apierror.BadRequest("callback_id must be an integer"))
		return
	}

	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err = time.ParseDuration(raw)
		if err != nil || wait < 0 {
			response.Error(w, apierror.BadRequest("wait must be a non-negative duration"))
			return
		}
		if wait > h.maxWait {
			wait = h.maxWait
		}
	}

	var (
		note notify.Notification
		ok   bool
	)
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		note, ok, err = h.store.Wait(ctx, id, pollInterval)
		cancel()
	} else {
		note, ok, err = h.store.Lookup(r.Context(), id)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("callback_id", id).Msg("Failed to read completion")
		response.Error(w, apierror.InternalError("failed to read completion"))
		return
	}
	if !ok {
		response.Error(w, apierror.NotFound("no completion for callback "+strconv.Itoa(id)))
		return
	}

	response.OK(w, note)
}
