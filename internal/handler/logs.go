package handler

import (
	"context"
	"net/http"
	"strconv"

	"iap-entitlement-api/internal/notify"
	"iap-entitlement-api/internal/repository"
	"iap-entitlement-api/pkg/apierror"
	"iap-entitlement-api/pkg/response"

	"github.com/rs/zerolog"
)

// NotificationLog pages through delivered notifications.
type NotificationLog interface {
	GetNotifications(ctx context.Context, filter repository.NotificationFilter) ([]notify.Notification, int64, error)
}

// LogHandler serves the notification audit log.
type LogHandler struct {
	log NotificationLog
}

// NewLogHandler creates a log handler. log may be nil when the audit log is disabled.
func NewLogHandler(log NotificationLog) *LogHandler {
	return &LogHandler{log: log}
}

// GetNotifications handles GET /api/v1/admin/notifications?page=&limit=&callback_id=
func (h *LogHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		response.Error(w, apierror.ServiceUnavailable("notification audit log is not configured"))
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := repository.NotificationFilter{Limit: limit, Offset: (page - 1) * limit}
	if raw := q.Get("callback_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(w, apierror.BadRequest("callback_id must be an integer"))
			return
		}
		filter.CallbackID = &id
	}

	notes, total, err := h.log.GetNotifications(r.Context(), filter)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to fetch notifications")
		response.Error(w, apierror.InternalError("failed to fetch notifications"))
		return
	}

	response.JSONWithMeta(w, http.StatusOK, notes, page, limit, total)
}
