package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/store"
)

// NotificationsHandler exposes match notifications for operator review.
type NotificationsHandler struct {
	notifications store.NotificationStore
	log           *zap.Logger
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(n store.NotificationStore, log *zap.Logger) *NotificationsHandler {
	return &NotificationsHandler{notifications: n, log: log}
}

// List returns notifications, filterable by ?status= and ?case_id=.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", store.NotificationStatusPending, store.NotificationStatusConfirmed, store.NotificationStatusDismissed:
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	caseID := r.URL.Query().Get("case_id")

	notifications, err := h.notifications.ListNotifications(r.Context(), status, caseID)
	if err != nil {
		h.log.Error("failed to list notifications", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []*store.Notification{}
	}
	respondJSON(w, http.StatusOK, notifications)
}

// Get returns a single notification.
func (h *NotificationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.notifications.GetNotification(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.log.Error("failed to load notification", zap.String("notification_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load notification")
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// Confirm marks a notification as a verified sighting.
func (h *NotificationsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, store.NotificationStatusConfirmed)
}

// Dismiss marks a notification as a false positive.
func (h *NotificationsHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, store.NotificationStatusDismissed)
}

func (h *NotificationsHandler) resolve(w http.ResponseWriter, r *http.Request, status string) {
	id := chi.URLParam(r, "id")

	if err := h.notifications.UpdateNotificationStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.log.Error("failed to update notification",
			zap.String("notification_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}

	h.log.Info("notification resolved",
		zap.String("notification_id", sanitizeForLog(id)),
		zap.String("status", status))

	n, err := h.notifications.GetNotification(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load notification")
		return
	}
	respondJSON(w, http.StatusOK, n)
}
