package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/haasonsaas/pulse/internal/auth"
	"github.com/haasonsaas/pulse/internal/store"
	"github.com/haasonsaas/pulse/pkg/models"
)

// NotificationListResponse is the payload of GET /api/notifications.
type NotificationListResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

// requireUser returns the authenticated user or writes a 401.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return user, true
}

func (h *Handler) apiListNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	opts := store.ListOptions{Limit: 50}
	q := r.URL.Query()
	if q.Get("unread_only") == "true" {
		opts.UnreadOnly = true
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 200 {
			h.jsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			h.jsonError(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		opts.Offset = offset
	}

	notifications, total, err := h.config.Dispatcher.List(r.Context(), user.ID, opts)
	if err != nil {
		h.config.Logger.Error("list notifications failed", "user_id", user.ID, "error", err)
		h.jsonError(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	h.jsonResponse(w, NotificationListResponse{
		Notifications: notifications,
		Total:         total,
		Limit:         opts.Limit,
		Offset:        opts.Offset,
	})
}

func (h *Handler) apiUnreadCount(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	count, err := h.config.Dispatcher.UnreadCount(r.Context(), user.ID)
	if err != nil {
		h.config.Logger.Error("unread count failed", "user_id", user.ID, "error", err)
		h.jsonError(w, "Failed to count notifications", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]int{"unread": count})
}

func (h *Handler) apiMarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	err := h.config.Dispatcher.MarkRead(r.Context(), id, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		h.jsonError(w, "Notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.config.Logger.Error("mark read failed", "id", id, "user_id", user.ID, "error", err)
		h.jsonError(w, "Failed to mark notification read", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

func (h *Handler) apiMarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if err := h.config.Dispatcher.MarkAllRead(r.Context(), user.ID); err != nil {
		h.config.Logger.Error("mark all read failed", "user_id", user.ID, "error", err)
		h.jsonError(w, "Failed to mark notifications read", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

func (h *Handler) apiDeleteNotification(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	err := h.config.Dispatcher.Delete(r.Context(), id, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		h.jsonError(w, "Notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.config.Logger.Error("delete notification failed", "id", id, "user_id", user.ID, "error", err)
		h.jsonError(w, "Failed to delete notification", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

func (h *Handler) apiDeleteRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if err := h.config.Dispatcher.DeleteRead(r.Context(), user.ID); err != nil {
		h.config.Logger.Error("delete read failed", "user_id", user.ID, "error", err)
		h.jsonError(w, "Failed to delete notifications", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

// TestNotificationRequest is the payload of the administrative delivery
// smoke-test hook.
type TestNotificationRequest struct {
	UserID  string            `json:"user_id"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

func (h *Handler) apiTestNotification(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if !user.Role.IsSupervisory() {
		h.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req TestNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		h.jsonError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		req.Title = "Test notification"
	}

	n, err := h.config.Dispatcher.CreateInAppNotification(
		r.Context(), req.UserID, models.TypeSystem, req.Title, req.Message, req.Data)
	if err != nil {
		h.config.Logger.Error("test notification failed", "user_id", req.UserID, "error", err)
		h.jsonError(w, "Failed to create notification", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(n); err != nil {
		h.config.Logger.Error("json encode error", "error", err)
	}
}
