package notify

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shoptk/backend-shoptk/internal/common"
)

// Handler serves the caller's notification feed.
type Handler struct {
	Store *Store
}

// List returns the caller's most recent notifications.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUser(r)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.Store.ListByUser(r.Context(), userID, limit)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"notifications": items})
}

// MarkRead marks a single notification of the caller as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUser(r)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid notification id", nil)
		return
	}
	if err := h.Store.MarkRead(r.Context(), userID, id); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"read": true})
}

// MarkAllRead clears the caller's unread flag across the board.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUser(r)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	if err := h.Store.MarkAllRead(r.Context(), userID); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"read": true})
}

func authedUser(r *http.Request) (uuid.UUID, error) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		return uuid.Nil, common.ErrForbidden
	}
	return uuid.Parse(strings.TrimSpace(userID))
}
