package fulfill

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/order"
)

// OrderFinder resolves orders for ownership and status checks.
type OrderFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

// Handler exposes credential reads and the admin recovery path.
type Handler struct {
	Service  *Service
	Orders   OrderFinder
	Validate *validator.Validate
}

// Credentials returns the decrypted credential for one of the caller's
// orders. The plaintext goes to the response body only; it is never logged.
func (h *Handler) Credentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	ord, err := h.Orders.FindByID(r.Context(), orderID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if ord.UserID.String() != userID && !common.IsAdmin(r.Context()) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}

	cred, d, err := h.Service.Reveal(r.Context(), orderID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"orderId":     d.OrderID.String(),
		"username":    cred.Username,
		"password":    cred.Password,
		"loginUrl":    cred.LoginURL,
		"expiresAt":   cred.ExpiresAt,
		"deliveredAt": d.SentAt,
	})
}

type adminDeliveryReq struct {
	Username  string `json:"username" validate:"omitempty,min=3"`
	Password  string `json:"password" validate:"omitempty,min=6"`
	LoginURL  string `json:"loginUrl" validate:"omitempty,url"`
	ExpiresAt string `json:"expiresAt" validate:"omitempty"`
	Notes     string `json:"notes" validate:"omitempty,max=500"`
}

// AdminDeliver records a manual delivery for a paid order. Empty credentials
// mean auto-generate; supplied ones are stored as-is (encrypted).
func (h *Handler) AdminDeliver(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	var req adminDeliveryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
	}

	ord, err := h.Orders.FindByID(r.Context(), orderID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if ord.Status != order.StatusPaid {
		common.JSONError(w, http.StatusConflict, "ORDER_NOT_PAID", "credentials can only be delivered for a paid order", nil)
		return
	}

	var cred *Credential
	if req.Username != "" || req.Password != "" {
		if req.Username == "" || req.Password == "" {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "username and password must be supplied together", nil)
			return
		}
		expires := time.Now().AddDate(0, 1, 0)
		if req.ExpiresAt != "" {
			parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
			if err != nil {
				common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "expiresAt must be RFC 3339", nil)
				return
			}
			expires = parsed
		}
		cred = &Credential{
			Username:  req.Username,
			Password:  req.Password,
			LoginURL:  req.LoginURL,
			ExpiresAt: expires,
		}
	}

	if err := h.Service.Redeliver(r.Context(), *ord, cred, req.Notes); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"orderId": ord.ID.String(),
		"status":  DeliveryStatusDelivered,
	})
}
