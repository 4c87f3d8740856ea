package payment

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/order"
)

// Handler exposes the client-facing intent flow.
type Handler struct {
	Service  *Service
	Validate *validator.Validate
}

type intentReq struct {
	OrderID  string `json:"orderId" validate:"required,uuid4"`
	Provider string `json:"provider" validate:"required,oneof=vnpay momo stripe"`
}

// CreateIntent starts a checkout for one of the caller's pending orders.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUser(r)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	var req intentReq
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
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid orderId", nil)
		return
	}

	resp, err := h.Service.CreateIntent(r.Context(), userID, orderID, req.Provider)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	out := map[string]any{
		"provider":  resp.Provider,
		"intentId":  resp.IntentID,
		"expiresAt": resp.ExpiresAt,
	}
	if resp.RedirectURL != "" {
		out["redirectUrl"] = resp.RedirectURL
	}
	if resp.ClientSecret != "" {
		out["clientSecret"] = resp.ClientSecret
	}
	common.JSON(w, http.StatusCreated, out)
}

// Status reports the payment state of one of the caller's orders.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUser(r)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	ord, err := h.Service.Status(r.Context(), userID, orderID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	out := map[string]any{
		"orderId": ord.ID.String(),
		"status":  ord.Status,
		"total":   ord.Total,
	}
	if ord.PaidAt != nil {
		out["paidAt"] = ord.PaidAt
	}
	if p, ok := ord.Metadata[order.MetaProvider]; ok {
		out["provider"] = p
	}
	common.JSON(w, http.StatusOK, out)
}

func authedUser(r *http.Request) (uuid.UUID, error) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		return uuid.Nil, common.ErrForbidden
	}
	return uuid.Parse(strings.TrimSpace(userID))
}
