package order

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/notify"
)

// Store is the repository surface the HTTP handlers use.
type Store interface {
	Create(ctx context.Context, ord Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Notifier pushes a user-facing notification after a status change.
type Notifier interface {
	Emit(ctx context.Context, userID uuid.UUID, typ, message string, meta map[string]string) error
}

// Handler exposes the synchronous order-creation flow and owner reads.
type Handler struct {
	Repo     Store
	Validate *validator.Validate
	Notify   Notifier
}

type createItemReq struct {
	ProductID     string `json:"productId" validate:"required,uuid4"`
	ProductName   string `json:"productName" validate:"required"`
	PackageMonths int    `json:"packageMonths" validate:"gte=0,lte=36"`
	Qty           int    `json:"qty" validate:"required,gt=0"`
	UnitPrice     int64  `json:"unitPrice" validate:"required,gt=0"`
}

type createReq struct {
	Items []createItemReq `json:"items" validate:"required,min=1,dive"`
}

// Create inserts a new pending order for the authenticated user.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user", nil)
		return
	}
	var req createReq
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

	items := make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		productID, err := uuid.Parse(it.ProductID)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid productId", nil)
			return
		}
		items = append(items, Item{
			ProductID:     productID,
			ProductName:   it.ProductName,
			PackageMonths: it.PackageMonths,
			Qty:           it.Qty,
			UnitPrice:     it.UnitPrice,
		})
	}

	ord := Order{
		ID:     uuid.New(),
		UserID: userUUID,
		Items:  items,
		Total:  ItemTotal(items),
		Status: StatusPending,
	}
	if err := h.Repo.Create(r.Context(), ord); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"id":     ord.ID.String(),
		"total":  ord.Total,
		"status": ord.Status,
	})
}

// Get returns the order when it belongs to the authenticated user.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	ord, err := h.Repo.FindByID(r.Context(), id)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if ord.UserID.String() != userID && !common.IsAdmin(r.Context()) {
		// do not leak existence to other users
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, ord)
}

// Cancel is the admin override that moves an order to cancelled from any state.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	ord, err := h.Repo.FindByID(r.Context(), id)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if err := h.Repo.Cancel(r.Context(), id); err != nil {
		common.RenderError(w, err)
		return
	}
	if h.Notify != nil {
		// notification is best effort
		_ = h.Notify.Emit(r.Context(), ord.UserID, notify.TypeOrderStatusUpdated,
			"Đơn hàng của bạn đã bị hủy.", map[string]string{"orderId": id.String()})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"id":     id.String(),
		"status": StatusCancelled,
	})
}
