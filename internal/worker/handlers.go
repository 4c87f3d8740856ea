package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/order"
)

// OrderSource is the order access the worker needs.
type OrderSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	ListPaidMissingDelivery(ctx context.Context, grace time.Duration, limit int) ([]order.Order, error)
}

// Fulfiller runs credential delivery. Both methods are idempotent.
type Fulfiller interface {
	Deliver(ctx context.Context, ord order.Order, note string) (bool, error)
	Backfill(ctx context.Context, ord order.Order) (bool, error)
}

// Handlers processes the delivery task queue.
type Handlers struct {
	Orders      OrderSource
	Fulfill     Fulfiller
	GracePeriod time.Duration
	BatchSize   int
	Logger      zerolog.Logger
}

// Register attaches the task handlers to an asynq mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskDeliveryBackfill, h.HandleBackfill)
	mux.HandleFunc(TaskDeliveryRetry, h.HandleRetry)
}

// HandleBackfill sweeps paid orders older than the grace period that still
// have no delivery and re-runs fulfillment for each. Individual failures
// are logged and skipped so one bad order cannot stall the sweep.
func (h *Handlers) HandleBackfill(ctx context.Context, _ *asynq.Task) error {
	limit := h.BatchSize
	if limit <= 0 {
		limit = 100
	}
	orders, err := h.Orders.ListPaidMissingDelivery(ctx, h.GracePeriod, limit)
	if err != nil {
		return fmt.Errorf("list paid orders missing delivery: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}

	delivered := 0
	for _, ord := range orders {
		inserted, err := h.Fulfill.Backfill(ctx, ord)
		if err != nil {
			h.Logger.Error().Err(err).
				Str("order_id", ord.ID.String()).
				Msg("backfill delivery failed")
			continue
		}
		if inserted {
			delivered++
		}
	}
	h.Logger.Info().
		Int("scanned", len(orders)).
		Int("delivered", delivered).
		Msg("delivery backfill sweep complete")
	return nil
}

// HandleRetry re-runs delivery for the one order named in the task. A
// no-longer-paid or vanished order consumes the task without error.
func (h *Handlers) HandleRetry(ctx context.Context, t *asynq.Task) error {
	var payload retryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode retry payload: %v: %w", err, asynq.SkipRetry)
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", payload.OrderID, asynq.SkipRetry)
	}

	ord, err := h.Orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			h.Logger.Warn().Str("order_id", payload.OrderID).Msg("retry target no longer exists")
			return nil
		}
		return err
	}
	if ord.Status != order.StatusPaid {
		h.Logger.Warn().
			Str("order_id", payload.OrderID).
			Str("status", string(ord.Status)).
			Msg("retry target is not paid, dropping")
		return nil
	}

	if _, err := h.Fulfill.Deliver(ctx, *ord, "queued retry after delivery failure"); err != nil {
		return fmt.Errorf("retry delivery for %s: %w", orderID, err)
	}
	return nil
}
