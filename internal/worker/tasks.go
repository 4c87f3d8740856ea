package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TaskDeliveryBackfill sweeps paid orders that still lack a delivery.
	TaskDeliveryBackfill = "delivery:backfill"
	// TaskDeliveryRetry re-runs delivery for one order after an inline
	// side-effect failure.
	TaskDeliveryRetry = "delivery:retry"
)

type retryPayload struct {
	OrderID string `json:"orderId"`
}

// NewDeliveryRetryTask builds the targeted retry task for an order.
func NewDeliveryRetryTask(orderID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(retryPayload{OrderID: orderID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliveryRetry, payload, asynq.MaxRetry(5)), nil
}

// NewDeliveryBackfillTask builds the periodic sweep task.
func NewDeliveryBackfillTask() *asynq.Task {
	return asynq.NewTask(TaskDeliveryBackfill, nil, asynq.MaxRetry(1))
}

// Enqueuer schedules delivery retries through asynq. It satisfies the
// payment engine's RetryScheduler.
type Enqueuer struct {
	Client *asynq.Client
	Delay  time.Duration
	Logger zerolog.Logger
}

// ScheduleDeliveryRetry enqueues a targeted retry with a short delay so the
// transient condition has a chance to clear first.
func (e *Enqueuer) ScheduleDeliveryRetry(_ context.Context, orderID uuid.UUID) error {
	task, err := NewDeliveryRetryTask(orderID)
	if err != nil {
		return err
	}
	delay := e.Delay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	info, err := e.Client.Enqueue(task, asynq.ProcessIn(delay), asynq.Queue("deliveries"))
	if err != nil {
		return err
	}
	e.Logger.Info().
		Str("order_id", orderID.String()).
		Str("task_id", info.ID).
		Msg("delivery retry scheduled")
	return nil
}
