package payment

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/notify"
	"github.com/shoptk/backend-shoptk/internal/order"
)

// Outcome classifies how a verified callback was reconciled.
type Outcome int

const (
	// OutcomeProcessed means this callback applied the first status
	// transition for its order.
	OutcomeProcessed Outcome = iota
	// OutcomeDuplicate means the order was already resolved; the callback
	// is acknowledged so the gateway stops retrying, but nothing ran.
	OutcomeDuplicate
	// OutcomeNotFound means no order matched the correlation id.
	OutcomeNotFound
	// OutcomeIgnored means the event carried no actionable correlation
	// (e.g. a processor event type the engine does not handle).
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "ignored"
	}
}

// OrderStore is the slice of the order repository the engine depends on.
type OrderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	FindByIntentID(ctx context.Context, intentID string) (*order.Order, error)
	TransitionToPaid(ctx context.Context, id uuid.UUID, meta map[string]string) (order.TransitionResult, error)
	TransitionToFailed(ctx context.Context, id uuid.UUID, meta map[string]string) (order.TransitionResult, error)
}

// Deliverer provisions credentials for a freshly paid order. The bool
// reports whether a delivery was actually created (false on the guarded
// already-exists path).
type Deliverer interface {
	Deliver(ctx context.Context, ord order.Order, note string) (bool, error)
}

// Notifier records a user-visible notification; failures are the caller's
// to log, never to propagate.
type Notifier interface {
	Emit(ctx context.Context, userID uuid.UUID, typ, message string, meta map[string]string) error
}

// RetryScheduler enqueues a later delivery retry when the inline
// side-effect chain fails.
type RetryScheduler interface {
	ScheduleDeliveryRetry(ctx context.Context, orderID uuid.UUID) error
}

// Engine reconciles verified gateway callbacks against the order state
// machine. All concurrency safety is delegated to the repository's
// conditional update; the engine itself holds no cross-callback state.
type Engine struct {
	Orders     OrderStore
	Deliverer  Deliverer
	Notifier   Notifier
	Retry      RetryScheduler
	Logger     zerolog.Logger
	SideEffect time.Duration
}

// Process applies a verified callback. StorageError is the only error
// surfaced to the handler (mapped to 5xx so the gateway retries);
// everything else resolves to an Outcome.
func (e *Engine) Process(ctx context.Context, providerName string, res CallbackResult) (Outcome, error) {
	ctx, span := otel.Tracer("payment.Engine").Start(ctx, "Engine.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", providerName),
		attribute.String("payment.result_code", res.ResultCode),
	)

	ord, outcome, err := e.resolveOrder(ctx, res)
	if err != nil {
		return 0, err
	}
	if ord == nil {
		return outcome, nil
	}
	span.SetAttributes(attribute.String("order.id", ord.ID.String()))

	// gateway-reported amounts are audit data only; a mismatch is logged
	// and never blocks the transition or mutates the stored total
	if res.Amount > 0 && res.Amount != ord.Total {
		e.Logger.Warn().
			Str("order_id", ord.ID.String()).
			Str("provider", providerName).
			Int64("order_total", ord.Total).
			Int64("gateway_amount", res.Amount).
			Msg("gateway amount mismatch")
	}

	meta := callbackMetadata(providerName, res)
	if res.Success {
		tr, err := e.Orders.TransitionToPaid(ctx, ord.ID, meta)
		if err != nil {
			return 0, err
		}
		if !tr.Applied {
			e.Logger.Info().
				Str("order_id", ord.ID.String()).
				Str("provider", providerName).
				Str("status", string(tr.Order.Status)).
				Msg("duplicate success callback ignored")
			return OutcomeDuplicate, nil
		}
		e.runSideEffects(ctx, tr.Order)
		return OutcomeProcessed, nil
	}

	tr, err := e.Orders.TransitionToFailed(ctx, ord.ID, meta)
	if err != nil {
		return 0, err
	}
	if !tr.Applied {
		return OutcomeDuplicate, nil
	}
	e.isolated(ctx, tr.Order.ID, "payment_failed notification", func(ctx context.Context) error {
		return e.Notifier.Emit(ctx, tr.Order.UserID, notify.TypePaymentFailed,
			"Thanh toán không thành công. Vui lòng thử lại.",
			map[string]string{"orderId": tr.Order.ID.String(), "provider": providerName})
	})
	return OutcomeProcessed, nil
}

func (e *Engine) resolveOrder(ctx context.Context, res CallbackResult) (*order.Order, Outcome, error) {
	switch {
	case res.OrderID != "":
		id, err := uuid.Parse(res.OrderID)
		if err != nil {
			return nil, OutcomeNotFound, nil
		}
		ord, err := e.Orders.FindByID(ctx, id)
		return orderOrOutcome(ord, err)
	case res.IntentID != "":
		ord, err := e.Orders.FindByIntentID(ctx, res.IntentID)
		return orderOrOutcome(ord, err)
	default:
		return nil, OutcomeIgnored, nil
	}
}

func orderOrOutcome(ord *order.Order, err error) (*order.Order, Outcome, error) {
	if err != nil {
		if common.IsStorageError(err) {
			return nil, 0, err
		}
		return nil, OutcomeNotFound, nil
	}
	return ord, OutcomeProcessed, nil
}

// runSideEffects executes the post-paid delivery chain. Each step runs in
// its own error boundary: a failure is logged and queued for the backfill
// sweep, and never rolls back the payment or fails the gateway response.
func (e *Engine) runSideEffects(ctx context.Context, ord order.Order) {
	e.isolated(ctx, ord.ID, "payment_success notification", func(ctx context.Context) error {
		return e.Notifier.Emit(ctx, ord.UserID, notify.TypePaymentSuccess,
			"Thanh toán thành công. Đơn hàng của bạn đang được xử lý.",
			map[string]string{"orderId": ord.ID.String()})
	})
	e.isolated(ctx, ord.ID, "credential delivery", func(ctx context.Context) error {
		_, err := e.Deliverer.Deliver(ctx, ord, "automatic delivery on payment confirmation")
		if err != nil && e.Retry != nil {
			if schedErr := e.Retry.ScheduleDeliveryRetry(ctx, ord.ID); schedErr != nil {
				e.Logger.Error().Err(schedErr).
					Str("order_id", ord.ID.String()).
					Msg("schedule delivery retry failed")
			}
		}
		return err
	})
}

func (e *Engine) isolated(ctx context.Context, orderID uuid.UUID, step string, fn func(context.Context) error) {
	timeout := e.SideEffect
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		e.Logger.Error().Err(err).
			Str("order_id", orderID.String()).
			Str("step", step).
			Msg("side effect failed")
	}
}

func callbackMetadata(providerName string, res CallbackResult) map[string]string {
	meta := map[string]string{
		order.MetaProvider:   providerName,
		order.MetaResultCode: res.ResultCode,
	}
	if res.TxnID != "" {
		meta[order.MetaTxnID] = res.TxnID
	}
	if res.IntentID != "" {
		meta[order.MetaIntentID] = res.IntentID
	}
	if res.Amount > 0 {
		meta[order.MetaGatewayAmount] = strconv.FormatInt(res.Amount, 10)
	}
	if !res.Success {
		meta[order.MetaFailureReason] = res.ResultCode
	}
	return meta
}
