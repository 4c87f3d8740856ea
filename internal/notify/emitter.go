package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shoptk/backend-shoptk/internal/obs"
)

// NotificationStore is the persistence slice the emitter writes through.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) error
}

// Emitter persists a notification and then pushes it. It satisfies the
// Notifier interfaces of the payment engine and the fulfillment service.
type Emitter struct {
	Store  NotificationStore
	Pusher *Pusher
	Logger zerolog.Logger
}

// Emit stores the notification and fans it out. The store write is the only
// failure that propagates; push failures stay local.
func (e *Emitter) Emit(ctx context.Context, userID uuid.UUID, typ, message string, meta map[string]string) error {
	n := Notification{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     typ,
		Message:  message,
		Metadata: meta,
	}
	if err := e.Store.Create(ctx, n); err != nil {
		e.count(typ, "store_error")
		return err
	}
	e.Pusher.Push(ctx, n)
	e.count(typ, "emitted")
	return nil
}

func (e *Emitter) count(typ, result string) {
	if obs.NotificationEmitTotal != nil {
		obs.NotificationEmitTotal.WithLabelValues(typ, result).Inc()
	}
}
