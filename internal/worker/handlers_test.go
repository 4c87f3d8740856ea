package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/order"
)

type stubOrderSource struct {
	orders  map[uuid.UUID]*order.Order
	missing []order.Order
}

func (s *stubOrderSource) FindByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return o, nil
}

func (s *stubOrderSource) ListPaidMissingDelivery(_ context.Context, _ time.Duration, limit int) ([]order.Order, error) {
	if len(s.missing) > limit {
		return s.missing[:limit], nil
	}
	return s.missing, nil
}

type stubFulfiller struct {
	delivered map[uuid.UUID]int
	err       error
}

func (f *stubFulfiller) record(id uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.delivered == nil {
		f.delivered = map[uuid.UUID]int{}
	}
	f.delivered[id]++
	return f.delivered[id] == 1, nil
}

func (f *stubFulfiller) Deliver(_ context.Context, ord order.Order, _ string) (bool, error) {
	return f.record(ord.ID)
}

func (f *stubFulfiller) Backfill(_ context.Context, ord order.Order) (bool, error) {
	return f.record(ord.ID)
}

func paidOrder() *order.Order {
	return &order.Order{ID: uuid.New(), UserID: uuid.New(), Total: 59900, Status: order.StatusPaid}
}

func newHandlers(src *stubOrderSource, f *stubFulfiller) *Handlers {
	return &Handlers{
		Orders:      src,
		Fulfill:     f,
		GracePeriod: 10 * time.Minute,
		BatchSize:   50,
		Logger:      zerolog.Nop(),
	}
}

func TestHandleBackfillDeliversMissingOrders(t *testing.T) {
	a, b := paidOrder(), paidOrder()
	src := &stubOrderSource{missing: []order.Order{*a, *b}}
	f := &stubFulfiller{}

	err := newHandlers(src, f).HandleBackfill(t.Context(), NewDeliveryBackfillTask())
	require.NoError(t, err)
	assert.Equal(t, 1, f.delivered[a.ID])
	assert.Equal(t, 1, f.delivered[b.ID])
}

func TestHandleBackfillSkipsFailingOrder(t *testing.T) {
	a := paidOrder()
	src := &stubOrderSource{missing: []order.Order{*a}}
	f := &stubFulfiller{err: assert.AnError}

	// individual failures are logged, not returned, so the sweep reruns later
	err := newHandlers(src, f).HandleBackfill(t.Context(), NewDeliveryBackfillTask())
	assert.NoError(t, err)
}

func TestHandleRetryDeliversPaidOrder(t *testing.T) {
	a := paidOrder()
	src := &stubOrderSource{orders: map[uuid.UUID]*order.Order{a.ID: a}}
	f := &stubFulfiller{}

	task, err := NewDeliveryRetryTask(a.ID)
	require.NoError(t, err)
	require.NoError(t, newHandlers(src, f).HandleRetry(t.Context(), task))
	assert.Equal(t, 1, f.delivered[a.ID])
}

func TestHandleRetryDropsNonPaidOrder(t *testing.T) {
	a := paidOrder()
	a.Status = order.StatusFailed
	src := &stubOrderSource{orders: map[uuid.UUID]*order.Order{a.ID: a}}
	f := &stubFulfiller{}

	task, err := NewDeliveryRetryTask(a.ID)
	require.NoError(t, err)
	require.NoError(t, newHandlers(src, f).HandleRetry(t.Context(), task))
	assert.Empty(t, f.delivered)
}

func TestHandleRetryDropsMissingOrder(t *testing.T) {
	src := &stubOrderSource{}
	f := &stubFulfiller{}

	task, err := NewDeliveryRetryTask(uuid.New())
	require.NoError(t, err)
	assert.NoError(t, newHandlers(src, f).HandleRetry(t.Context(), task))
}

func TestHandleRetryMalformedPayloadSkipsRetry(t *testing.T) {
	src := &stubOrderSource{}
	f := &stubFulfiller{}

	task := asynq.NewTask(TaskDeliveryRetry, []byte("not json"))
	err := newHandlers(src, f).HandleRetry(t.Context(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
