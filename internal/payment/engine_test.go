package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/order"
)

// stubOrderStore reproduces the repository's conditional-update semantics
// in memory, including its no-op TransitionResult for resolved orders.
type stubOrderStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*order.Order
	intents map[string]uuid.UUID
	fail    error
}

func newStubOrderStore(orders ...*order.Order) *stubOrderStore {
	s := &stubOrderStore{
		orders:  map[uuid.UUID]*order.Order{},
		intents: map[string]uuid.UUID{},
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubOrderStore) FindByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubOrderStore) FindByIntentID(_ context.Context, intentID string) (*order.Order, error) {
	s.mu.Lock()
	id, ok := s.intents[intentID]
	s.mu.Unlock()
	if !ok {
		return nil, common.ErrNotFound
	}
	return s.FindByID(context.Background(), id)
}

func (s *stubOrderStore) TransitionToPaid(_ context.Context, id uuid.UUID, meta map[string]string) (order.TransitionResult, error) {
	return s.transition(id, order.StatusPaid, meta)
}

func (s *stubOrderStore) TransitionToFailed(_ context.Context, id uuid.UUID, meta map[string]string) (order.TransitionResult, error) {
	return s.transition(id, order.StatusFailed, meta)
}

func (s *stubOrderStore) transition(id uuid.UUID, to order.Status, meta map[string]string) (order.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return order.TransitionResult{}, s.fail
	}
	o, ok := s.orders[id]
	if !ok {
		return order.TransitionResult{}, common.ErrNotFound
	}
	if o.Status != order.StatusPending {
		return order.TransitionResult{Applied: false, Order: *o}, nil
	}
	o.Status = to
	if o.Metadata == nil {
		o.Metadata = map[string]string{}
	}
	for k, v := range meta {
		o.Metadata[k] = v
	}
	return order.TransitionResult{Applied: true, Order: *o}, nil
}

type stubDeliverer struct {
	mu        sync.Mutex
	delivered map[uuid.UUID]int
	err       error
}

func (d *stubDeliverer) Deliver(_ context.Context, ord order.Order, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.delivered == nil {
		d.delivered = map[uuid.UUID]int{}
	}
	d.delivered[ord.ID]++
	return d.delivered[ord.ID] == 1, nil
}

type stubNotifier struct {
	mu    sync.Mutex
	types []string
}

func (n *stubNotifier) Emit(_ context.Context, _ uuid.UUID, typ, _ string, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, typ)
	return nil
}

type stubRetry struct {
	mu     sync.Mutex
	orders []uuid.UUID
}

func (r *stubRetry) ScheduleDeliveryRetry(_ context.Context, orderID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, orderID)
	return nil
}

func pendingOrder(total int64) *order.Order {
	return &order.Order{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Total:  total,
		Status: order.StatusPending,
	}
}

func newTestEngine(store OrderStore, del Deliverer, notif Notifier, retry RetryScheduler) *Engine {
	return &Engine{
		Orders:    store,
		Deliverer: del,
		Notifier:  notif,
		Retry:     retry,
		Logger:    zerolog.Nop(),
	}
}

func successCallback(ord *order.Order) CallbackResult {
	return CallbackResult{
		Valid:      true,
		OrderID:    ord.ID.String(),
		TxnID:      "txn-1",
		ResultCode: "00",
		Success:    true,
		Amount:     ord.Total,
	}
}

func TestEngineProcessFirstSuccessDeliversOnce(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	del := &stubDeliverer{}
	notif := &stubNotifier{}
	engine := newTestEngine(store, del, notif, nil)

	outcome, err := engine.Process(t.Context(), "vnpay", successCallback(ord))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, 1, del.delivered[ord.ID])
	assert.Contains(t, notif.types, "payment_success")

	got, err := store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, "vnpay", got.Metadata[order.MetaProvider])
	assert.Equal(t, "txn-1", got.Metadata[order.MetaTxnID])
}

func TestEngineProcessConcurrentCallbacksDeliverOnce(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	del := &stubDeliverer{}
	notif := &stubNotifier{}
	engine := newTestEngine(store, del, notif, nil)

	const callers = 16
	outcomes := make(chan Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := engine.Process(context.Background(), "vnpay", successCallback(ord))
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	processed := 0
	for outcome := range outcomes {
		if outcome == OutcomeProcessed {
			processed++
		} else {
			assert.Equal(t, OutcomeDuplicate, outcome)
		}
	}
	assert.Equal(t, 1, processed, "exactly one caller wins the conditional update")
	assert.Equal(t, 1, del.delivered[ord.ID])
	assert.Equal(t, []string{"payment_success"}, notif.types)

	got, err := store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
}

func TestEngineProcessDuplicateSuccessIsNoOp(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	del := &stubDeliverer{}
	notif := &stubNotifier{}
	engine := newTestEngine(store, del, notif, nil)

	outcome, err := engine.Process(t.Context(), "vnpay", successCallback(ord))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	outcome, err = engine.Process(t.Context(), "vnpay", successCallback(ord))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, del.delivered[ord.ID], "delivery must run exactly once")
	assert.Equal(t, []string{"payment_success"}, notif.types)
}

func TestEngineProcessFailedThenSuccessStaysFailed(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	del := &stubDeliverer{}
	notif := &stubNotifier{}
	engine := newTestEngine(store, del, notif, nil)

	failed := successCallback(ord)
	failed.Success = false
	failed.ResultCode = "24"

	outcome, err := engine.Process(t.Context(), "vnpay", failed)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)
	assert.Contains(t, notif.types, "payment_failed")

	// a late success callback must not resurrect a failed order
	outcome, err = engine.Process(t.Context(), "vnpay", successCallback(ord))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Zero(t, del.delivered[ord.ID])

	got, err := store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, got.Status)
}

func TestEngineProcessPaidThenFailureStaysPaid(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	del := &stubDeliverer{}
	engine := newTestEngine(store, del, &stubNotifier{}, nil)

	outcome, err := engine.Process(t.Context(), "momo", successCallback(ord))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	failed := successCallback(ord)
	failed.Success = false
	failed.ResultCode = "1006"

	outcome, err = engine.Process(t.Context(), "momo", failed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	got, err := store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
}

func TestEngineProcessAmountMismatchDoesNotTouchTotal(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	engine := newTestEngine(store, &stubDeliverer{}, &stubNotifier{}, nil)

	cb := successCallback(ord)
	cb.Amount = 100

	outcome, err := engine.Process(t.Context(), "vnpay", cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	got, err := store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(59900), got.Total)
	assert.Equal(t, "100", got.Metadata[order.MetaGatewayAmount])
}

func TestEngineProcessUnknownOrder(t *testing.T) {
	engine := newTestEngine(newStubOrderStore(), &stubDeliverer{}, &stubNotifier{}, nil)

	outcome, err := engine.Process(t.Context(), "vnpay", CallbackResult{
		Valid:   true,
		OrderID: uuid.NewString(),
		Success: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestEngineProcessResolvesByIntentID(t *testing.T) {
	ord := pendingOrder(29900)
	store := newStubOrderStore(ord)
	store.intents["pi_3abc"] = ord.ID
	engine := newTestEngine(store, &stubDeliverer{}, &stubNotifier{}, nil)

	outcome, err := engine.Process(t.Context(), "stripe", CallbackResult{
		Valid:    true,
		IntentID: "pi_3abc",
		Success:  true,
		Amount:   29900,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	got, err := store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, "pi_3abc", got.Metadata[order.MetaIntentID])
}

func TestEngineProcessNoCorrelationIsIgnored(t *testing.T) {
	engine := newTestEngine(newStubOrderStore(), &stubDeliverer{}, &stubNotifier{}, nil)

	outcome, err := engine.Process(t.Context(), "stripe", CallbackResult{Valid: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestEngineProcessStorageErrorPropagates(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	store.fail = common.WrapStorage("orders.find", assert.AnError)
	engine := newTestEngine(store, &stubDeliverer{}, &stubNotifier{}, nil)

	_, err := engine.Process(t.Context(), "vnpay", successCallback(ord))
	require.Error(t, err)
	assert.True(t, common.IsStorageError(err))
}

func TestEngineProcessDeliveryFailureSchedulesRetry(t *testing.T) {
	ord := pendingOrder(59900)
	store := newStubOrderStore(ord)
	del := &stubDeliverer{err: assert.AnError}
	retry := &stubRetry{}
	engine := newTestEngine(store, del, &stubNotifier{}, retry)

	outcome, err := engine.Process(t.Context(), "vnpay", successCallback(ord))
	require.NoError(t, err, "delivery failures must not fail the callback")
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, []uuid.UUID{ord.ID}, retry.orders)

	got, err := store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status, "payment stays recorded even when delivery fails")
}
