package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoptk/backend-shoptk/internal/common"
)

type memStore struct {
	created []Order
	orders  map[uuid.UUID]*Order
}

func (m *memStore) Create(_ context.Context, ord Order) error {
	m.created = append(m.created, ord)
	return nil
}

func (m *memStore) FindByID(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return o, nil
}

func (m *memStore) Cancel(_ context.Context, id uuid.UUID) error {
	o, ok := m.orders[id]
	if !ok {
		return common.ErrNotFound
	}
	o.Status = StatusCancelled
	return nil
}

type recordingNotifier struct {
	types []string
}

func (n *recordingNotifier) Emit(_ context.Context, _ uuid.UUID, typ, _ string, _ map[string]string) error {
	n.types = append(n.types, typ)
	return nil
}

func authedRequest(method, target string, body []byte, userID string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := common.WithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

func TestHandlerCreate(t *testing.T) {
	store := &memStore{}
	h := &Handler{Repo: store, Validate: validator.New()}
	userID := uuid.NewString()

	body := fmt.Sprintf(`{"items":[{"productId":%q,"productName":"Netflix Premium","packageMonths":3,"qty":2,"unitPrice":59900}]}`, uuid.NewString())
	rec := httptest.NewRecorder()
	h.Create(rec, authedRequest(http.MethodPost, "/api/orders", []byte(body), userID))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.created, 1)
	assert.Equal(t, int64(119800), store.created[0].Total)
	assert.Equal(t, StatusPending, store.created[0].Status)
	assert.Equal(t, userID, store.created[0].UserID.String())
}

func TestHandlerCreateValidation(t *testing.T) {
	h := &Handler{Repo: &memStore{}, Validate: validator.New()}

	cases := map[string]string{
		"no items":   `{"items":[]}`,
		"zero qty":   fmt.Sprintf(`{"items":[{"productId":%q,"productName":"x","qty":0,"unitPrice":100}]}`, uuid.NewString()),
		"bad id":     `{"items":[{"productId":"nope","productName":"x","qty":1,"unitPrice":100}]}`,
		"free item":  fmt.Sprintf(`{"items":[{"productId":%q,"productName":"x","qty":1,"unitPrice":0}]}`, uuid.NewString()),
		"not object": `[]`,
	}
	for name, body := range cases {
		rec := httptest.NewRecorder()
		h.Create(rec, authedRequest(http.MethodPost, "/api/orders", []byte(body), uuid.NewString()))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestHandlerCreateRequiresAuth(t *testing.T) {
	h := &Handler{Repo: &memStore{}, Validate: validator.New()}

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerGetOwnerOnly(t *testing.T) {
	owner := uuid.New()
	ord := &Order{ID: uuid.New(), UserID: owner, Total: 59900, Status: StatusPending}
	store := &memStore{orders: map[uuid.UUID]*Order{ord.ID: ord}}
	h := &Handler{Repo: store}

	router := chi.NewRouter()
	router.Get("/api/orders/{id}", h.Get)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/orders/"+ord.ID.String(), nil, owner.String()))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, ord.ID, got.ID)

	// a different user must not learn the order exists
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/orders/"+ord.ID.String(), nil, uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerGetAdminBypassesOwnership(t *testing.T) {
	ord := &Order{ID: uuid.New(), UserID: uuid.New(), Total: 100, Status: StatusPaid}
	store := &memStore{orders: map[uuid.UUID]*Order{ord.ID: ord}}
	h := &Handler{Repo: store}

	router := chi.NewRouter()
	router.Get("/api/orders/{id}", h.Get)

	req := authedRequest(http.MethodGet, "/api/orders/"+ord.ID.String(), nil, uuid.NewString())
	req = req.WithContext(common.WithRole(req.Context(), "admin"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerCancel(t *testing.T) {
	ord := &Order{ID: uuid.New(), UserID: uuid.New(), Total: 59900, Status: StatusPaid}
	store := &memStore{orders: map[uuid.UUID]*Order{ord.ID: ord}}
	notifier := &recordingNotifier{}
	h := &Handler{Repo: store, Notify: notifier}

	router := chi.NewRouter()
	router.Post("/api/admin/orders/{id}/cancel", h.Cancel)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/admin/orders/"+ord.ID.String()+"/cancel", nil, uuid.NewString()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusCancelled, ord.Status)
	assert.Equal(t, []string{"order_status_updated"}, notifier.types)
}

func TestHandlerCancelUnknownOrder(t *testing.T) {
	h := &Handler{Repo: &memStore{}}

	router := chi.NewRouter()
	router.Post("/api/admin/orders/{id}/cancel", h.Cancel)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/admin/orders/"+uuid.NewString()+"/cancel", nil, uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/admin/orders/not-a-uuid/cancel", nil, uuid.NewString()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItemTotal(t *testing.T) {
	items := []Item{
		{Qty: 2, UnitPrice: 59900},
		{Qty: 1, UnitPrice: 29900},
	}
	assert.Equal(t, int64(149700), ItemTotal(items))
	assert.Zero(t, ItemTotal(nil))
}
