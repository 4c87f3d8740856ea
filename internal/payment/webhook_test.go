package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/order"
)

type webhookFixture struct {
	handler *WebhookHandler
	store   *stubOrderStore
	del     *stubDeliverer
	notif   *stubNotifier
}

func newWebhookFixture(t *testing.T, orders ...*order.Order) *webhookFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newStubOrderStore(orders...)
	del := &stubDeliverer{}
	notif := &stubNotifier{}
	return &webhookFixture{
		handler: &WebhookHandler{
			Engine: newTestEngine(store, del, notif, nil),
			VNPay:  &VNPay{TmnCode: "SHOPTK01", HashSecret: vnpayTestSecret},
			MoMo: &MoMo{
				PartnerCode: "MOMOSHOPTK",
				AccessKey:   momoTestAccessKey,
				SecretKey:   momoTestSecret,
			},
			Stripe:        &Stripe{WebhookSecret: "whsec_test"},
			Replay:        &ReplayGuard{Client: client, TTL: time.Hour, Logger: zerolog.Nop()},
			ResultPageURL: "https://shoptk.vn/payment/result",
			Logger:        zerolog.Nop(),
		},
		store: store,
		del:   del,
		notif: notif,
	}
}

func postVNPayIPN(t *testing.T, fx *webhookFixture, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/vnpay", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	fx.handler.HandleVNPayIPN(rec, req)
	return rec
}

func TestVNPayIPNEndToEnd(t *testing.T) {
	ord := pendingOrder(59900)
	fx := newWebhookFixture(t, ord)

	body, err := json.Marshal(signedVNPayFields(t, map[string]string{
		"vnp_TxnRef": ord.ID.String(),
		"vnp_Amount": "5990000",
	}))
	require.NoError(t, err)

	rec := postVNPayIPN(t, fx, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var ack map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "00", ack["RspCode"])
	assert.Equal(t, "Confirm Success", ack["Message"])

	got, err := fx.store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, 1, fx.del.delivered[ord.ID])
}

func TestVNPayIPNDuplicateResend(t *testing.T) {
	ord := pendingOrder(59900)
	fx := newWebhookFixture(t, ord)

	body, err := json.Marshal(signedVNPayFields(t, map[string]string{
		"vnp_TxnRef": ord.ID.String(),
	}))
	require.NoError(t, err)

	first := postVNPayIPN(t, fx, body)
	require.Equal(t, http.StatusOK, first.Code)

	// gateways re-send the exact payload; the ack must stay positive and
	// nothing may run twice
	second := postVNPayIPN(t, fx, body)
	require.Equal(t, http.StatusOK, second.Code)

	var ack map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &ack))
	assert.Equal(t, "00", ack["RspCode"])
	assert.Equal(t, 1, fx.del.delivered[ord.ID])
	assert.Equal(t, []string{"payment_success"}, fx.notif.types)
}

func TestVNPayIPNTamperedSignature(t *testing.T) {
	ord := pendingOrder(59900)
	fx := newWebhookFixture(t, ord)

	fields := signedVNPayFields(t, map[string]string{"vnp_TxnRef": ord.ID.String()})
	fields["vnp_Amount"] = "1"
	body, err := json.Marshal(fields)
	require.NoError(t, err)

	rec := postVNPayIPN(t, fx, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := fx.store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)

	// a resend of a rejected payload is rejected again, never acked as a
	// replay of a processed one
	rec = postVNPayIPN(t, fx, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVNPayIPNStorageErrorRetryReprocessed(t *testing.T) {
	ord := pendingOrder(59900)
	fx := newWebhookFixture(t, ord)

	body, err := json.Marshal(signedVNPayFields(t, map[string]string{
		"vnp_TxnRef": ord.ID.String(),
	}))
	require.NoError(t, err)

	fx.store.fail = common.WrapStorage("update order status", errors.New("connection reset"))
	first := postVNPayIPN(t, fx, body)
	require.Equal(t, http.StatusInternalServerError, first.Code)

	// the 500 tells the gateway to retry the identical payload; the failed
	// attempt must not have claimed the replay marker
	fx.store.fail = nil
	second := postVNPayIPN(t, fx, body)
	require.Equal(t, http.StatusOK, second.Code)

	var ack map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &ack))
	assert.Equal(t, "00", ack["RspCode"])

	got, err := fx.store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, 1, fx.del.delivered[ord.ID])
}

func TestVNPayIPNUnknownOrder(t *testing.T) {
	fx := newWebhookFixture(t)

	body, err := json.Marshal(signedVNPayFields(t, nil))
	require.NoError(t, err)

	rec := postVNPayIPN(t, fx, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postVNPayIPN(t, fx, body)
	assert.Equal(t, http.StatusNotFound, rec.Code, "resend of an unmatched payload is answered the same way")
}

func TestVNPayReturnRedirect(t *testing.T) {
	ord := pendingOrder(59900)
	fx := newWebhookFixture(t, ord)

	values := url.Values{}
	for k, v := range signedVNPayFields(t, map[string]string{"vnp_TxnRef": ord.ID.String()}) {
		values.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodGet, "/payment/vnpay/return?"+values.Encode(), nil)
	rec := httptest.NewRecorder()
	fx.handler.HandleVNPayReturn(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "success", loc.Query().Get("status"))
	assert.Equal(t, ord.ID.String(), loc.Query().Get("orderId"))

	// the return leg informs the browser only
	got, err := fx.store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
}

func TestMoMoIPNEndToEnd(t *testing.T) {
	ord := pendingOrder(59900)
	fx := newWebhookFixture(t, ord)

	body := signedMoMoIPN(t, func(p *momoIPN) { p.OrderID = ord.ID.String() })
	req := httptest.NewRequest(http.MethodPost, "/webhooks/momo", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	fx.handler.HandleMoMoIPN(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "MOMOSHOPTK", ack["partnerCode"])
	assert.Equal(t, ord.ID.String(), ack["orderId"])
	assert.EqualValues(t, 0, ack["resultCode"])

	got, err := fx.store.FindByID(t.Context(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	fx := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	fx.handler.HandleStripe(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
