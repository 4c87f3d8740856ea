package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/obs"
)

// ReplayGuard deduplicates raw webhook payloads with a short-lived Redis
// SETNX marker. It is advisory only: when Redis is unavailable the callback
// proceeds and the conditional status update remains the real protection.
// The marker may only stand for payloads that were acknowledged positively;
// every non-2xx answer must release it so the gateway's retry of the same
// body is processed instead of short-circuited.
type ReplayGuard struct {
	Client *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger
}

func (g *ReplayGuard) key(provider string, body []byte) string {
	return "webhook:replay:" + provider + ":" + common.Sha256Hex(string(body))
}

// FirstSeen reports whether this exact payload has not been observed within
// the TTL window.
func (g *ReplayGuard) FirstSeen(ctx context.Context, provider string, body []byte) bool {
	if g == nil || g.Client == nil {
		return true
	}
	ok, err := g.Client.SetNX(ctx, g.key(provider, body), "1", g.TTL).Result()
	if err != nil {
		g.Logger.Warn().Err(err).Str("provider", provider).Msg("replay guard unavailable, proceeding")
		return true
	}
	return ok
}

// Forget releases the marker for a payload that was not acknowledged
// positively, so the gateway's retry runs the full pipeline again.
func (g *ReplayGuard) Forget(ctx context.Context, provider string, body []byte) {
	if g == nil || g.Client == nil {
		return
	}
	if err := g.Client.Del(ctx, g.key(provider, body)).Err(); err != nil {
		g.Logger.Warn().Err(err).Str("provider", provider).Msg("replay marker not released")
	}
}

// WebhookHandler terminates gateway callbacks over HTTP. Verification and
// acknowledgement formats are provider-specific; reconciliation is shared
// through the engine.
type WebhookHandler struct {
	Engine        *Engine
	VNPay         *VNPay
	MoMo          *MoMo
	Stripe        *Stripe
	Replay        *ReplayGuard
	ResultPageURL string
	Logger        zerolog.Logger
}

// HandleVNPayIPN processes the server-to-server VNPay IPN call.
func (h *WebhookHandler) HandleVNPayIPN(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read request body", nil)
		return
	}
	if !h.Replay.FirstSeen(r.Context(), h.VNPay.Name(), body) {
		h.countWebhook(h.VNPay.Name(), "replay")
		common.JSON(w, http.StatusOK, vnpayAck("00", "Confirm Success"))
		return
	}

	res, err := h.VNPay.VerifyCallback(r, body)
	if err != nil || !res.Valid {
		h.rejectSignature(w, r, h.VNPay.Name(), body, err)
		return
	}

	outcome, err := h.Engine.Process(r.Context(), h.VNPay.Name(), res)
	if err != nil {
		h.storageFailure(w, r, h.VNPay.Name(), body, err)
		return
	}
	h.countWebhook(h.VNPay.Name(), outcome.String())
	if outcome == OutcomeNotFound {
		h.orderNotFound(w, r, h.VNPay.Name(), body)
		return
	}
	common.JSON(w, http.StatusOK, vnpayAck("00", "Confirm Success"))
}

// HandleVNPayReturn processes the browser redirect back from the VNPay
// payment page. The return leg only informs the user; the IPN is the sole
// writer, so no transition runs here.
func (h *WebhookHandler) HandleVNPayReturn(w http.ResponseWriter, r *http.Request) {
	res := h.VNPay.VerifyReturn(r.URL.Query())
	if !res.Valid {
		h.countWebhook(h.VNPay.Name(), "return_invalid")
		h.redirectResult(w, r, res.OrderID, "invalid")
		return
	}
	h.countWebhook(h.VNPay.Name(), "return_ok")

	status := "failed"
	if res.Success {
		status = "success"
	}
	h.redirectResult(w, r, res.OrderID, status)
}

// HandleMoMoIPN processes the MoMo server notification. MoMo expects the
// acknowledgement to echo its correlation ids.
func (h *WebhookHandler) HandleMoMoIPN(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read request body", nil)
		return
	}
	if !h.Replay.FirstSeen(r.Context(), h.MoMo.Name(), body) {
		h.countWebhook(h.MoMo.Name(), "replay")
		common.JSON(w, http.StatusOK, momoAck(body))
		return
	}

	res, err := h.MoMo.VerifyCallback(r, body)
	if err != nil || !res.Valid {
		h.rejectSignature(w, r, h.MoMo.Name(), body, err)
		return
	}

	outcome, err := h.Engine.Process(r.Context(), h.MoMo.Name(), res)
	if err != nil {
		h.storageFailure(w, r, h.MoMo.Name(), body, err)
		return
	}
	h.countWebhook(h.MoMo.Name(), outcome.String())
	if outcome == OutcomeNotFound {
		h.orderNotFound(w, r, h.MoMo.Name(), body)
		return
	}
	common.JSON(w, http.StatusOK, momoAck(body))
}

// HandleStripe processes Stripe webhook events.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read request body", nil)
		return
	}
	if !h.Replay.FirstSeen(r.Context(), h.Stripe.Name(), body) {
		h.countWebhook(h.Stripe.Name(), "replay")
		common.JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	res, err := h.Stripe.VerifyCallback(r, body)
	if err != nil || !res.Valid {
		h.rejectSignature(w, r, h.Stripe.Name(), body, err)
		return
	}

	outcome, err := h.Engine.Process(r.Context(), h.Stripe.Name(), res)
	if err != nil {
		h.storageFailure(w, r, h.Stripe.Name(), body, err)
		return
	}
	h.countWebhook(h.Stripe.Name(), outcome.String())
	if outcome == OutcomeNotFound {
		h.orderNotFound(w, r, h.Stripe.Name(), body)
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) rejectSignature(w http.ResponseWriter, r *http.Request, provider string, body []byte, err error) {
	h.Replay.Forget(r.Context(), provider, body)
	h.Logger.Warn().Err(err).Str("provider", provider).Msg("webhook signature rejected")
	h.countWebhook(provider, "signature_invalid")
	common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "callback signature verification failed", nil)
}

func (h *WebhookHandler) storageFailure(w http.ResponseWriter, r *http.Request, provider string, body []byte, err error) {
	h.Replay.Forget(r.Context(), provider, body)
	h.Logger.Error().Err(err).Str("provider", provider).Msg("webhook reconciliation storage failure")
	h.countWebhook(provider, "storage_error")
	common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "temporary failure, please retry", nil)
}

func (h *WebhookHandler) orderNotFound(w http.ResponseWriter, r *http.Request, provider string, body []byte) {
	h.Replay.Forget(r.Context(), provider, body)
	common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "no order matches the callback reference", nil)
}

func (h *WebhookHandler) redirectResult(w http.ResponseWriter, r *http.Request, orderID, status string) {
	target := h.ResultPageURL
	q := url.Values{}
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	q.Set("status", status)
	http.Redirect(w, r, target+"?"+q.Encode(), http.StatusFound)
}

func (h *WebhookHandler) countWebhook(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}

func vnpayAck(code, message string) map[string]string {
	return map[string]string{"RspCode": code, "Message": message}
}

// momoAck echoes the gateway's correlation ids back with resultCode 0,
// which is how MoMo is told to stop retrying the notification.
func momoAck(body []byte) map[string]any {
	var in struct {
		PartnerCode string `json:"partnerCode"`
		OrderID     string `json:"orderId"`
		RequestID   string `json:"requestId"`
	}
	_ = json.Unmarshal(body, &in)
	return map[string]any{
		"partnerCode": in.PartnerCode,
		"orderId":     in.OrderID,
		"requestId":   in.RequestID,
		"resultCode":  0,
		"message":     "success",
	}
}
