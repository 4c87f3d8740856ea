package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/shoptk/backend-shoptk/internal/common"
)

const stripeName = "stripe"

// stripeClientOnce installs the instrumented HTTP client into the SDK once;
// the SDK holds outbound configuration in package globals.
var stripeClientOnce sync.Once

// Stripe implements the Provider interface for the card processor.
// Callback verification is delegated entirely to the processor SDK's
// constructed-event check; the correlation key is the payment intent id,
// which exists before the order does.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
}

func (s Stripe) Name() string { return stripeName }

// CreateIntent opens a PaymentIntent with the processor. The order id is
// attached as metadata for dashboard investigation; reconciliation still
// goes through the payment_intents correlation table.
func (s Stripe) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return IntentResponse{}, errors.New("order id is required")
	}
	if strings.TrimSpace(s.SecretKey) == "" {
		return IntentResponse{}, errors.New("stripe secret key is not configured")
	}
	stripe.Key = s.SecretKey
	stripeClientOnce.Do(func() {
		stripe.SetHTTPClient(gatewayHTTPClient)
	})
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(string(stripe.CurrencyVND)),
	}
	params.AddMetadata("order_id", req.OrderID)
	if req.OrderInfo != "" {
		params.Description = stripe.String(req.OrderInfo)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("create payment intent: %w", err)
	}
	return IntentResponse{
		Provider:     stripeName,
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		ExpiresAt:    time.Now().Add(req.ExpiresIn),
	}, nil
}

// VerifyCallback validates the webhook through the SDK. Any verification
// failure maps to an invalid-signature result, never a handler crash. An
// unconfigured webhook secret fails closed.
func (s Stripe) VerifyCallback(r *http.Request, body []byte) (CallbackResult, error) {
	if strings.TrimSpace(s.WebhookSecret) == "" {
		return CallbackResult{Valid: false, Err: errors.New("stripe webhook secret is not configured")}, nil
	}
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), s.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return CallbackResult{Valid: false, Err: fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)}, nil
	}

	var intent stripe.PaymentIntent
	if len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return CallbackResult{Valid: false, Err: err}, nil
		}
	}

	result := CallbackResult{
		Valid:      true,
		IntentID:   intent.ID,
		TxnID:      intent.ID,
		ResultCode: string(event.Type),
		Amount:     intent.Amount,
		Raw:        body,
	}
	switch event.Type {
	case "payment_intent.succeeded":
		result.Success = true
	case "payment_intent.payment_failed":
		result.Success = false
	default:
		// other event types are acknowledged without touching any state
		result.IntentID = ""
	}
	return result, nil
}
