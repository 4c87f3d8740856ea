package payment

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// gatewayHTTPClient is the shared outbound client for provider API calls.
// The transport propagates the active trace to the gateway request span.
var gatewayHTTPClient = &http.Client{
	Timeout:   15 * time.Second,
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

// IntentRequest captures the information required to open a payment with a provider.
type IntentRequest struct {
	OrderID   string
	Amount    int64
	OrderInfo string
	ExpiresIn time.Duration
	ReturnURL string
	NotifyURL string
}

// IntentResponse is the minimal information returned when creating an intent.
type IntentResponse struct {
	Provider     string
	IntentID     string
	RedirectURL  string
	ClientSecret string
	ExpiresAt    time.Time
}

// CallbackResult contains the normalised data extracted from a gateway
// callback after signature verification. Exactly one of OrderID or IntentID
// is set: VNPay and MoMo carry the order id directly, the card processor
// only knows its own intent id.
type CallbackResult struct {
	Valid      bool
	OrderID    string
	IntentID   string
	TxnID      string
	ResultCode string
	Success    bool
	Amount     int64
	Raw        []byte
	Err        error
}

// Provider abstracts one upstream payment gateway. Each implementation owns
// its own canonicalization and hash algorithm; they are deliberately not
// unified into a shared signing routine.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyCallback(r *http.Request, body []byte) (CallbackResult, error)
}
