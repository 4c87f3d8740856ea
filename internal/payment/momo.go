package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shoptk/backend-shoptk/internal/common"
)

const momoName = "momo"

// MoMo implements the Provider interface for the MoMo wallet gateway.
// Signatures are HMAC-SHA256 over a fixed, provider-documented ordered
// field string. The order differs between request signing and IPN
// verification and must be reproduced literally, not sorted.
type MoMo struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string

	// HTTPClient overrides the shared instrumented client, used by tests.
	HTTPClient *http.Client
}

func (m MoMo) Name() string { return momoName }

// momoIPN mirrors the collectionLink IPN payload.
type momoIPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// momoCreateRequest mirrors the captureWallet create-order body.
type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	PayURL     string `json:"payUrl"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

// CreateIntent opens a hosted-checkout session through the create-order API.
// With no endpoint configured it falls back to a synthesised sandbox link
// built from the same signed request, so local setups work without gateway
// credentials.
func (m MoMo) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return IntentResponse{}, errors.New("order id is required")
	}
	if strings.TrimSpace(m.SecretKey) == "" {
		return IntentResponse{}, errors.New("momo secret key is not configured")
	}
	requestID := uuid.NewString()
	create := momoCreateRequest{
		PartnerCode: m.PartnerCode,
		AccessKey:   m.AccessKey,
		RequestID:   requestID,
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		OrderInfo:   req.OrderInfo,
		RedirectURL: req.ReturnURL,
		IpnURL:      req.NotifyURL,
		RequestType: "captureWallet",
		Lang:        "vi",
	}
	// create-order signing string: field order is fixed by the gateway docs
	rawSignature := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		create.AccessKey, create.Amount, create.ExtraData, create.IpnURL, create.OrderID,
		create.OrderInfo, create.PartnerCode, create.RedirectURL, create.RequestID, create.RequestType,
	)
	create.Signature = common.HmacSHA256Hex(m.SecretKey, rawSignature)

	host := strings.TrimRight(strings.TrimSpace(m.Endpoint), "/")
	if host == "" {
		return IntentResponse{
			Provider:    momoName,
			IntentID:    requestID,
			RedirectURL: fmt.Sprintf("https://test-payment.momo.vn/v2/gateway/pay?t=%s&s=%s", create.OrderID, create.Signature),
			ExpiresAt:   time.Now().Add(req.ExpiresIn),
		}, nil
	}

	payURL, err := m.createOrder(ctx, host, create)
	if err != nil {
		return IntentResponse{}, err
	}
	return IntentResponse{
		Provider:    momoName,
		IntentID:    requestID,
		RedirectURL: payURL,
		ExpiresAt:   time.Now().Add(req.ExpiresIn),
	}, nil
}

func (m MoMo) createOrder(ctx context.Context, host string, create momoCreateRequest) (string, error) {
	payload, err := json.Marshal(create)
	if err != nil {
		return "", fmt.Errorf("encode create order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		host+"/v2/gateway/api/create", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := m.HTTPClient
	if client == nil {
		client = gatewayHTTPClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call create order: %w", err)
	}
	defer resp.Body.Close()

	var out momoCreateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create order response: %w", err)
	}
	if out.ResultCode != 0 {
		return "", fmt.Errorf("gateway refused order: %d %s", out.ResultCode, out.Message)
	}
	if out.PayURL == "" {
		return "", errors.New("gateway returned no pay url")
	}
	return out.PayURL, nil
}

// VerifyCallback authenticates an IPN payload against the documented
// callback signing order, which is not the create-order one.
func (m MoMo) VerifyCallback(_ *http.Request, body []byte) (CallbackResult, error) {
	if strings.TrimSpace(m.SecretKey) == "" {
		return CallbackResult{Valid: false, Err: errors.New("momo secret key is not configured")}, nil
	}
	var payload momoIPN
	if err := json.Unmarshal(body, &payload); err != nil {
		return CallbackResult{Valid: false, Err: err}, nil
	}
	if payload.OrderID == "" || payload.Signature == "" {
		return CallbackResult{Valid: false, Err: errors.New("missing required field")}, nil
	}

	rawSignature := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		m.AccessKey, payload.Amount, payload.ExtraData, payload.Message, payload.OrderID,
		payload.OrderInfo, payload.OrderType, payload.PartnerCode, payload.PayType,
		payload.RequestID, payload.ResponseTime, payload.ResultCode, payload.TransID,
	)
	expected := common.HmacSHA256Hex(m.SecretKey, rawSignature)
	if !common.HmacEqual(expected, payload.Signature) {
		return CallbackResult{Valid: false, Err: common.ErrInvalidSignature}, nil
	}

	return CallbackResult{
		Valid:      true,
		OrderID:    payload.OrderID,
		TxnID:      strconv.FormatInt(payload.TransID, 10),
		ResultCode: strconv.Itoa(payload.ResultCode),
		Success:    payload.ResultCode == 0,
		Amount:     payload.Amount,
		Raw:        body,
	}, nil
}
