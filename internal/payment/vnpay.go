package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shoptk/backend-shoptk/internal/common"
)

const vnpayName = "vnpay"

// VNPay implements the Provider interface for the VNPay bank gateway.
// Signatures are HMAC-SHA512 over the sorted key=value canonical string;
// the signature field itself and its type hint are excluded from hashing.
type VNPay struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

func (v VNPay) Name() string { return vnpayName }

// CreateIntent builds the hosted-payment redirect URL. VNPay has no
// server-side intent object: the signed URL is the intent, and vnp_TxnRef
// doubles as the correlation key.
func (v VNPay) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return IntentResponse{}, errors.New("order id is required")
	}
	if strings.TrimSpace(v.HashSecret) == "" {
		return IntentResponse{}, errors.New("vnpay hash secret is not configured")
	}
	now := time.Now()
	expires := now.Add(req.ExpiresIn)
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = v.ReturnURL
	}
	fields := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  returnURL,
		"vnp_CreateDate": now.Format("20060102150405"),
		"vnp_ExpireDate": expires.Format("20060102150405"),
	}
	signature := common.HmacSHA512Hex(v.HashSecret, canonicalize(fields))

	values := url.Values{}
	for k, val := range fields {
		values.Set(k, val)
	}
	values.Set("vnp_SecureHash", signature)

	return IntentResponse{
		Provider:    vnpayName,
		IntentID:    req.OrderID,
		RedirectURL: fmt.Sprintf("%s?%s", strings.TrimRight(v.PayURL, "?"), values.Encode()),
		ExpiresAt:   expires,
	}, nil
}

// VerifyCallback authenticates an IPN payload. The body is JSON but the
// fields are hashed exactly as VNPay's query-string canonical form. Any
// missing required field yields an invalid result, never an error to crash
// the handler. An empty secret fails closed.
func (v VNPay) VerifyCallback(_ *http.Request, body []byte) (CallbackResult, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return CallbackResult{Valid: false, Err: err}, nil
	}
	fields := make(map[string]string, len(raw))
	for k, val := range raw {
		fields[k] = stringify(val)
	}
	return v.verifyFields(fields, body), nil
}

// VerifyReturn authenticates the GET bounce-back query parameters. It
// shares the IPN canonicalization but drives no state transition.
func (v VNPay) VerifyReturn(values url.Values) CallbackResult {
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return v.verifyFields(fields, nil)
}

func (v VNPay) verifyFields(fields map[string]string, raw []byte) CallbackResult {
	if strings.TrimSpace(v.HashSecret) == "" {
		return CallbackResult{Valid: false, Err: errors.New("vnpay hash secret is not configured")}
	}
	provided := fields["vnp_SecureHash"]
	txnRef := fields["vnp_TxnRef"]
	respCode := fields["vnp_ResponseCode"]
	if provided == "" || txnRef == "" || respCode == "" {
		return CallbackResult{Valid: false, Err: errors.New("missing required field")}
	}

	signable := make(map[string]string, len(fields))
	for k, val := range fields {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		signable[k] = val
	}
	expected := common.HmacSHA512Hex(v.HashSecret, canonicalize(signable))
	// case-sensitive comparison per the gateway contract
	if !common.HmacEqual(expected, provided) {
		return CallbackResult{Valid: false, Err: common.ErrInvalidSignature}
	}

	amount, _ := strconv.ParseInt(fields["vnp_Amount"], 10, 64)
	return CallbackResult{
		Valid:      true,
		OrderID:    txnRef,
		TxnID:      fields["vnp_TransactionNo"],
		ResultCode: respCode,
		Success:    respCode == "00",
		Amount:     amount / 100, // VNPay reports amounts multiplied by 100
		Raw:        raw,
	}
}

// canonicalize sorts keys ascending and joins key=value pairs with '&'.
func canonicalize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		encoded, _ := json.Marshal(t)
		return string(encoded)
	}
}
