package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shoptk/backend-shoptk/internal/common"
	"github.com/shoptk/backend-shoptk/internal/obs"
	"github.com/shoptk/backend-shoptk/internal/order"
)

// IntentStore is the slice of the order repository the intent flow needs.
type IntentStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	SaveIntent(ctx context.Context, orderID uuid.UUID, provider, intentID string) error
}

// Service creates payment intents against a registry of gateway providers
// and records the intent-to-order correlation used by later callbacks.
type Service struct {
	Orders    IntentStore
	Providers map[string]Provider
	IntentTTL time.Duration
	ReturnURL string
	NotifyURL func(provider string) string
	Logger    zerolog.Logger
}

// CreateIntent starts a checkout with the requested gateway. The order must
// belong to the caller and still be pending.
func (s *Service) CreateIntent(ctx context.Context, userID, orderID uuid.UUID, providerName string) (IntentResponse, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "Service.CreateIntent")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", providerName),
		attribute.String("order.id", orderID.String()),
	)

	provider, ok := s.Providers[strings.ToLower(providerName)]
	if !ok {
		s.countIntent(providerName, "unknown_provider")
		return IntentResponse{}, common.NewAppError("UNSUPPORTED_PROVIDER",
			fmt.Sprintf("payment provider %q is not supported", providerName),
			http.StatusBadRequest, nil)
	}

	ord, err := s.Orders.FindByID(ctx, orderID)
	if err != nil {
		s.countIntent(provider.Name(), "order_lookup_failed")
		return IntentResponse{}, err
	}
	// hide other users' orders rather than confirming they exist
	if ord.UserID != userID {
		s.countIntent(provider.Name(), "not_owner")
		return IntentResponse{}, common.ErrNotFound
	}
	if ord.Status != order.StatusPending {
		s.countIntent(provider.Name(), "not_pending")
		return IntentResponse{}, common.NewAppError("ORDER_NOT_PENDING",
			"payment can only be started for a pending order",
			http.StatusConflict, nil)
	}

	resp, err := provider.CreateIntent(ctx, IntentRequest{
		OrderID:   ord.ID.String(),
		Amount:    ord.Total,
		OrderInfo: fmt.Sprintf("Thanh toan don hang %s", ord.ID),
		ExpiresIn: s.IntentTTL,
		ReturnURL: s.ReturnURL,
		NotifyURL: s.notifyURL(provider.Name()),
	})
	if err != nil {
		s.Logger.Error().Err(err).
			Str("provider", provider.Name()).
			Str("order_id", ord.ID.String()).
			Msg("create intent failed")
		s.countIntent(provider.Name(), "gateway_error")
		return IntentResponse{}, common.NewAppError("GATEWAY_ERROR",
			"the payment gateway rejected the request",
			http.StatusBadGateway, err)
	}

	if resp.IntentID != "" && resp.IntentID != ord.ID.String() {
		if err := s.Orders.SaveIntent(ctx, ord.ID, provider.Name(), resp.IntentID); err != nil {
			s.countIntent(provider.Name(), "correlation_failed")
			return IntentResponse{}, err
		}
	}
	s.countIntent(provider.Name(), "created")
	return resp, nil
}

// Status returns the order's payment view for client polling.
func (s *Service) Status(ctx context.Context, userID, orderID uuid.UUID) (*order.Order, error) {
	ord, err := s.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.UserID != userID {
		return nil, common.ErrNotFound
	}
	return ord, nil
}

func (s *Service) notifyURL(provider string) string {
	if s.NotifyURL == nil {
		return ""
	}
	return s.NotifyURL(provider)
}

func (s *Service) countIntent(provider, result string) {
	if obs.PaymentIntentTotal != nil {
		obs.PaymentIntentTotal.WithLabelValues(provider, result).Inc()
	}
}
