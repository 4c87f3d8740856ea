package fulfill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shoptk/backend-shoptk/internal/notify"
	"github.com/shoptk/backend-shoptk/internal/obs"
	"github.com/shoptk/backend-shoptk/internal/order"
)

// DeliveryStore is what the service needs from persistence.
type DeliveryStore interface {
	CreateIfAbsent(ctx context.Context, d Delivery) (bool, error)
	Upsert(ctx context.Context, d Delivery) error
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Delivery, error)
}

// Notifier records a user-visible notification.
type Notifier interface {
	Emit(ctx context.Context, userID uuid.UUID, typ, message string, meta map[string]string) error
}

// Service provisions and persists credentials for paid orders. The guarded
// insert in the store makes Deliver idempotent, so the payment engine, the
// backfill sweep and manual admin retries can all call it without
// coordination.
type Service struct {
	Store    DeliveryStore
	Enc      *Encryptor
	Gen      Generator
	Notifier Notifier
	Logger   zerolog.Logger
}

// Deliver provisions credentials for the order on the automatic
// payment-confirmation path.
func (s *Service) Deliver(ctx context.Context, ord order.Order, note string) (bool, error) {
	return s.deliver(ctx, ord, note, "auto")
}

// Backfill re-runs delivery for a paid order the sweep found without one.
func (s *Service) Backfill(ctx context.Context, ord order.Order) (bool, error) {
	return s.deliver(ctx, ord, "backfill sweep", "backfill")
}

func (s *Service) deliver(ctx context.Context, ord order.Order, note, mode string) (bool, error) {
	cred, err := s.generateFor(ord)
	if err != nil {
		s.countDelivery(mode, "generate_error")
		return false, err
	}
	blob, err := s.seal(cred)
	if err != nil {
		s.countDelivery(mode, "encrypt_error")
		return false, err
	}

	inserted, err := s.Store.CreateIfAbsent(ctx, Delivery{
		OrderID:        ord.ID,
		CredentialBlob: blob,
		Status:         DeliveryStatusDelivered,
		Notes:          note,
	})
	if err != nil {
		s.countDelivery(mode, "storage_error")
		return false, err
	}
	if !inserted {
		s.countDelivery(mode, "already_delivered")
		return false, nil
	}

	s.countDelivery(mode, "delivered")
	s.Logger.Info().
		Str("order_id", ord.ID.String()).
		Str("mode", mode).
		Msg("credentials delivered")
	s.notifyDelivered(ctx, ord)
	return true, nil
}

// Redeliver overwrites the stored delivery with admin-supplied or freshly
// generated credentials. cred == nil means generate.
func (s *Service) Redeliver(ctx context.Context, ord order.Order, cred *Credential, notes string) error {
	if cred == nil {
		generated, err := s.generateFor(ord)
		if err != nil {
			s.countDelivery("manual", "generate_error")
			return err
		}
		cred = &generated
	}
	blob, err := s.seal(*cred)
	if err != nil {
		s.countDelivery("manual", "encrypt_error")
		return err
	}
	if err := s.Store.Upsert(ctx, Delivery{
		OrderID:        ord.ID,
		CredentialBlob: blob,
		Status:         DeliveryStatusDelivered,
		Notes:          notes,
	}); err != nil {
		s.countDelivery("manual", "storage_error")
		return err
	}
	s.countDelivery("manual", "delivered")
	s.Logger.Info().Str("order_id", ord.ID.String()).Msg("credentials redelivered")
	s.notifyDelivered(ctx, ord)
	return nil
}

// Reveal decrypts the stored credential for an order.
func (s *Service) Reveal(ctx context.Context, orderID uuid.UUID) (*Credential, *Delivery, error) {
	d, err := s.Store.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	pt, err := s.Enc.Decrypt(d.CredentialBlob)
	if err != nil {
		return nil, nil, err
	}
	var cred Credential
	if err := json.Unmarshal(pt, &cred); err != nil {
		return nil, nil, ErrMalformedCiphertext
	}
	return &cred, d, nil
}

func (s *Service) generateFor(ord order.Order) (Credential, error) {
	name := "premium account"
	months := 1
	if len(ord.Items) > 0 {
		name = ord.Items[0].ProductName
		if ord.Items[0].PackageMonths > 0 {
			months = ord.Items[0].PackageMonths
		}
	}
	return s.Gen.Generate(name, months)
}

func (s *Service) seal(cred Credential) (string, error) {
	pt, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	return s.Enc.Encrypt(pt)
}

func (s *Service) notifyDelivered(ctx context.Context, ord order.Order) {
	if s.Notifier == nil {
		return
	}
	err := s.Notifier.Emit(ctx, ord.UserID, notify.TypeCredentialDelivered,
		"Tài khoản của bạn đã sẵn sàng. Xem thông tin đăng nhập trong đơn hàng.",
		map[string]string{"orderId": ord.ID.String()})
	if err != nil {
		s.Logger.Error().Err(err).Str("order_id", ord.ID.String()).Msg("delivery notification failed")
	}
}

func (s *Service) countDelivery(mode, result string) {
	if obs.CredentialDeliveryTotal != nil {
		obs.CredentialDeliveryTotal.WithLabelValues(mode, result).Inc()
	}
}
