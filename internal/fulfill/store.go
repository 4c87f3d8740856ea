package fulfill

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoptk/backend-shoptk/internal/common"
)

// DeliveryStatusDelivered is the only terminal status today; the column is
// textual so revocation states can be added without a migration.
const DeliveryStatusDelivered = "delivered"

// Delivery is one credential hand-off for an order. CredentialBlob is
// always ciphertext.
type Delivery struct {
	OrderID        uuid.UUID `json:"orderId"`
	CredentialBlob string    `json:"-"`
	Status         string    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	SentAt         time.Time `json:"sentAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store persists account deliveries keyed by order.
type Store struct {
	Pool *pgxpool.Pool
}

// CreateIfAbsent inserts the delivery unless one already exists for the
// order. The primary-key guard is what makes every delivery path idempotent;
// the bool reports whether this call inserted the row.
func (s *Store) CreateIfAbsent(ctx context.Context, d Delivery) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO account_deliveries (order_id, credential_blob, status, notes, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now(), now())
		ON CONFLICT (order_id) DO NOTHING`,
		d.OrderID, d.CredentialBlob, d.Status, d.Notes)
	if err != nil {
		return false, common.WrapStorage("delivery.create", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert overwrites the delivery for an order. Used by the manual admin
// path, where re-delivery intentionally replaces the stored blob.
func (s *Store) Upsert(ctx context.Context, d Delivery) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO account_deliveries (order_id, credential_blob, status, notes, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now(), now())
		ON CONFLICT (order_id) DO UPDATE
		SET credential_blob = EXCLUDED.credential_blob,
		    status = EXCLUDED.status,
		    notes = EXCLUDED.notes,
		    sent_at = now(),
		    updated_at = now()`,
		d.OrderID, d.CredentialBlob, d.Status, d.Notes)
	if err != nil {
		return common.WrapStorage("delivery.upsert", err)
	}
	return nil
}

// GetByOrder loads the delivery for an order, or ErrNotFound.
func (s *Store) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Delivery, error) {
	var d Delivery
	err := s.Pool.QueryRow(ctx, `
		SELECT order_id, credential_blob, status, notes, sent_at, created_at, updated_at
		FROM account_deliveries WHERE order_id = $1`,
		orderID).Scan(&d.OrderID, &d.CredentialBlob, &d.Status, &d.Notes, &d.SentAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, common.WrapStorage("delivery.get", err)
	}
	return &d, nil
}
