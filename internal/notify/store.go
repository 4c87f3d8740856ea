package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoptk/backend-shoptk/internal/common"
)

// Notification types emitted by the payment and delivery flows.
const (
	TypePaymentSuccess      = "payment_success"
	TypePaymentFailed       = "payment_failed"
	TypeCredentialDelivered = "credential_delivered"
	TypeOrderStatusUpdated  = "order_status_updated"
	TypeGeneric             = "generic"
)

type Notification struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"userId"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store is the append-mostly notifications table.
type Store struct {
	Pool *pgxpool.Pool
}

func (s *Store) Create(ctx context.Context, n Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return common.WrapStorage("notify.encode", err)
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, message, metadata, read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, now())`,
		n.ID, n.UserID, n.Type, n.Message, meta)
	if err != nil {
		return common.WrapStorage("notify.create", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, user_id, type, message, metadata, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, common.WrapStorage("notify.list", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		var meta []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &meta, &n.Read, &n.CreatedAt); err != nil {
			return nil, common.WrapStorage("notify.scan", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Metadata); err != nil {
				return nil, common.WrapStorage("notify.decode", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapStorage("notify.list", err)
	}
	return out, nil
}

// MarkRead marks one of the user's notifications as read. Scoping by user
// keeps one account from flipping another's flags.
func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE notifications SET read = true
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return common.WrapStorage("notify.mark_read", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE notifications SET read = true
		WHERE user_id = $1 AND read = false`, userID)
	if err != nil {
		return common.WrapStorage("notify.mark_all_read", err)
	}
	return nil
}
