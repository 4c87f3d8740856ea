package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/shoptk/backend-shoptk/internal/common"
)

// Repo persists orders in Postgres. Concurrency safety for the payment
// state machine rests entirely on the conditional UPDATE in the transition
// methods; there is no application-level locking.
type Repo struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

// Create inserts a pending order with its line items in one transaction.
// Stock decrement is best-effort: a failure is logged and never aborts the
// order.
func (r *Repo) Create(ctx context.Context, ord Order) error {
	if ord.Status == "" {
		ord.Status = StatusPending
	}
	if ord.Status != StatusPending {
		return fmt.Errorf("order: initial status must be pending, got %s", ord.Status)
	}
	if len(ord.Items) == 0 {
		return errors.New("order: at least one item is required")
	}
	if ord.Total != ItemTotal(ord.Items) {
		return fmt.Errorf("order: total %d does not match item sum %d", ord.Total, ItemTotal(ord.Items))
	}

	meta, err := encodeMetadata(ord.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return common.WrapStorage("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, total, status, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		ord.ID, ord.UserID, ord.Total, string(ord.Status), meta)
	if err != nil {
		return common.WrapStorage("insert order", err)
	}
	for _, it := range ord.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, package_months, qty, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ord.ID, it.ProductID, it.ProductName, it.PackageMonths, it.Qty, it.UnitPrice)
		if err != nil {
			return common.WrapStorage("insert order item", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.WrapStorage("commit order", err)
	}

	for _, it := range ord.Items {
		if err := r.DecrementStock(ctx, it.ProductID, it.Qty); err != nil {
			r.Logger.Warn().Err(err).
				Str("order_id", ord.ID.String()).
				Str("product_id", it.ProductID.String()).
				Msg("stock decrement failed")
		}
	}
	return nil
}

// FindByID returns the order or common.ErrNotFound when absent.
func (r *Repo) FindByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.findOne(ctx, `
		SELECT id, user_id, total, status, paid_at, metadata, created_at, updated_at
		FROM orders WHERE id = $1`, id)
}

// FindByIntentID resolves an order through the payment_intents correlation
// table. Intent ids are generated before the gateway ever calls back, so
// this is the only correlation key the card processor flow has.
func (r *Repo) FindByIntentID(ctx context.Context, intentID string) (*Order, error) {
	return r.findOne(ctx, `
		SELECT o.id, o.user_id, o.total, o.status, o.paid_at, o.metadata, o.created_at, o.updated_at
		FROM orders o
		JOIN payment_intents pi ON pi.order_id = o.id
		WHERE pi.intent_id = $1`, intentID)
}

// SaveIntent records the provider intent correlation for an order.
func (r *Repo) SaveIntent(ctx context.Context, orderID uuid.UUID, provider, intentID string) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO payment_intents (intent_id, provider, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (intent_id) DO NOTHING`,
		intentID, provider, orderID)
	return common.WrapStorage("save intent", err)
}

// TransitionToPaid applies the pending→paid transition as a single atomic
// conditional update. Applied is false when the row was not pending.
func (r *Repo) TransitionToPaid(ctx context.Context, id uuid.UUID, meta map[string]string) (TransitionResult, error) {
	return r.transition(ctx, id, StatusPaid, meta)
}

// TransitionToFailed applies pending→failed under the same guard, so a
// stale failure callback cannot mark an already-paid order as failed.
func (r *Repo) TransitionToFailed(ctx context.Context, id uuid.UUID, meta map[string]string) (TransitionResult, error) {
	return r.transition(ctx, id, StatusFailed, meta)
}

func (r *Repo) transition(ctx context.Context, id uuid.UUID, to Status, meta map[string]string) (TransitionResult, error) {
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return TransitionResult{}, err
	}
	paidAt := "NULL"
	if to == StatusPaid {
		paidAt = "now()"
	}
	// The WHERE status='pending' clause is the idempotency guard: under
	// concurrent duplicate callbacks exactly one caller observes a row.
	row := r.Pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE orders
		SET status = $2, paid_at = %s, metadata = metadata || $3::jsonb, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, user_id, total, status, paid_at, metadata, created_at, updated_at`, paidAt),
		id, string(to), encoded)
	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, lookupErr := r.FindByID(ctx, id)
			if lookupErr != nil {
				return TransitionResult{}, lookupErr
			}
			return TransitionResult{Applied: false, Order: *current}, nil
		}
		return TransitionResult{}, common.WrapStorage("transition order", err)
	}
	items, err := r.loadItems(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	ord.Items = items
	return TransitionResult{Applied: true, Order: ord}, nil
}

// Cancel is the admin override: it moves any order to cancelled.
func (r *Repo) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return common.WrapStorage("cancel order", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DecrementStock reduces product stock, floored at zero.
func (r *Repo) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error {
	_, err := r.Pool.Exec(ctx, `
		UPDATE products SET stock = GREATEST(stock - $2, 0) WHERE id = $1`,
		productID, qty)
	return common.WrapStorage("decrement stock", err)
}

// ListPaidMissingDelivery returns paid orders older than the grace period
// that still lack an AccountDelivery row. Used by the backfill sweep.
func (r *Repo) ListPaidMissingDelivery(ctx context.Context, grace time.Duration, limit int) ([]Order, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT o.id, o.user_id, o.total, o.status, o.paid_at, o.metadata, o.created_at, o.updated_at
		FROM orders o
		LEFT JOIN account_deliveries d ON d.order_id = o.id
		WHERE o.status = 'paid' AND d.order_id IS NULL AND o.paid_at < now() - $1::interval
		ORDER BY o.paid_at
		LIMIT $2`, fmt.Sprintf("%d seconds", int(grace.Seconds())), limit)
	if err != nil {
		return nil, common.WrapStorage("list paid missing delivery", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, common.WrapStorage("scan order", err)
		}
		out = append(out, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapStorage("iterate orders", err)
	}
	for i := range out {
		items, err := r.loadItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (r *Repo) findOne(ctx context.Context, sql string, arg any) (*Order, error) {
	row := r.Pool.QueryRow(ctx, sql, arg)
	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, common.WrapStorage("find order", err)
	}
	items, err := r.loadItems(ctx, ord.ID)
	if err != nil {
		return nil, err
	}
	ord.Items = items
	return &ord, nil
}

func (r *Repo) loadItems(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT product_id, product_name, package_months, qty, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, common.WrapStorage("load items", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.PackageMonths, &it.Qty, &it.UnitPrice); err != nil {
			return nil, common.WrapStorage("scan item", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		ord    Order
		status string
		paidAt pgtype.Timestamptz
		meta   []byte
	)
	err := row.Scan(&ord.ID, &ord.UserID, &ord.Total, &status, &paidAt, &meta, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	ord.Status = Status(status)
	if paidAt.Valid {
		t := paidAt.Time
		ord.PaidAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ord.Metadata); err != nil {
			return Order{}, fmt.Errorf("decode order metadata: %w", err)
		}
	}
	return ord, nil
}

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode order metadata: %w", err)
	}
	return encoded, nil
}
