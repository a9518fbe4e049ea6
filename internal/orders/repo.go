package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// CreateWithItems inserts the order and its line-item snapshots in one tx.
// The order enters status 'pending'; stock is reserved by the caller afterwards.
func (r *Repo) CreateWithItems(ctx context.Context, o *Order, items []OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o.ID = uuid.NewString()
	o.Status = StatusPending
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, store_id, customer_name, customer_phone, customer_email, customer_address,
		                   total_kobo, status, reserved_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.StoreID, o.CustomerName, o.CustomerPhone, o.CustomerEmail, o.CustomerAddress,
		o.TotalKobo, o.Status, o.ReservedUntil,
	)
	if err != nil {
		return err
	}

	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].OrderID = o.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, product_name, qty, price_each_kobo)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			items[i].ID, o.ID, items[i].ProductID, items[i].ProductName, items[i].Qty, items[i].PriceEachKobo,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, store_id, customer_name, customer_phone, customer_email, customer_address,
		       total_kobo, status, reserved_until, COALESCE(payment_ref,''),
		       paid_at, completed_at, refunded_at, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.StoreID, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail, &o.CustomerAddress,
			&o.TotalKobo, &o.Status, &o.ReservedUntil, &o.PaymentRef,
			&o.PaidAt, &o.CompletedAt, &o.RefundedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) GetStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *Repo) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, product_name, qty, price_each_kobo
		FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Qty, &it.PriceEachKobo); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// TransitionIf is the guarded compare-and-set behind every status change:
// the row is updated only while its status still equals from. Timestamp
// columns for paid/completed/refunded are stamped in the same statement so
// they are set exactly once. On a lost race it reports the status that won.
func (r *Repo) TransitionIf(ctx context.Context, orderID string, from, to Status) (bool, Status, error) {
	if !CanTransition(from, to) {
		return false, from, ErrInvalidState
	}

	stamp := ""
	switch to {
	case StatusPaid:
		stamp = ", paid_at=now()"
	case StatusCompleted:
		stamp = ", completed_at=now()"
	case StatusRefunded:
		stamp = ", refunded_at=now()"
	}

	ct, err := r.DB.Exec(ctx,
		`UPDATE orders SET status=$1, updated_at=now()`+stamp+` WHERE id=$2 AND status=$3`,
		to, orderID, from)
	if err != nil {
		return false, "", err
	}
	if ct.RowsAffected() == 1 {
		return true, to, nil
	}

	current, err := r.GetStatus(ctx, orderID)
	if err != nil {
		return false, "", err
	}
	return false, current, nil
}

// SetPaymentRef records the gateway reference once, at session initialization.
func (r *Repo) SetPaymentRef(ctx context.Context, orderID, ref string) error {
	ct, err := r.DB.Exec(ctx,
		`UPDATE orders SET payment_ref=$1, updated_at=now() WHERE id=$2 AND payment_ref IS NULL`,
		ref, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ListExpiredPending returns the store's pending orders whose reservation
// window elapsed before now.
func (r *Repo) ListExpiredPending(ctx context.Context, storeID string, now time.Time) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE store_id=$1 AND status=$2 AND reserved_until < $3
		ORDER BY reserved_until`, storeID, StatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindByPaymentRef resolves a gateway reference back to its order.
func (r *Repo) FindByPaymentRef(ctx context.Context, ref string) (Order, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE payment_ref=$1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return r.Get(ctx, id)
}
