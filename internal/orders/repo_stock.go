package orders

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StockRepo owns every write against product availability. Nothing else in
// the codebase mutates stock_qty.
type StockRepo struct{ DB *pgxpool.Pool }

// Reserve withholds qty from the sellable pool. The decrement is a single
// conditional statement so two reservations racing for the last unit can
// never both succeed.
func (r *StockRepo) Reserve(ctx context.Context, productID string, qty int) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET stock_qty = stock_qty - $2, updated_at = now()
		WHERE id = $1 AND stock_qty >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientStock
	}

	// Opted-in products go inactive the moment they sell out.
	_, err = r.DB.Exec(ctx, `
		UPDATE products SET is_active = false, updated_at = now()
		WHERE id = $1 AND stock_qty = 0 AND auto_disable_on_oos`, productID)
	return err
}

// Release returns qty to the pool, undoing a prior reservation. Callers are
// responsible for invoking it at most once per reservation.
func (r *StockRepo) Release(ctx context.Context, productID string, qty int) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE products SET stock_qty = stock_qty + $2, updated_at = now()
		WHERE id = $1`, productID, qty)
	return err
}

// Finalize consummates a reservation on confirmed payment. The quantity
// already left stock_qty at reserve time, so this only moves the bookkeeping
// counter; it never touches availability.
func (r *StockRepo) Finalize(ctx context.Context, productID string, qty int) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE products SET sold_qty = sold_qty + $2, updated_at = now()
		WHERE id = $1`, productID, qty)
	return err
}

// ProductsForStore loads the referenced products scoped to one store.
// Missing ids simply don't come back; the caller decides what that means.
func (r *StockRepo) ProductsForStore(ctx context.Context, storeID string, ids []string) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, store_id, name, slug, price_kobo, stock_qty, sold_qty,
		       is_active, auto_disable_on_oos, created_at, updated_at
		FROM products WHERE store_id = $1 AND id = ANY($2)`, storeID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Slug, &p.PriceKobo, &p.StockQty, &p.SoldQty,
			&p.IsActive, &p.AutoDisableOnOOS, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetAutoDisable flips the sold-out auto-deactivation flag for a product the
// store owns.
func (r *StockRepo) SetAutoDisable(ctx context.Context, storeID, productID string, on bool) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET auto_disable_on_oos = $3, updated_at = now()
		WHERE id = $1 AND store_id = $2`, productID, storeID, on)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}
