package stores

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("store not found")

type Store struct {
	ID             string
	OwnerUserID    string
	Name           string
	Slug           string
	Whatsapp       string
	Address        string
	Currency       string
	SubaccountCode string // empty until payout onboarding
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Repo struct{ DB *pgxpool.Pool }

const storeCols = `id, owner_user_id, name, slug, whatsapp, address, currency,
       COALESCE(subaccount_code,''), created_at, updated_at`

func (r *Repo) scanOne(row pgx.Row) (Store, error) {
	var s Store
	err := row.Scan(&s.ID, &s.OwnerUserID, &s.Name, &s.Slug, &s.Whatsapp, &s.Address, &s.Currency,
		&s.SubaccountCode, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, ErrNotFound
	}
	return s, err
}

func (r *Repo) GetBySlug(ctx context.Context, slug string) (Store, error) {
	return r.scanOne(r.DB.QueryRow(ctx, `SELECT `+storeCols+` FROM stores WHERE slug=$1`, slug))
}

func (r *Repo) GetByID(ctx context.Context, id string) (Store, error) {
	return r.scanOne(r.DB.QueryRow(ctx, `SELECT `+storeCols+` FROM stores WHERE id=$1`, id))
}

// GetByOwner resolves an authenticated user to the store they own.
func (r *Repo) GetByOwner(ctx context.Context, ownerUserID string) (Store, error) {
	return r.scanOne(r.DB.QueryRow(ctx, `SELECT `+storeCols+` FROM stores WHERE owner_user_id=$1 LIMIT 1`, ownerUserID))
}

func (r *Repo) SetSubaccountCode(ctx context.Context, storeID, code string) error {
	ct, err := r.DB.Exec(ctx,
		`UPDATE stores SET subaccount_code=$1, updated_at=now() WHERE id=$2`, code, storeID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDs returns every store id; the reaper binary sweeps them all.
func (r *Repo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT id FROM stores ORDER BY created_at`)
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
