package rewards

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairway-meetups/backend/internal/models"
)

// Repository appends credits to the points ledger. Balances are computed by the
// rewards service that owns accounting.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a points ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Credit records c once per id and reports whether it was new.
func (r *Repository) Credit(ctx context.Context, c models.PointsCredit) (bool, error) {
	const q = `INSERT INTO points_ledger (id, user_id, amount, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, c.ID, c.UserID, c.Amount, c.Reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Total sums a user's recorded credits.
func (r *Repository) Total(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM points_ledger WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}
