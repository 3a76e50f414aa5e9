package notifications

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairway-meetups/backend/internal/models"
)

// Repository is the per-user notification inbox. Push delivery happens
// elsewhere; rows here are what the push service and clients read.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notifications repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Deliver inserts n unless a notification with the same id exists. It reports
// whether a row was written.
func (r *Repository) Deliver(ctx context.Context, n models.Notification) (bool, error) {
	payload, err := n.PayloadJSON()
	if err != nil {
		return false, err
	}
	const q = `INSERT INTO notifications (id, user_id, kind, title, body, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, n.ID, n.UserID, n.Kind, n.Title, n.Body, string(payload))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns a user's most recent notifications.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, kind, title, body, payload FROM notifications
		WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Payload); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}
