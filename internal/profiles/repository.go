package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a user has no profile row.
var ErrNotFound = errors.New("profile not found")

// Repository reads display names from the user_profiles table kept in sync by
// the identity service.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a profiles repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DisplayName returns the user's display name.
func (r *Repository) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT display_name FROM user_profiles WHERE user_id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return name, err
}

// Upsert stores a display name. Used by seeding and tests.
func (r *Repository) Upsert(ctx context.Context, userID, displayName string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_profiles (user_id, display_name) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = NOW()`,
		userID, displayName)
	return err
}
