package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairway-meetups/backend/internal/models"
)

const bookingColumns = `id, host_id, title, course_name, tee_time, capacity_max, capacity_current,
	members, status, requires_approval, cancel_reason, closed_at, version, created_at, updated_at`

// PostgresBookingStore persists bookings as one row each, members in a JSONB column.
type PostgresBookingStore struct {
	pool *pgxpool.Pool
	cfg  txConfig
}

// NewPostgresBookingStore creates a booking store on pool.
func NewPostgresBookingStore(pool *pgxpool.Pool, opts ...StoreOption) *PostgresBookingStore {
	return &PostgresBookingStore{pool: pool, cfg: newTxConfig(opts)}
}

// Create inserts b and fills in its id, version and timestamps.
func (s *PostgresBookingStore) Create(ctx context.Context, b *models.Booking) (string, error) {
	members, err := json.Marshal(nonNilMembers(b.Members))
	if err != nil {
		return "", err
	}
	const q = `INSERT INTO bookings (host_id, title, course_name, tee_time, capacity_max, capacity_current,
		members, status, requires_approval)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at, updated_at`
	err = s.pool.QueryRow(ctx, q,
		b.HostID, b.Title, b.CourseName, b.TeeTime, b.Capacity.Max, b.Capacity.Current,
		string(members), b.Status, b.RequiresApproval,
	).Scan(&b.ID, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

// Get returns the booking by id.
func (s *PostgresBookingStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, mapLookupErr(err, "booking", id)
	}
	return b, nil
}

// Transact reads the row, runs fn on it and writes it back only if version is unchanged.
func (s *PostgresBookingStore) Transact(ctx context.Context, id string, fn func(b *models.Booking) error) (*models.Booking, error) {
	var out *models.Booking
	err := retryOnConflict(ctx, s.cfg, func(ctx context.Context) error {
		current, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		readVersion := current.Version
		if err := fn(current); err != nil {
			return err
		}
		members, err := json.Marshal(nonNilMembers(current.Members))
		if err != nil {
			return err
		}
		const q = `UPDATE bookings SET
			title = $3, course_name = $4, tee_time = $5, capacity_current = $6, members = $7,
			status = $8, requires_approval = $9, cancel_reason = $10, closed_at = $11,
			version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at`
		err = s.pool.QueryRow(ctx, q, id, readVersion,
			current.Title, current.CourseName, current.TeeTime, current.Capacity.Current, string(members),
			current.Status, current.RequiresApproval, current.CancelReason, current.ClosedAt,
		).Scan(&current.Version, &current.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errVersionConflict
		}
		if err != nil {
			return err
		}
		current.ID = id
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var (
		b          models.Booking
		courseName *string
		cancel     *string
		members    []byte
	)
	err := row.Scan(&b.ID, &b.HostID, &b.Title, &courseName, &b.TeeTime, &b.Capacity.Max, &b.Capacity.Current,
		&members, &b.Status, &b.RequiresApproval, &cancel, &b.ClosedAt, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if courseName != nil {
		b.CourseName = *courseName
	}
	if cancel != nil {
		b.CancelReason = *cancel
	}
	if err := json.Unmarshal(members, &b.Members); err != nil {
		return nil, fmt.Errorf("decode members of booking %s: %w", b.ID, err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	b.TeeTime = utcPtr(b.TeeTime)
	b.ClosedAt = utcPtr(b.ClosedAt)
	return &b, nil
}

func nonNilMembers(m []models.Member) []models.Member {
	if m == nil {
		return []models.Member{}
	}
	return m
}

// mapLookupErr turns a missing row or a malformed uuid into ErrNotFound.
func mapLookupErr(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
