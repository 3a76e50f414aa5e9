package bookings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairway-meetups/backend/internal/models"
)

const requestColumns = `id, booking_id, user_id, display_name, status, version, created_at, resolved_at`

// PostgresRequestLedger stores participation requests. A partial unique index on
// (booking_id, user_id) for non-rejected rows backs the one-live-request rule.
type PostgresRequestLedger struct {
	pool *pgxpool.Pool
	cfg  txConfig
}

// NewPostgresRequestLedger creates a ledger on pool.
func NewPostgresRequestLedger(pool *pgxpool.Pool, opts ...StoreOption) *PostgresRequestLedger {
	return &PostgresRequestLedger{pool: pool, cfg: newTxConfig(opts)}
}

// CreatePending inserts a pending request or returns the live one with ErrAlreadyJoined.
func (l *PostgresRequestLedger) CreatePending(ctx context.Context, r *models.ParticipationRequest) (*models.ParticipationRequest, error) {
	const q = `INSERT INTO participation_requests (booking_id, user_id, display_name, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING ` + requestColumns
	for attempt := 1; ; attempt++ {
		rec, err := scanRequest(l.pool.QueryRow(ctx, q, r.BookingID, r.UserID, r.DisplayName))
		if err == nil {
			return rec, nil
		}
		if isInvalidUUID(err) {
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, r.BookingID)
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		existing, err := scanRequest(l.pool.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM participation_requests
			WHERE booking_id = $1 AND user_id = $2 AND status <> 'rejected'`,
			r.BookingID, r.UserID))
		if err == nil {
			return existing, fmt.Errorf("%w: request %s is %s", ErrAlreadyJoined, existing.ID, existing.Status)
		}
		// The live request was rejected between the insert and the select.
		if errors.Is(err, pgx.ErrNoRows) && attempt < createPendingAttempts {
			continue
		}
		return nil, liveRequestErr(err, r.BookingID, r.UserID)
	}
}

// createPendingAttempts bounds how often CreatePending re-inserts after the
// conflicting request disappeared.
const createPendingAttempts = 2

// liveRequestErr maps a failed lookup of the request that blocked an insert.
// A missing row means it was resolved under us, which callers may retry.
func liveRequestErr(err error, bookingID, userID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: request for %s in booking %s changed during create", ErrConcurrencyConflict, userID, bookingID)
	}
	return err
}

// Get returns a request by id.
func (l *PostgresRequestLedger) Get(ctx context.Context, id string) (*models.ParticipationRequest, error) {
	rec, err := scanRequest(l.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM participation_requests WHERE id = $1`, id))
	if err != nil {
		return nil, mapLookupErr(err, "request", id)
	}
	return rec, nil
}

// ListByStatus returns the booking's requests in status, oldest first.
func (l *PostgresRequestLedger) ListByStatus(ctx context.Context, bookingID string, status models.RequestStatus) ([]models.ParticipationRequest, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+requestColumns+` FROM participation_requests
		WHERE booking_id = $1 AND status = $2 ORDER BY created_at, id`, bookingID, status)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		}
		return nil, err
	}
	defer rows.Close()
	list := make([]models.ParticipationRequest, 0)
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// Transact runs fn on the request and writes status and resolved_at back on an unchanged version.
func (l *PostgresRequestLedger) Transact(ctx context.Context, id string, fn func(r *models.ParticipationRequest) error) (*models.ParticipationRequest, error) {
	var out *models.ParticipationRequest
	err := retryOnConflict(ctx, l.cfg, func(ctx context.Context) error {
		current, err := l.Get(ctx, id)
		if err != nil {
			return err
		}
		readVersion := current.Version
		if err := fn(current); err != nil {
			return err
		}
		const q = `UPDATE participation_requests
			SET status = $3, display_name = $4, resolved_at = $5, version = version + 1
			WHERE id = $1 AND version = $2
			RETURNING version`
		err = l.pool.QueryRow(ctx, q, id, readVersion, current.Status, current.DisplayName, current.ResolvedAt).
			Scan(&current.Version)
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

func scanRequest(row pgx.Row) (*models.ParticipationRequest, error) {
	var r models.ParticipationRequest
	if err := row.Scan(&r.ID, &r.BookingID, &r.UserID, &r.DisplayName, &r.Status, &r.Version, &r.CreatedAt, &r.ResolvedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.ResolvedAt = utcPtr(r.ResolvedAt)
	return &r, nil
}
