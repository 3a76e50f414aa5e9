package bookings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairway-meetups/backend/internal/models"
	"github.com/fairway-meetups/backend/internal/testutil"
)

func newPostgresStores(t *testing.T) (*PostgresBookingStore, *PostgresRequestLedger) {
	t.Helper()
	pool := testutil.NewTestPool(t)
	testutil.TruncateAll(t, context.Background(), pool)
	return NewPostgresBookingStore(pool, WithBackoff(time.Millisecond)), NewPostgresRequestLedger(pool, WithBackoff(time.Millisecond))
}

func pgBooking(max int) *models.Booking {
	b := &models.Booking{
		HostID:   "host",
		Title:    "Back nine",
		Capacity: models.Capacity{Max: max},
		Status:   models.BookingStatusOpen,
	}
	b.AddMember(models.Member{UserID: "host", DisplayName: "Host", Role: models.MemberRoleHost})
	return b
}

func TestPostgresBookingStore(t *testing.T) {
	store, _ := newPostgresStores(t)
	ctx := context.Background()

	b := pgBooking(3)
	id, err := store.Create(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
	assert.Equal(t, int64(1), b.Version)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"host"}, got.MemberIDs())
	assert.Empty(t, got.CourseName)
	assert.Nil(t, got.ClosedAt)

	_, err = store.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	out, err := store.Transact(ctx, id, func(b *models.Booking) error {
		b.AddMember(models.Member{UserID: "u1", DisplayName: "One", Role: models.MemberRoleMember})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Version)
	assert.Equal(t, 2, out.Capacity.Current)

	calls := 0
	out, err = store.Transact(ctx, id, func(cur *models.Booking) error {
		calls++
		if calls == 1 {
			_, err := store.Transact(ctx, id, func(inner *models.Booking) error {
				inner.AddMember(models.Member{UserID: "racer", Role: models.MemberRoleMember})
				return nil
			})
			require.NoError(t, err)
		}
		now := time.Now()
		cur.Status = models.BookingStatusClosed
		cur.CancelReason = "rain"
		cur.ClosedAt = &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"host", "u1", "racer"}, out.MemberIDs())
	assert.Equal(t, models.BookingStatusClosed, out.Status)
	assert.Equal(t, "rain", out.CancelReason)
	require.NotNil(t, out.ClosedAt)
}

func TestPostgresRequestLedger(t *testing.T) {
	store, ledger := newPostgresStores(t)
	ctx := context.Background()
	b := pgBooking(4)
	_, err := store.Create(ctx, b)
	require.NoError(t, err)

	first, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: b.ID, UserID: "u1", DisplayName: "One", Status: models.RequestStatusPending})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	dup, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: b.ID, UserID: "u1", Status: models.RequestStatusPending})
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)

	_, err = ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: b.ID, UserID: "u2", Status: models.RequestStatusPending})
	require.NoError(t, err)

	list, err := ledger.ListByStatus(ctx, b.ID, models.RequestStatusPending)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u1", list[0].UserID)

	rejected, err := ledger.Transact(ctx, first.ID, func(r *models.ParticipationRequest) error {
		r.Resolve(models.RequestStatusRejected, time.Now())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	assert.NotNil(t, rejected.ResolvedAt)

	again, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: b.ID, UserID: "u1", Status: models.RequestStatusPending})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)

	_, err = ledger.Get(ctx, "bogus")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLiveRequestErr(t *testing.T) {
	err := liveRequestErr(pgx.ErrNoRows, "b1", "u1")
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.NotErrorIs(t, err, pgx.ErrNoRows)
	assert.ErrorContains(t, err, "u1")

	boom := errors.New("connection reset")
	assert.Equal(t, boom, liveRequestErr(boom, "b1", "u1"))
}

func TestPostgresConcurrentJoinsRespectCapacity(t *testing.T) {
	store, ledger := newPostgresStores(t)
	ctx := context.Background()
	// Enough attempts that every joiner sees a final answer rather than a conflict.
	svc := NewService(
		NewPostgresBookingStore(store.pool, WithMaxAttempts(20), WithBackoff(time.Millisecond)),
		ledger, nil, nil)

	b, err := svc.Create(ctx, CreateInput{HostID: "host", Title: "Shotgun start", MaxCapacity: 4})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
		full   int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Join(ctx, JoinInput{BookingID: b.ID, UserID: string(rune('a' + i))})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrInvalidState):
				full++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, joined)
	assert.Equal(t, 7, full)
	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Capacity.Current)
	assert.Len(t, got.Members, 4)
	assert.Equal(t, models.BookingStatusFull, got.Status)
}
