package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairway-meetups/backend/internal/models"
)

func seedBooking(t *testing.T, store *MemoryBookingStore, max int) *models.Booking {
	t.Helper()
	b := &models.Booking{
		HostID:   "host",
		Title:    "Dawn patrol",
		Capacity: models.Capacity{Max: max},
		Status:   models.BookingStatusOpen,
	}
	b.AddMember(models.Member{UserID: "host", DisplayName: "Host", Role: models.MemberRoleHost})
	_, err := store.Create(context.Background(), b)
	require.NoError(t, err)
	return b
}

func TestMemoryBookingStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBookingStore()
	b := seedBooking(t, store, 4)

	require.NotEmpty(t, b.ID)
	assert.Equal(t, int64(1), b.Version)

	got, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, 1, got.Capacity.Current)

	got.Members[0].DisplayName = "mutated"
	again, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Host", again.Members[0].DisplayName)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBookingStoreTransact(t *testing.T) {
	ctx := context.Background()

	t.Run("commit bumps version", func(t *testing.T) {
		store := NewMemoryBookingStore()
		b := seedBooking(t, store, 4)

		out, err := store.Transact(ctx, b.ID, func(b *models.Booking) error {
			b.AddMember(models.Member{UserID: "u1", Role: models.MemberRoleMember})
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), out.Version)
		assert.Equal(t, 2, out.Capacity.Current)
	})

	t.Run("fn error writes nothing and is returned as is", func(t *testing.T) {
		store := NewMemoryBookingStore()
		b := seedBooking(t, store, 4)
		boom := errors.New("boom")

		_, err := store.Transact(ctx, b.ID, func(b *models.Booking) error {
			b.AddMember(models.Member{UserID: "u1"})
			return boom
		})
		assert.Same(t, boom, err)

		got, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, 1, got.Capacity.Current)
	})

	t.Run("missing booking", func(t *testing.T) {
		store := NewMemoryBookingStore()
		_, err := store.Transact(ctx, "missing", func(b *models.Booking) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lost race is retried on fresh state", func(t *testing.T) {
		store := NewMemoryBookingStore(WithBackoff(0))
		b := seedBooking(t, store, 4)

		calls := 0
		out, err := store.Transact(ctx, b.ID, func(cur *models.Booking) error {
			calls++
			if calls == 1 {
				_, err := store.Transact(ctx, b.ID, func(inner *models.Booking) error {
					inner.AddMember(models.Member{UserID: "racer"})
					return nil
				})
				require.NoError(t, err)
			}
			cur.AddMember(models.Member{UserID: "u1"})
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, []string{"host", "racer", "u1"}, out.MemberIDs())
		assert.Equal(t, int64(3), out.Version)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		store := NewMemoryBookingStore(WithMaxAttempts(3), WithBackoff(0))
		b := seedBooking(t, store, 8)

		calls := 0
		_, err := store.Transact(ctx, b.ID, func(cur *models.Booking) error {
			calls++
			_, err := store.Transact(ctx, b.ID, func(inner *models.Booking) error {
				inner.Title = inner.Title + "!"
				return nil
			})
			require.NoError(t, err)
			return nil
		})
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
		assert.Equal(t, 3, calls)
	})
}

func TestRetryOnConflictHonoursContextBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryOnConflict(ctx, txConfig{maxAttempts: 5, backoff: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errVersionConflict
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStoreOptions(t *testing.T) {
	cfg := newTxConfig([]StoreOption{WithMaxAttempts(0), WithBackoff(-1)})
	assert.Equal(t, defaultMaxAttempts, cfg.maxAttempts)
	assert.Equal(t, defaultBackoff, cfg.backoff)

	cfg = newTxConfig([]StoreOption{WithMaxAttempts(2), WithBackoff(0)})
	assert.Equal(t, 2, cfg.maxAttempts)
	assert.Equal(t, time.Duration(0), cfg.backoff)
	assert.Equal(t, time.Duration(0), jitter(0, 3))

	for i := 1; i < 5; i++ {
		d := jitter(10*time.Millisecond, i)
		assert.GreaterOrEqual(t, d, time.Duration(i)*5*time.Millisecond)
		assert.LessOrEqual(t, d, time.Duration(i)*10*time.Millisecond)
	}
}

func TestMemoryRequestLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("one live request per user", func(t *testing.T) {
		ledger := NewMemoryRequestLedger()
		first, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b1", UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusPending, first.Status)

		dup, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b1", UserID: "u1"})
		assert.ErrorIs(t, err, ErrAlreadyJoined)
		require.NotNil(t, dup)
		assert.Equal(t, first.ID, dup.ID)

		other, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b2", UserID: "u1"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("rejected request does not block a new one", func(t *testing.T) {
		ledger := NewMemoryRequestLedger()
		first, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b1", UserID: "u1"})
		require.NoError(t, err)
		_, err = ledger.Transact(ctx, first.ID, func(r *models.ParticipationRequest) error {
			r.Resolve(models.RequestStatusRejected, time.Now())
			return nil
		})
		require.NoError(t, err)

		second, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b1", UserID: "u1"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("list by status oldest first", func(t *testing.T) {
		ledger := NewMemoryRequestLedger()
		base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
		_, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b1", UserID: "late", CreatedAt: base.Add(time.Minute)})
		require.NoError(t, err)
		_, err = ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b1", UserID: "early", CreatedAt: base})
		require.NoError(t, err)
		_, err = ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b2", UserID: "elsewhere", CreatedAt: base})
		require.NoError(t, err)

		list, err := ledger.ListByStatus(ctx, "b1", models.RequestStatusPending)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "early", list[0].UserID)
		assert.Equal(t, "late", list[1].UserID)

		none, err := ledger.ListByStatus(ctx, "b1", models.RequestStatusApproved)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("transact keeps identity fields", func(t *testing.T) {
		ledger := NewMemoryRequestLedger()
		r, err := ledger.CreatePending(ctx, &models.ParticipationRequest{BookingID: "b1", UserID: "u1"})
		require.NoError(t, err)

		out, err := ledger.Transact(ctx, r.ID, func(cur *models.ParticipationRequest) error {
			cur.UserID = "someone-else"
			cur.Resolve(models.RequestStatusApproved, time.Now())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "u1", out.UserID)
		assert.Equal(t, int64(2), out.Version)

		_, err = ledger.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
