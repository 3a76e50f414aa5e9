package bookings

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fairway-meetups/backend/internal/models"
)

// BookingRepository is the only mutation surface for booking records.
//
// Transact reads the current record, applies fn to a private copy and commits
// the copy only if the record was not modified since the read. Lost races are
// retried inside the repository; callers never retry on their own. When fn
// returns an error nothing is written and that error is returned unchanged.
type BookingRepository interface {
	Create(ctx context.Context, b *models.Booking) (string, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	Transact(ctx context.Context, id string, fn func(b *models.Booking) error) (*models.Booking, error)
}

// RequestLedger stores participation requests with the same Transact contract.
//
// CreatePending enforces at most one non-rejected request per booking and user:
// when one exists it is returned together with ErrAlreadyJoined.
type RequestLedger interface {
	CreatePending(ctx context.Context, r *models.ParticipationRequest) (*models.ParticipationRequest, error)
	Get(ctx context.Context, id string) (*models.ParticipationRequest, error)
	ListByStatus(ctx context.Context, bookingID string, status models.RequestStatus) ([]models.ParticipationRequest, error)
	Transact(ctx context.Context, id string, fn func(r *models.ParticipationRequest) error) (*models.ParticipationRequest, error)
}

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 2 * time.Millisecond
)

// txConfig bounds the optimistic retry loop.
type txConfig struct {
	maxAttempts int
	backoff     time.Duration
}

func defaultTxConfig() txConfig {
	return txConfig{maxAttempts: defaultMaxAttempts, backoff: defaultBackoff}
}

// StoreOption tunes a store's transaction behaviour.
type StoreOption func(*txConfig)

// WithMaxAttempts sets how many times a conflicting Transact is attempted
// before ErrConcurrencyConflict is returned.
func WithMaxAttempts(n int) StoreOption {
	return func(c *txConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between attempts. Zero disables waiting.
func WithBackoff(d time.Duration) StoreOption {
	return func(c *txConfig) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

func newTxConfig(opts []StoreOption) txConfig {
	cfg := defaultTxConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// retryOnConflict runs attempt until it returns something other than
// errVersionConflict or the attempt budget is spent.
func retryOnConflict(ctx context.Context, cfg txConfig, attempt func(ctx context.Context) error) error {
	for i := 0; i < cfg.maxAttempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, jitter(cfg.backoff, i)); err != nil {
				return err
			}
		}
		err := attempt(ctx)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrConcurrencyConflict, cfg.maxAttempts)
}

func jitter(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	ceiling := int64(base) * int64(attempt)
	return time.Duration(ceiling/2 + rand.Int63n(ceiling/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
