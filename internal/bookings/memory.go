package bookings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairway-meetups/backend/internal/models"
)

// MemoryBookingStore keeps bookings in process memory. The lock is never held
// while a transaction function runs; the version is compared at commit.
type MemoryBookingStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	cfg      txConfig
}

// NewMemoryBookingStore creates an empty in-memory booking store.
func NewMemoryBookingStore(opts ...StoreOption) *MemoryBookingStore {
	return &MemoryBookingStore{
		bookings: make(map[string]*models.Booking),
		cfg:      newTxConfig(opts),
	}
}

// Create stores b with version 1 and returns its id.
func (s *MemoryBookingStore) Create(ctx context.Context, b *models.Booking) (string, error) {
	rec := b.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookings[rec.ID]; exists {
		return "", fmt.Errorf("%w: booking %s already exists", ErrInvalidInput, rec.ID)
	}
	s.bookings[rec.ID] = rec
	b.ID, b.Version, b.CreatedAt, b.UpdatedAt = rec.ID, rec.Version, rec.CreatedAt, rec.UpdatedAt
	return rec.ID, nil
}

// Get returns a copy of the booking.
func (s *MemoryBookingStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Transact applies fn to a copy of the booking and commits it if no other
// writer got there first.
func (s *MemoryBookingStore) Transact(ctx context.Context, id string, fn func(b *models.Booking) error) (*models.Booking, error) {
	var out *models.Booking
	err := retryOnConflict(ctx, s.cfg, func(ctx context.Context) error {
		s.mu.Lock()
		rec, ok := s.bookings[id]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: booking %s", ErrNotFound, id)
		}
		readVersion := rec.Version
		work := rec.Clone()
		if err := fn(work); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if cur := s.bookings[id]; cur == nil || cur.Version != readVersion {
			return errVersionConflict
		}
		work.ID = id
		work.Version = readVersion + 1
		work.UpdatedAt = time.Now().UTC()
		s.bookings[id] = work.Clone()
		out = work
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MemoryRequestLedger keeps participation requests in process memory.
type MemoryRequestLedger struct {
	mu       sync.Mutex
	requests map[string]*models.ParticipationRequest
	order    []string
	cfg      txConfig
}

// NewMemoryRequestLedger creates an empty in-memory ledger.
func NewMemoryRequestLedger(opts ...StoreOption) *MemoryRequestLedger {
	return &MemoryRequestLedger{
		requests: make(map[string]*models.ParticipationRequest),
		cfg:      newTxConfig(opts),
	}
}

// CreatePending records r as pending unless the user already has a pending or
// approved request for the booking.
func (l *MemoryRequestLedger) CreatePending(ctx context.Context, r *models.ParticipationRequest) (*models.ParticipationRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.order {
		existing := l.requests[id]
		if existing.BookingID == r.BookingID && existing.UserID == r.UserID && existing.Status != models.RequestStatusRejected {
			return existing.Clone(), fmt.Errorf("%w: request %s is %s", ErrAlreadyJoined, existing.ID, existing.Status)
		}
	}
	rec := r.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = models.RequestStatusPending
	rec.ResolvedAt = nil
	rec.Version = 1
	l.requests[rec.ID] = rec
	l.order = append(l.order, rec.ID)
	return rec.Clone(), nil
}

// Get returns a copy of the request.
func (l *MemoryRequestLedger) Get(ctx context.Context, id string) (*models.ParticipationRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// ListByStatus returns the booking's requests in the given status, oldest first.
func (l *MemoryRequestLedger) ListByStatus(ctx context.Context, bookingID string, status models.RequestStatus) ([]models.ParticipationRequest, error) {
	l.mu.Lock()
	list := make([]models.ParticipationRequest, 0)
	for _, id := range l.order {
		rec := l.requests[id]
		if rec.BookingID == bookingID && rec.Status == status {
			list = append(list, *rec.Clone())
		}
	}
	l.mu.Unlock()
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// Transact applies fn to a copy of the request and commits it on an unchanged version.
func (l *MemoryRequestLedger) Transact(ctx context.Context, id string, fn func(r *models.ParticipationRequest) error) (*models.ParticipationRequest, error) {
	var out *models.ParticipationRequest
	err := retryOnConflict(ctx, l.cfg, func(ctx context.Context) error {
		l.mu.Lock()
		rec, ok := l.requests[id]
		l.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		readVersion := rec.Version
		work := rec.Clone()
		if err := fn(work); err != nil {
			return err
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if cur := l.requests[id]; cur == nil || cur.Version != readVersion {
			return errVersionConflict
		}
		work.ID, work.BookingID, work.UserID = rec.ID, rec.BookingID, rec.UserID
		work.Version = readVersion + 1
		l.requests[id] = work.Clone()
		out = work
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
