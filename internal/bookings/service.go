package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fairway-meetups/backend/internal/clock"
	"github.com/fairway-meetups/backend/internal/models"
)

const (
	defaultJoinReward      = 10
	defaultPlaceholderName = "Golfer"
	defaultMaxCapacity     = 8
	defaultDispatchTimeout = 5 * time.Second

	rewardReasonJoin = "booking_join"
)

// Dispatcher delivers side effects. Calls are fire-and-forget from the
// service's point of view; errors are only logged.
type Dispatcher interface {
	Notify(ctx context.Context, n models.Notification) error
	CreditPoints(ctx context.Context, c models.PointsCredit) error
}

// ProfileLookup resolves the display name stored with a membership.
type ProfileLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// SnapshotPublisher pushes committed booking state to live subscribers.
type SnapshotPublisher interface {
	PublishBooking(ctx context.Context, b *models.Booking) error
}

// Service runs every booking operation against the injected stores.
type Service struct {
	repo       BookingRepository
	ledger     RequestLedger
	dispatcher Dispatcher
	profiles   ProfileLookup
	publisher  SnapshotPublisher
	clock      clock.Clock
	logger     *zap.Logger

	joinReward      int
	placeholderName string
	maxCapacity     int
	dispatchTimeout time.Duration

	effects sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithProfiles sets the display-name lookup.
func WithProfiles(p ProfileLookup) Option {
	return func(s *Service) { s.profiles = p }
}

// WithPublisher sets where committed snapshots are pushed.
func WithPublisher(p SnapshotPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithJoinReward sets the points credited for a direct join. Zero disables the credit.
func WithJoinReward(points int) Option {
	return func(s *Service) {
		if points >= 0 {
			s.joinReward = points
		}
	}
}

// WithPlaceholderName sets the name used when no display name can be resolved.
func WithPlaceholderName(name string) Option {
	return func(s *Service) {
		if name = strings.TrimSpace(name); name != "" {
			s.placeholderName = name
		}
	}
}

// WithMaxCapacity sets the largest capacity a host may create.
func WithMaxCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCapacity = n
		}
	}
}

// WithDispatchTimeout bounds each asynchronous side effect.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dispatchTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewService wires the booking core. dispatcher may be nil, in which case side
// effects are skipped.
func NewService(repo BookingRepository, ledger RequestLedger, dispatcher Dispatcher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:            repo,
		ledger:          ledger,
		dispatcher:      dispatcher,
		clock:           clock.NewSystem(),
		logger:          logger,
		joinReward:      defaultJoinReward,
		placeholderName: defaultPlaceholderName,
		maxCapacity:     defaultMaxCapacity,
		dispatchTimeout: defaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a new meetup. HostID comes from the authenticated caller.
type CreateInput struct {
	HostID           string
	HostName         string
	Title            string
	CourseName       string
	TeeTime          *time.Time
	MaxCapacity      int
	RequiresApproval bool
}

// Create publishes a booking with the host seated as its first member.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Booking, error) {
	title := strings.TrimSpace(in.Title)
	switch {
	case in.HostID == "":
		return nil, fmt.Errorf("%w: host is required", ErrInvalidInput)
	case title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	case in.MaxCapacity < 1 || in.MaxCapacity > s.maxCapacity:
		return nil, fmt.Errorf("%w: capacity must be between 1 and %d", ErrInvalidInput, s.maxCapacity)
	}

	now := s.clock.Now()
	b := &models.Booking{
		HostID:           in.HostID,
		Title:            title,
		CourseName:       strings.TrimSpace(in.CourseName),
		TeeTime:          in.TeeTime,
		Capacity:         models.Capacity{Max: in.MaxCapacity},
		Members:          []models.Member{},
		Status:           models.BookingStatusOpen,
		RequiresApproval: in.RequiresApproval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	b.AddMember(models.Member{
		UserID:      in.HostID,
		DisplayName: s.resolveName(ctx, in.HostID, in.HostName),
		Role:        models.MemberRoleHost,
	})

	if _, err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info("booking created",
		zap.String("booking_id", b.ID),
		zap.String("host_id", b.HostID),
		zap.Int("capacity", b.Capacity.Max),
		zap.Bool("requires_approval", b.RequiresApproval))
	return b, nil
}

// Get returns the current booking state.
func (s *Service) Get(ctx context.Context, id string) (*models.Booking, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: booking id is required", ErrInvalidInput)
	}
	return s.repo.Get(ctx, id)
}

// JoinOutcome tells whether a join seated the user or filed a request.
type JoinOutcome string

const (
	JoinOutcomeJoined  JoinOutcome = "joined"
	JoinOutcomePending JoinOutcome = "pending"
)

// JoinInput identifies who joins which booking. DisplayName is a fallback for
// the profile lookup.
type JoinInput struct {
	BookingID   string
	UserID      string
	DisplayName string
}

// JoinResult is returned by Join. On ErrAlreadyJoined it still carries the
// current booking and, for approval bookings, the live request.
type JoinResult struct {
	Outcome JoinOutcome                  `json:"outcome"`
	Booking *models.Booking              `json:"booking"`
	Request *models.ParticipationRequest `json:"request,omitempty"`
}

// errApprovalRequired aborts the direct join transaction without writing.
var errApprovalRequired = errors.New("approval required")

// Join seats the user directly, or files a pending request when the booking
// requires host approval.
func (s *Service) Join(ctx context.Context, in JoinInput) (JoinResult, error) {
	if in.BookingID == "" || in.UserID == "" {
		return JoinResult{}, fmt.Errorf("%w: booking and user are required", ErrInvalidInput)
	}
	name := s.resolveName(ctx, in.UserID, in.DisplayName)

	var seen *models.Booking
	b, err := s.repo.Transact(ctx, in.BookingID, func(b *models.Booking) error {
		seen = b.Clone()
		if err := checkJoinable(b, in.UserID); err != nil {
			return err
		}
		if b.RequiresApproval {
			return errApprovalRequired
		}
		b.AddMember(models.Member{UserID: in.UserID, DisplayName: name, Role: models.MemberRoleMember})
		return nil
	})
	switch {
	case errors.Is(err, errApprovalRequired):
		return s.requestJoin(ctx, seen, in.UserID, name)
	case errors.Is(err, ErrAlreadyJoined):
		return JoinResult{Outcome: JoinOutcomeJoined, Booking: seen}, err
	case err != nil:
		return JoinResult{}, err
	}

	s.logger.Info("member joined",
		zap.String("booking_id", b.ID),
		zap.String("user_id", in.UserID),
		zap.Int("current", b.Capacity.Current),
		zap.Int("max", b.Capacity.Max))

	s.notify(models.Notification{
		ID:      models.EffectID(string(models.NotificationBookingJoin), b.ID, in.UserID, b.Version),
		UserID:  b.HostID,
		Kind:    models.NotificationBookingJoin,
		Title:   "New player joined",
		Body:    fmt.Sprintf("%s joined %s", name, b.Title),
		Payload: map[string]string{"booking_id": b.ID, "user_id": in.UserID},
	})
	if s.joinReward > 0 {
		s.creditPoints(models.PointsCredit{
			ID:     models.EffectID("points:"+rewardReasonJoin, b.ID, in.UserID, b.Version),
			UserID: in.UserID,
			Amount: s.joinReward,
			Reason: rewardReasonJoin,
		})
	}
	s.publish(b)
	return JoinResult{Outcome: JoinOutcomeJoined, Booking: b}, nil
}

// requestJoin files a pending request. b was validated by the aborted transaction.
func (s *Service) requestJoin(ctx context.Context, b *models.Booking, userID, name string) (JoinResult, error) {
	req, err := s.ledger.CreatePending(ctx, &models.ParticipationRequest{
		BookingID:   b.ID,
		UserID:      userID,
		DisplayName: name,
		Status:      models.RequestStatusPending,
		CreatedAt:   s.clock.Now(),
	})
	if errors.Is(err, ErrAlreadyJoined) && req != nil && req.Status == models.RequestStatusApproved {
		// An approved admission is spent once the member withdrew.
		return JoinResult{}, fmt.Errorf("%w: request %s was already approved for this booking", ErrInvalidState, req.ID)
	}
	if errors.Is(err, ErrAlreadyJoined) {
		return JoinResult{Outcome: JoinOutcomePending, Booking: b, Request: req}, err
	}
	if err != nil {
		return JoinResult{}, err
	}

	s.logger.Info("participation requested",
		zap.String("booking_id", b.ID),
		zap.String("request_id", req.ID),
		zap.String("user_id", userID))
	s.notify(models.Notification{
		ID:      models.EffectID(string(models.NotificationBookingRequest), req.ID),
		UserID:  b.HostID,
		Kind:    models.NotificationBookingRequest,
		Title:   "Join request",
		Body:    fmt.Sprintf("%s asked to join %s", name, b.Title),
		Payload: map[string]string{"booking_id": b.ID, "request_id": req.ID, "user_id": userID},
	})
	return JoinResult{Outcome: JoinOutcomePending, Booking: b, Request: req}, nil
}

// Approve admits the requester into the booking and resolves the request.
func (s *Service) Approve(ctx context.Context, requestID, bookingID, hostID string) (*models.Booking, error) {
	req, err := s.ledger.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.BookingID != bookingID {
		return nil, fmt.Errorf("%w: request %s is not part of booking %s", ErrNotFound, requestID, bookingID)
	}
	if req.Status != models.RequestStatusPending {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}

	name := req.DisplayName
	if name == "" {
		name = s.placeholderName
	}
	var added bool
	b, err := s.repo.Transact(ctx, bookingID, func(b *models.Booking) error {
		added = false
		if !b.IsHost(hostID) {
			return fmt.Errorf("%w: only the host can approve requests", ErrPermissionDenied)
		}
		if err := checkJoinable(b, req.UserID); err != nil {
			return err
		}
		b.AddMember(models.Member{UserID: req.UserID, DisplayName: name, Role: models.MemberRoleMember})
		added = true
		return nil
	})
	if errors.Is(err, ErrAlreadyJoined) {
		// A previous approve seated the user but did not resolve the request.
		b, err = s.repo.Get(ctx, bookingID)
	}
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.Transact(ctx, requestID, func(r *models.ParticipationRequest) error {
		if r.Status != models.RequestStatusPending {
			return fmt.Errorf("%w: request is %s", ErrInvalidState, r.Status)
		}
		r.Resolve(models.RequestStatusApproved, s.clock.Now())
		return nil
	})
	if err != nil {
		if added {
			undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
			s.undoAdmission(undoCtx, req)
			cancel()
		}
		return nil, err
	}

	s.logger.Info("request approved",
		zap.String("booking_id", bookingID),
		zap.String("request_id", requestID),
		zap.String("user_id", req.UserID))
	s.notify(models.Notification{
		ID:      models.EffectID(string(models.NotificationBookingApproved), req.ID),
		UserID:  req.UserID,
		Kind:    models.NotificationBookingApproved,
		Title:   "Request approved",
		Body:    fmt.Sprintf("You are in for %s", b.Title),
		Payload: map[string]string{"booking_id": bookingID, "request_id": req.ID},
	})
	s.publish(b)
	return b, nil
}

// undoAdmission removes a member seated by an approve whose request did not end
// up approved. If the request was approved by a concurrent call the seat stays.
// ctx must outlive the caller's request; Approve detaches it before calling.
func (s *Service) undoAdmission(ctx context.Context, req *models.ParticipationRequest) {
	current, err := s.ledger.Get(ctx, req.ID)
	if err != nil {
		s.logger.Error("approve compensation: reload request", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	if current.Status == models.RequestStatusApproved {
		return
	}
	b, err := s.repo.Transact(ctx, req.BookingID, func(b *models.Booking) error {
		if !b.RemoveMember(req.UserID) {
			return fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("approve compensation: remove member",
			zap.String("booking_id", req.BookingID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return
	}
	s.logger.Warn("approve rolled back",
		zap.String("booking_id", req.BookingID),
		zap.String("request_id", req.ID),
		zap.String("request_status", string(current.Status)))
	s.publish(b)
}

// Reject resolves a pending request as rejected. The booking is never touched.
func (s *Service) Reject(ctx context.Context, requestID, hostID string) (*models.ParticipationRequest, error) {
	req, err := s.ledger.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsHost(hostID) {
		return nil, fmt.Errorf("%w: only the host can reject requests", ErrPermissionDenied)
	}

	resolved, err := s.ledger.Transact(ctx, requestID, func(r *models.ParticipationRequest) error {
		if r.Status != models.RequestStatusPending {
			return fmt.Errorf("%w: request is %s", ErrInvalidState, r.Status)
		}
		r.Resolve(models.RequestStatusRejected, s.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("request rejected",
		zap.String("booking_id", b.ID),
		zap.String("request_id", requestID),
		zap.String("user_id", req.UserID))
	s.notify(models.Notification{
		ID:      models.EffectID(string(models.NotificationBookingRejected), req.ID),
		UserID:  req.UserID,
		Kind:    models.NotificationBookingRejected,
		Title:   "Request declined",
		Body:    fmt.Sprintf("The host declined your request for %s", b.Title),
		Payload: map[string]string{"booking_id": b.ID, "request_id": req.ID},
	})
	return resolved, nil
}

// ListPending returns the pending requests of a booking, oldest first. Host only.
func (s *Service) ListPending(ctx context.Context, bookingID, callerID string) ([]models.ParticipationRequest, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsHost(callerID) {
		return nil, fmt.Errorf("%w: only the host can list requests", ErrPermissionDenied)
	}
	return s.ledger.ListByStatus(ctx, bookingID, models.RequestStatusPending)
}

// Withdraw frees the caller's seat. The host has to cancel instead.
func (s *Service) Withdraw(ctx context.Context, bookingID, userID string) (*models.Booking, error) {
	if bookingID == "" || userID == "" {
		return nil, fmt.Errorf("%w: booking and user are required", ErrInvalidInput)
	}
	b, err := s.repo.Transact(ctx, bookingID, func(b *models.Booking) error {
		if b.Status.Terminal() {
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, b.Status)
		}
		if !b.HasMember(userID) {
			return fmt.Errorf("%w: user %s is not a member", ErrNotFound, userID)
		}
		if b.IsHost(userID) {
			return fmt.Errorf("%w: the host cannot withdraw, cancel the booking instead", ErrInvalidState)
		}
		b.RemoveMember(userID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("member withdrew",
		zap.String("booking_id", b.ID),
		zap.String("user_id", userID),
		zap.Int("current", b.Capacity.Current))
	s.notify(models.Notification{
		ID:      models.EffectID(string(models.NotificationBookingWithdrawn), b.ID, userID, b.Version),
		UserID:  b.HostID,
		Kind:    models.NotificationBookingWithdrawn,
		Title:   "Player withdrew",
		Body:    fmt.Sprintf("A player left %s", b.Title),
		Payload: map[string]string{"booking_id": b.ID, "user_id": userID},
	})
	s.publish(b)
	return b, nil
}

// Cancel closes the booking for good and tells every other member.
func (s *Service) Cancel(ctx context.Context, bookingID, hostID, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	b, err := s.repo.Transact(ctx, bookingID, func(b *models.Booking) error {
		if !b.IsHost(hostID) {
			return fmt.Errorf("%w: only the host can cancel", ErrPermissionDenied)
		}
		if b.Status.Terminal() {
			return fmt.Errorf("%w: booking is already %s", ErrInvalidState, b.Status)
		}
		closedAt := s.clock.Now()
		b.Status = models.BookingStatusClosed
		b.CancelReason = reason
		b.ClosedAt = &closedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking cancelled",
		zap.String("booking_id", b.ID),
		zap.Int("members", b.Capacity.Current))
	body := fmt.Sprintf("%s was cancelled by the host", b.Title)
	if reason != "" {
		body += ": " + reason
	}
	for _, m := range b.Members {
		if m.UserID == b.HostID {
			continue
		}
		s.notify(models.Notification{
			ID:      models.EffectID(string(models.NotificationBookingCancelled), b.ID, m.UserID),
			UserID:  m.UserID,
			Kind:    models.NotificationBookingCancelled,
			Title:   "Booking cancelled",
			Body:    body,
			Payload: map[string]string{"booking_id": b.ID, "reason": reason},
		})
	}
	s.publish(b)
	return b, nil
}

// Wait blocks until all in-flight side effects have finished.
func (s *Service) Wait() {
	s.effects.Wait()
}

// checkJoinable applies the admission rules shared by Join and Approve.
// A closed booking rejects everyone, members included.
func checkJoinable(b *models.Booking, userID string) error {
	if b.Status.Terminal() {
		return fmt.Errorf("%w: booking is %s", ErrInvalidState, b.Status)
	}
	if b.HasMember(userID) {
		return fmt.Errorf("%w: user %s", ErrAlreadyJoined, userID)
	}
	if b.Status != models.BookingStatusOpen {
		return fmt.Errorf("%w: booking is full or closed", ErrInvalidState)
	}
	if b.Remaining() < 1 {
		return fmt.Errorf("%w: %d of %d seats taken", ErrCapacityExceeded, b.Capacity.Current, b.Capacity.Max)
	}
	return nil
}

func (s *Service) resolveName(ctx context.Context, userID, supplied string) string {
	if s.profiles != nil {
		name, err := s.profiles.DisplayName(ctx, userID)
		if err != nil {
			s.logger.Debug("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		} else if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	if supplied = strings.TrimSpace(supplied); supplied != "" {
		return supplied
	}
	return s.placeholderName
}

func (s *Service) notify(n models.Notification) {
	if s.dispatcher == nil {
		return
	}
	s.goAsync("notify", []zap.Field{zap.String("notification_id", n.ID), zap.String("user_id", n.UserID)},
		func(ctx context.Context) error { return s.dispatcher.Notify(ctx, n) })
}

func (s *Service) creditPoints(c models.PointsCredit) {
	if s.dispatcher == nil {
		return
	}
	s.goAsync("credit_points", []zap.Field{zap.String("credit_id", c.ID), zap.String("user_id", c.UserID)},
		func(ctx context.Context) error { return s.dispatcher.CreditPoints(ctx, c) })
}

func (s *Service) publish(b *models.Booking) {
	if s.publisher == nil {
		return
	}
	snapshot := b.Clone()
	s.goAsync("publish", []zap.Field{zap.String("booking_id", snapshot.ID), zap.Int64("version", snapshot.Version)},
		func(ctx context.Context) error { return s.publisher.PublishBooking(ctx, snapshot) })
}

// goAsync runs a side effect detached from the request context.
func (s *Service) goAsync(effect string, fields []zap.Field, fn func(ctx context.Context) error) {
	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("side effect panicked", append(fields, zap.String("effect", effect), zap.Any("panic", r))...)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("side effect failed", append(fields, zap.String("effect", effect), zap.Error(err))...)
		}
	}()
}
