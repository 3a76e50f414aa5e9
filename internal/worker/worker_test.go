package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairway-meetups/backend/internal/models"
	"github.com/fairway-meetups/backend/pkg/queue"
)

type fakeSource struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
	drained chan struct{}
}

func (s *fakeSource) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	s.mu.Lock()
	if len(s.jobs) > 0 {
		job := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()
	select {
	case s.drained <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (s *fakeSource) Retry(ctx context.Context, job *queue.Job, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried = append(s.retried, job)
	return nil
}

type fakeInbox struct {
	mu   sync.Mutex
	seen map[string]models.Notification
	err  error
}

func (f *fakeInbox) Deliver(ctx context.Context, n models.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.seen[n.ID]; ok {
		return false, nil
	}
	f.seen[n.ID] = n
	return true, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	credits map[string]models.PointsCredit
}

func (f *fakeLedger) Credit(ctx context.Context, c models.PointsCredit) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.credits[c.ID]; ok {
		return false, nil
	}
	f.credits[c.ID] = c
	return true, nil
}

func jobOf(t *testing.T, id string, jobType queue.JobType, payload any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: id, Type: jobType, Payload: raw}
}

func TestProcessRecordsOncePerID(t *testing.T) {
	ctx := context.Background()
	inbox := &fakeInbox{seen: map[string]models.Notification{}}
	ledger := &fakeLedger{credits: map[string]models.PointsCredit{}}
	p := NewEffectProcessor(&fakeSource{}, inbox, ledger, time.Millisecond, nil)

	note := models.Notification{ID: "booking_join:b1:u1:2", UserID: "host", Kind: models.NotificationBookingJoin}
	require.NoError(t, p.Process(ctx, jobOf(t, note.ID, queue.JobTypeNotification, note)))
	require.NoError(t, p.Process(ctx, jobOf(t, note.ID, queue.JobTypeNotification, note)))
	assert.Len(t, inbox.seen, 1)

	// Payload without an id falls back to the job id.
	credit := models.PointsCredit{UserID: "u1", Amount: 10, Reason: "booking_join"}
	require.NoError(t, p.Process(ctx, jobOf(t, "points:booking_join:b1:u1:2", queue.JobTypePointsCredit, credit)))
	assert.Contains(t, ledger.credits, "points:booking_join:b1:u1:2")
}

func TestProcessBadPayload(t *testing.T) {
	p := NewEffectProcessor(&fakeSource{}, &fakeInbox{seen: map[string]models.Notification{}}, &fakeLedger{credits: map[string]models.PointsCredit{}}, time.Millisecond, nil)

	err := p.Process(context.Background(), &queue.Job{ID: "x", Type: queue.JobTypeNotification, Payload: json.RawMessage(`"nope"`)})
	assert.ErrorIs(t, err, errBadPayload)

	err = p.Process(context.Background(), &queue.Job{ID: "y", Type: queue.JobType("sms"), Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, errBadPayload)
}

func TestRunRetriesFailuresAndDropsBadJobs(t *testing.T) {
	source := &fakeSource{drained: make(chan struct{}, 1)}
	inbox := &fakeInbox{seen: map[string]models.Notification{}, err: errors.New("db down")}
	ledger := &fakeLedger{credits: map[string]models.PointsCredit{}}

	source.jobs = []*queue.Job{
		{ID: "bad", Type: queue.JobTypePointsCredit, Payload: json.RawMessage(`[]`)},
		jobOf(t, "note", queue.JobTypeNotification, models.Notification{ID: "note", UserID: "host"}),
		jobOf(t, "credit", queue.JobTypePointsCredit, models.PointsCredit{ID: "credit", UserID: "u1", Amount: 5}),
	}

	p := NewEffectProcessor(source, inbox, ledger, 10*time.Millisecond, nil)
	p.errorBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	select {
	case <-source.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue was not drained")
	}
	cancel()
	<-done

	source.mu.Lock()
	defer source.mu.Unlock()
	require.Len(t, source.retried, 1)
	assert.Equal(t, "note", source.retried[0].ID)
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.Contains(t, ledger.credits, "credit")
}
