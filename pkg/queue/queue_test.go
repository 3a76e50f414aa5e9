package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

type notePayload struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, JobTypeNotification, "booking_join:b1:u1:2", notePayload{UserID: "host", Title: "hi"}))
	require.NoError(t, q.Enqueue(ctx, JobTypePointsCredit, "", map[string]int{"amount": 10}))

	n, err := q.Len(ctx, QueueNotifications)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = q.Len(ctx, QueuePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "booking_join:b1:u1:2", job.ID)
	assert.Equal(t, JobTypeNotification, job.Type)
	assert.Equal(t, 0, job.Attempt)

	var p notePayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "host", p.UserID)

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypePointsCredit, job.Type)
	assert.NotEmpty(t, job.ID)
}

func TestEnqueueUnknownType(t *testing.T) {
	q, _ := newTestQueue(t)
	err := q.Enqueue(context.Background(), JobType("email"), "x", nil)
	assert.Error(t, err)
}

func TestDequeueSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	_, err := mr.Push(QueueNotifications, "not json")
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueTimeout(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.Enqueue(ctx, JobTypePointsCredit, "points:booking_join:b1:u1:2", map[string]int{"amount": 10}))

	cause := errors.New("ledger unavailable")
	for attempt := 1; attempt < MaxRetries; attempt++ {
		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, q.Retry(ctx, job, cause))

		n, err := q.Len(ctx, QueuePoints)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "attempt %d goes back on its own queue", attempt)
	}

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, MaxRetries-1, job.Attempt)
	assert.Equal(t, "ledger unavailable", job.LastError)
	require.NoError(t, q.Retry(ctx, job, cause))

	n, err := q.Len(ctx, QueuePoints)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = q.Len(ctx, QueueDLQ)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
