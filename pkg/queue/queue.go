package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueNotifications is the Redis list key for notification jobs.
	QueueNotifications = "effects:notifications"
	// QueuePoints is the Redis list key for points credit jobs.
	QueuePoints = "effects:points"
	// QueueDLQ is the dead-letter queue for jobs that exhausted their retries.
	QueueDLQ = "effects:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeNotification JobType = "notification"
	JobTypePointsCredit JobType = "points_credit"
)

// queueFor maps a job type to its list.
func queueFor(t JobType) (string, error) {
	switch t {
	case JobTypeNotification:
		return QueueNotifications, nil
	case JobTypePointsCredit:
		return QueuePoints, nil
	default:
		return "", fmt.Errorf("unknown job type %q", t)
	}
}

// Job is a generic job envelope. ID is the effect's dedupe id.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.UniversalClient, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue wraps payload in a job and appends it to the job type's list.
// An empty id gets a random one.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, id string, payload any) error {
	key, err := queueFor(jobType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if id == "" {
		id = uuid.New().String()
	}
	job := Job{
		ID:        id,
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return nil
}

// Dequeue blocks up to timeout for a job from any effect queue. It returns a
// nil job on timeout and skips payloads that do not decode.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueNotifications, QueuePoints).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("queue", result[0]), zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. Once attempt reaches
// MaxRetries the job is pushed to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) error {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	key, err := queueFor(job.Type)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Len reports how many jobs wait in a list.
func (q *Queue) Len(ctx context.Context, key string) (int64, error) {
	return q.client.LLen(ctx, key).Result()
}
