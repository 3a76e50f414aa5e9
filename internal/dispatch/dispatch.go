// Package dispatch hands booking side effects to the worker queue.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/fairway-meetups/backend/internal/models"
	"github.com/fairway-meetups/backend/pkg/queue"
)

// Enqueuer is the part of the job queue the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, id string, payload any) error
}

// QueueDispatcher turns notifications and points credits into queue jobs. The
// job id is the effect id so the worker can drop duplicates.
type QueueDispatcher struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewQueueDispatcher creates a dispatcher backed by q.
func NewQueueDispatcher(q Enqueuer, logger *zap.Logger) *QueueDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueDispatcher{queue: q, logger: logger}
}

// Notify enqueues a notification job.
func (d *QueueDispatcher) Notify(ctx context.Context, n models.Notification) error {
	return d.queue.Enqueue(ctx, queue.JobTypeNotification, n.ID, n)
}

// CreditPoints enqueues a points credit job.
func (d *QueueDispatcher) CreditPoints(ctx context.Context, c models.PointsCredit) error {
	return d.queue.Enqueue(ctx, queue.JobTypePointsCredit, c.ID, c)
}

// LogDispatcher only logs side effects. Used when the server runs without Redis.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a dispatcher that writes effects to logger.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(ctx context.Context, n models.Notification) error {
	d.logger.Info("notification",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title))
	return nil
}

func (d *LogDispatcher) CreditPoints(ctx context.Context, c models.PointsCredit) error {
	d.logger.Info("points credit",
		zap.String("id", c.ID),
		zap.String("user_id", c.UserID),
		zap.Int("amount", c.Amount),
		zap.String("reason", c.Reason))
	return nil
}
