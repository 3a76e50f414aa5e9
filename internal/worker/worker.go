package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fairway-meetups/backend/internal/models"
	"github.com/fairway-meetups/backend/pkg/queue"
)

// JobSource is the queue the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// NotificationSink records a notification. It reports false when the id was
// already recorded.
type NotificationSink interface {
	Deliver(ctx context.Context, n models.Notification) (bool, error)
}

// PointsSink records a points credit, false when already recorded.
type PointsSink interface {
	Credit(ctx context.Context, c models.PointsCredit) (bool, error)
}

// errBadPayload marks jobs that can never succeed.
var errBadPayload = errors.New("bad payload")

// EffectProcessor consumes side-effect jobs and records them idempotently.
type EffectProcessor struct {
	source        JobSource
	notifications NotificationSink
	points        PointsSink
	pollTimeout   time.Duration
	errorBackoff  time.Duration
	logger        *zap.Logger
}

// NewEffectProcessor creates the side-effect worker.
func NewEffectProcessor(source JobSource, notifications NotificationSink, points PointsSink, pollTimeout time.Duration, logger *zap.Logger) *EffectProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &EffectProcessor{
		source:        source,
		notifications: notifications,
		points:        points,
		pollTimeout:   pollTimeout,
		errorBackoff:  time.Second,
		logger:        logger,
	}
}

// Process executes one job.
func (p *EffectProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeNotification:
		var n models.Notification
		if err := json.Unmarshal(job.Payload, &n); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		if n.ID == "" {
			n.ID = job.ID
		}
		inserted, err := p.notifications.Deliver(ctx, n)
		if err != nil {
			return fmt.Errorf("deliver notification: %w", err)
		}
		p.logger.Info("notification recorded",
			zap.String("id", n.ID),
			zap.String("user_id", n.UserID),
			zap.String("kind", string(n.Kind)),
			zap.Bool("duplicate", !inserted))
		return nil
	case queue.JobTypePointsCredit:
		var c models.PointsCredit
		if err := json.Unmarshal(job.Payload, &c); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		if c.ID == "" {
			c.ID = job.ID
		}
		inserted, err := p.points.Credit(ctx, c)
		if err != nil {
			return fmt.Errorf("credit points: %w", err)
		}
		p.logger.Info("points credited",
			zap.String("id", c.ID),
			zap.String("user_id", c.UserID),
			zap.Int("amount", c.Amount),
			zap.Bool("duplicate", !inserted))
		return nil
	default:
		return fmt.Errorf("%w: unknown job type %q", errBadPayload, job.Type)
	}
}

// Run drains the queue until ctx is cancelled. Failed jobs are retried through
// the queue; malformed ones are dropped.
func (p *EffectProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("effect worker stopping")
			return
		}

		job, err := p.source.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			if errors.Is(err, errBadPayload) {
				p.logger.Error("dropping job", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.source.Retry(ctx, job, err); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *EffectProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.errorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
