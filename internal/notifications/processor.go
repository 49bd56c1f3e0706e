package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gshop/live-backend/pkg/queue"
)

// Processor consumes notification jobs from the Redis queue. Actual push
// delivery (APNs, FCM, email) sits behind the Deliverer interface; the
// default implementation logs, which is enough for dev and for wiring a real
// sender later.
type Processor struct {
	queue     *queue.Queue
	deliverer Deliverer
	logger    *zap.Logger
}

// Deliverer sends one notification to its audience.
type Deliverer interface {
	DeliverToFollowers(ctx context.Context, p queue.FollowerNotifyPayload) error
	DeliverToDashboard(ctx context.Context, p queue.DashboardNotifyPayload) error
}

// NewProcessor creates a notification job processor.
func NewProcessor(q *queue.Queue, deliverer Deliverer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deliverer == nil {
		deliverer = &logDeliverer{logger: logger}
	}
	return &Processor{queue: q, deliverer: deliverer, logger: logger}
}

// Process executes one notification job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeNotifyFollowers:
		var payload queue.FollowerNotifyPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.deliverer.DeliverToFollowers(ctx, payload)
	case queue.JobTypeNotifyDashboard:
		var payload queue.DashboardNotifyPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.deliverer.DeliverToDashboard(ctx, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}

type logDeliverer struct {
	logger *zap.Logger
}

func (d *logDeliverer) DeliverToFollowers(_ context.Context, p queue.FollowerNotifyPayload) error {
	d.logger.Info("stream live notification delivered",
		zap.String("stream_id", p.StreamID.String()),
		zap.String("host_id", p.HostID.String()),
		zap.String("host_kind", p.HostKind),
		zap.String("title", p.StreamTitle))
	return nil
}

func (d *logDeliverer) DeliverToDashboard(_ context.Context, p queue.DashboardNotifyPayload) error {
	d.logger.Info("dashboard notification delivered", zap.String("event", p.Event))
	return nil
}
