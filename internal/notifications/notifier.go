// Package notifications is the fire-and-forget side channel: follower pushes
// when a stream goes live and admin dashboard events. Delivery runs through
// the Redis job queue so a slow or dead consumer never touches the hot path.
package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/models"
	"github.com/gshop/live-backend/pkg/queue"
)

const enqueueTimeout = 5 * time.Second

// QueueNotifier enqueues notification jobs on the Redis queue. Every call
// detaches onto its own goroutine; errors are logged and never reach the
// caller.
type QueueNotifier struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewQueueNotifier creates a queue-backed notifier.
func NewQueueNotifier(q *queue.Queue, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: q, logger: logger}
}

// NotifyFollowers enqueues a "stream went live" fan-out job.
func (n *QueueNotifier) NotifyFollowers(streamID uuid.UUID, host models.Host, title string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		err := n.queue.EnqueueFollowerNotify(ctx, queue.FollowerNotifyPayload{
			StreamID:    streamID,
			HostID:      host.ID,
			HostKind:    string(host.Kind),
			StreamTitle: title,
		})
		if err != nil {
			n.logger.Error("enqueue follower notify", zap.Error(err), zap.String("stream_id", streamID.String()))
		}
	}()
}

// NotifyDashboard enqueues an admin dashboard push job.
func (n *QueueNotifier) NotifyDashboard(event string, payload interface{}) {
	go func() {
		data, err := json.Marshal(payload)
		if err != nil {
			n.logger.Error("marshal dashboard payload", zap.Error(err), zap.String("event", event))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		if err := n.queue.EnqueueDashboardNotify(ctx, queue.DashboardNotifyPayload{Event: event, Data: data}); err != nil {
			n.logger.Error("enqueue dashboard notify", zap.Error(err), zap.String("event", event))
		}
	}()
}

// LogNotifier is the no-Redis fallback used in dev wiring: it just logs.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// NotifyFollowers logs the would-be fan-out.
func (n *LogNotifier) NotifyFollowers(streamID uuid.UUID, host models.Host, title string) {
	n.logger.Info("follower notify",
		zap.String("stream_id", streamID.String()),
		zap.String("host_id", host.ID.String()),
		zap.String("title", title))
}

// NotifyDashboard logs the would-be dashboard push.
func (n *LogNotifier) NotifyDashboard(event string, payload interface{}) {
	n.logger.Info("dashboard notify", zap.String("event", event), zap.Any("payload", payload))
}
