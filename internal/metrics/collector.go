// Package metrics samples live stream engagement on a fixed interval and
// serves the resulting timeseries.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
)

// StreamSource lists the streams to sample.
type StreamSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	ListLive(ctx context.Context) ([]models.Stream, error)
}

// RoomCounter reports the in-memory viewer count per stream.
type RoomCounter interface {
	Count(streamID uuid.UUID) int
}

// ActivityCounter reads chat activity windows.
type ActivityCounter interface {
	CountMessagesSince(ctx context.Context, streamID uuid.UUID, since time.Time) (int, error)
	CountReactionsSince(ctx context.Context, streamID uuid.UUID, since time.Time) (int, error)
}

// OrderStats reads purchases correlated to a stream.
type OrderStats interface {
	StatsForStream(ctx context.Context, streamID uuid.UUID) (int, float64, error)
}

// SampleStore persists and prunes samples.
type SampleStore interface {
	Save(ctx context.Context, s *models.MetricsSample) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Broadcaster pushes fresh samples to stream rooms and the admin dashboard.
type Broadcaster interface {
	BroadcastAndPublish(streamID uuid.UUID, event string, payload interface{})
	BroadcastToAdmins(event string, payload interface{})
}

const defaultSampleTimeout = 10 * time.Second

// Collector samples every LIVE stream once per interval. Streams sample on
// their own goroutines under a per-stream deadline, so a failed, slow or hung
// external query for one stream never delays the others' samples for the tick.
type Collector struct {
	streams       StreamSource
	rooms         RoomCounter
	activity      ActivityCounter
	orders        OrderStats
	samples       SampleStore
	broadcast     Broadcaster
	interval      time.Duration
	retention     time.Duration
	sampleTimeout time.Duration
	logger        *zap.Logger
}

// NewCollector creates a metrics collector.
func NewCollector(streams StreamSource, rooms RoomCounter, activity ActivityCounter, orders OrderStats,
	samples SampleStore, broadcast Broadcaster, interval, retention time.Duration, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Collector{
		streams:       streams,
		rooms:         rooms,
		activity:      activity,
		orders:        orders,
		samples:       samples,
		broadcast:     broadcast,
		interval:      interval,
		retention:     retention,
		sampleTimeout: defaultSampleTimeout,
		logger:        logger,
	}
}

// Run samples on the interval and sweeps retention daily until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	sweep := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	defer sweep.Stop()

	c.logger.Info("metrics collector started",
		zap.Duration("interval", c.interval), zap.Duration("retention", c.retention))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("metrics collector stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		case <-sweep.C:
			c.sweepRetention(ctx)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	live, err := c.streams.ListLive(ctx)
	if err != nil {
		c.logger.Error("list live streams for sampling", zap.Error(err))
		return
	}
	var wg sync.WaitGroup
	for i := range live {
		st := &live[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, c.sampleTimeout)
			defer cancel()
			if err := c.sample(sctx, st); err != nil {
				c.logger.Error("sample stream", zap.Error(err), zap.String("stream_id", st.ID.String()))
			}
		}()
	}
	wg.Wait()
}

// CollectStream samples one stream on demand, used for the final snapshot
// when a stream ends.
func (c *Collector) CollectStream(ctx context.Context, streamID uuid.UUID) error {
	st, err := c.streams.GetByID(ctx, streamID)
	if err != nil {
		return err
	}
	if st == nil {
		return apperr.NotFoundf("stream %s not found", streamID)
	}
	return c.sample(ctx, st)
}

func (c *Collector) sample(ctx context.Context, st *models.Stream) error {
	since := time.Now().Add(-c.interval)

	msgs, err := c.activity.CountMessagesSince(ctx, st.ID, since)
	if err != nil {
		return err
	}
	reactions, err := c.activity.CountReactionsSince(ctx, st.ID, since)
	if err != nil {
		return err
	}
	purchases, revenue, err := c.orders.StatsForStream(ctx, st.ID)
	if err != nil {
		return err
	}

	peak := st.PeakViewers
	if peak < 1 {
		peak = 1
	}
	s := &models.MetricsSample{
		StreamID:          st.ID,
		ViewerCount:       c.rooms.Count(st.ID),
		MessagesPerMinute: msgs,
		ReactionsCount:    reactions,
		PurchasesCount:    purchases,
		Revenue:           revenue,
		ConversionRate:    float64(purchases) / float64(peak) * 100,
	}
	if err := c.samples.Save(ctx, s); err != nil {
		return err
	}

	if c.broadcast != nil {
		c.broadcast.BroadcastAndPublish(st.ID, "metrics_update", s)
		c.broadcast.BroadcastToAdmins("metrics_update", s)
	}
	return nil
}

func (c *Collector) sweepRetention(ctx context.Context) {
	cutoff := time.Now().Add(-c.retention)
	n, err := c.samples.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Error("metrics retention sweep", zap.Error(err))
		return
	}
	c.logger.Info("metrics retention sweep", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
}
