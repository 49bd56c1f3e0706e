package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gshop/live-backend/internal/models"
)

type fakeStreams struct {
	streams []models.Stream
}

func (f *fakeStreams) GetByID(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	for i := range f.streams {
		if f.streams[i].ID == id {
			cp := f.streams[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStreams) ListLive(context.Context) ([]models.Stream, error) {
	return f.streams, nil
}

type fakeRooms struct{ counts map[uuid.UUID]int }

func (f *fakeRooms) Count(id uuid.UUID) int { return f.counts[id] }

type fakeActivity struct {
	messages  map[uuid.UUID]int
	reactions map[uuid.UUID]int
	failFor   uuid.UUID
}

func (f *fakeActivity) CountMessagesSince(_ context.Context, id uuid.UUID, _ time.Time) (int, error) {
	if id == f.failFor {
		return 0, errors.New("query timeout")
	}
	return f.messages[id], nil
}

func (f *fakeActivity) CountReactionsSince(_ context.Context, id uuid.UUID, _ time.Time) (int, error) {
	return f.reactions[id], nil
}

type fakeOrders struct {
	purchases map[uuid.UUID]int
	revenue   map[uuid.UUID]float64
}

func (f *fakeOrders) StatsForStream(_ context.Context, id uuid.UUID) (int, float64, error) {
	return f.purchases[id], f.revenue[id], nil
}

type memSamples struct {
	mu      sync.Mutex
	samples []models.MetricsSample
}

func (m *memSamples) Save(_ context.Context, s *models.MetricsSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.RecordedAt = time.Now()
	m.samples = append(m.samples, *s)
	return nil
}

func (m *memSamples) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []models.MetricsSample
	var deleted int64
	for _, s := range m.samples {
		if s.RecordedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return deleted, nil
}

type fakeBroadcast struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]int
	admins int
}

func (f *fakeBroadcast) BroadcastAndPublish(id uuid.UUID, _ string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms == nil {
		f.rooms = make(map[uuid.UUID]int)
	}
	f.rooms[id]++
}

func (f *fakeBroadcast) BroadcastToAdmins(string, interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins++
}

func liveStream(peak int) models.Stream {
	hostID := uuid.New()
	return models.Stream{
		ID:          uuid.New(),
		Status:      models.StatusLive,
		HostType:    models.HostSeller,
		SellerID:    &hostID,
		PeakViewers: peak,
	}
}

func TestTickSamplesEveryLiveStream(t *testing.T) {
	a := liveStream(10)
	b := liveStream(4)
	streams := &fakeStreams{streams: []models.Stream{a, b}}
	store := &memSamples{}
	bc := &fakeBroadcast{}
	c := NewCollector(streams,
		&fakeRooms{counts: map[uuid.UUID]int{a.ID: 7, b.ID: 2}},
		&fakeActivity{messages: map[uuid.UUID]int{a.ID: 12}, reactions: map[uuid.UUID]int{a.ID: 30}},
		&fakeOrders{purchases: map[uuid.UUID]int{a.ID: 5}, revenue: map[uuid.UUID]float64{a.ID: 199.90}},
		store, bc, time.Minute, 7*24*time.Hour, nil)

	c.tick(context.Background())

	require.Len(t, store.samples, 2)
	byStream := map[uuid.UUID]models.MetricsSample{}
	for _, s := range store.samples {
		byStream[s.StreamID] = s
	}
	sa := byStream[a.ID]
	assert.Equal(t, 7, sa.ViewerCount)
	assert.Equal(t, 12, sa.MessagesPerMinute)
	assert.Equal(t, 30, sa.ReactionsCount)
	assert.Equal(t, 5, sa.PurchasesCount)
	assert.InDelta(t, 199.90, sa.Revenue, 0.001)
	assert.InDelta(t, 50.0, sa.ConversionRate, 0.001, "5 purchases / 10 peak * 100")

	assert.Equal(t, 1, bc.rooms[a.ID])
	assert.Equal(t, 1, bc.rooms[b.ID])
	assert.Equal(t, 2, bc.admins)
}

func TestConversionRateZeroPeak(t *testing.T) {
	st := liveStream(0)
	streams := &fakeStreams{streams: []models.Stream{st}}
	store := &memSamples{}
	c := NewCollector(streams, &fakeRooms{}, &fakeActivity{},
		&fakeOrders{purchases: map[uuid.UUID]int{st.ID: 3}}, store, nil,
		time.Minute, time.Hour, nil)

	c.tick(context.Background())

	require.Len(t, store.samples, 1)
	assert.InDelta(t, 300.0, store.samples[0].ConversionRate, 0.001, "divisor clamps to 1")
}

func TestFailingStreamIsIsolated(t *testing.T) {
	bad := liveStream(1)
	good := liveStream(1)
	streams := &fakeStreams{streams: []models.Stream{bad, good}}
	store := &memSamples{}
	c := NewCollector(streams, &fakeRooms{}, &fakeActivity{failFor: bad.ID},
		&fakeOrders{}, store, nil, time.Minute, time.Hour, nil)

	c.tick(context.Background())

	require.Len(t, store.samples, 1, "the healthy stream still gets its sample")
	assert.Equal(t, good.ID, store.samples[0].StreamID)
}

type blockingOrders struct {
	blockOn uuid.UUID
}

func (f *blockingOrders) StatsForStream(ctx context.Context, id uuid.UUID) (int, float64, error) {
	if id == f.blockOn {
		<-ctx.Done()
		return 0, 0, ctx.Err()
	}
	return 0, 0, nil
}

func TestSlowStreamDoesNotStallSampling(t *testing.T) {
	slow := liveStream(1)
	fast := liveStream(1)
	streams := &fakeStreams{streams: []models.Stream{slow, fast}}
	store := &memSamples{}
	c := NewCollector(streams, &fakeRooms{}, &fakeActivity{},
		&blockingOrders{blockOn: slow.ID}, store, nil, time.Minute, time.Hour, nil)
	c.sampleTimeout = 300 * time.Millisecond

	done := make(chan struct{})
	go func() {
		c.tick(context.Background())
		close(done)
	}()

	// The healthy stream's sample lands while the slow one is still hung on
	// its order query.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, s := range store.samples {
			if s.StreamID == fast.ID {
				return true
			}
		}
		return false
	}, 200*time.Millisecond, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not finish after the per-stream deadline")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, s := range store.samples {
		require.NotEqual(t, slow.ID, s.StreamID, "hung stream must not produce a sample")
	}
}

func TestCollectStreamOnDemand(t *testing.T) {
	st := liveStream(2)
	streams := &fakeStreams{streams: []models.Stream{st}}
	store := &memSamples{}
	c := NewCollector(streams, &fakeRooms{}, &fakeActivity{}, &fakeOrders{}, store, nil,
		time.Minute, time.Hour, nil)

	require.NoError(t, c.CollectStream(context.Background(), st.ID))
	assert.Len(t, store.samples, 1)

	err := c.CollectStream(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestRetentionSweep(t *testing.T) {
	store := &memSamples{}
	old := models.MetricsSample{ID: uuid.New(), StreamID: uuid.New(), RecordedAt: time.Now().Add(-8 * 24 * time.Hour)}
	fresh := models.MetricsSample{ID: uuid.New(), StreamID: old.StreamID, RecordedAt: time.Now()}
	store.samples = []models.MetricsSample{old, fresh}

	c := NewCollector(&fakeStreams{}, &fakeRooms{}, &fakeActivity{}, &fakeOrders{}, store, nil,
		time.Minute, 7*24*time.Hour, nil)
	c.sweepRetention(context.Background())

	require.Len(t, store.samples, 1)
	assert.Equal(t, fresh.ID, store.samples[0].ID)
}
