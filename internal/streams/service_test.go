package streams

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
)

type memStreamRepo struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*models.Stream
}

func newMemStreamRepo() *memStreamRepo {
	return &memStreamRepo{streams: make(map[uuid.UUID]*models.Stream)}
}

func (r *memStreamRepo) Create(_ context.Context, s *models.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = uuid.New()
	s.Status = models.StatusScheduled
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.streams[s.ID] = &cp
	return nil
}

func (r *memStreamRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r *memStreamRepo) GetByIDForHost(_ context.Context, id uuid.UUID, host models.Host) (*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[id]
	if !ok || st.HostType != host.Kind || st.HostID() != host.ID {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r *memStreamRepo) UpdateDetails(_ context.Context, s *models.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.streams[s.ID]; ok {
		st.Title = s.Title
		st.Description = s.Description
		st.Category = s.Category
		st.Tags = s.Tags
		st.ScheduledAt = s.ScheduledAt
		st.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memStreamRepo) Start(_ context.Context, id uuid.UUID) (bool, error) {
	return r.transition(id, models.StatusScheduled, models.StatusLive)
}

func (r *memStreamRepo) End(_ context.Context, id uuid.UUID) (bool, error) {
	return r.transition(id, models.StatusLive, models.StatusEnded)
}

func (r *memStreamRepo) Cancel(_ context.Context, id uuid.UUID) error {
	_, err := r.transition(id, models.StatusScheduled, models.StatusCancelled)
	return err
}

func (r *memStreamRepo) transition(id uuid.UUID, from, to models.StreamStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[id]
	if !ok || st.Status != from {
		return false, nil
	}
	st.Status = to
	now := time.Now()
	switch to {
	case models.StatusLive:
		st.StartedAt = &now
	case models.StatusEnded:
		st.EndedAt = &now
	}
	return true, nil
}

func (r *memStreamRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
	return nil
}

func (r *memStreamRepo) ListLive(_ context.Context) ([]models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Stream
	for _, st := range r.streams {
		if st.Status == models.StatusLive {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (r *memStreamRepo) ListByHost(_ context.Context, host models.Host) ([]models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Stream
	for _, st := range r.streams {
		if st.HostType == host.Kind && st.HostID() == host.ID {
			out = append(out, *st)
		}
	}
	return out, nil
}

type memProductRepo struct {
	mu       sync.Mutex
	products map[uuid.UUID][]*models.StreamProduct
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{products: make(map[uuid.UUID][]*models.StreamProduct)}
}

func (r *memProductRepo) Add(_ context.Context, p *models.StreamProduct) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.products[p.StreamID] {
		if existing.ProductID == p.ProductID {
			existing.IsActive = true
			existing.SpecialPrice = p.SpecialPrice
			*p = *existing
			return nil
		}
	}
	p.ID = uuid.New()
	p.IsActive = true
	p.AddedAt = time.Now()
	cp := *p
	r.products[p.StreamID] = append(r.products[p.StreamID], &cp)
	return nil
}

func (r *memProductRepo) Remove(_ context.Context, streamID, productID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products[streamID] {
		if p.ProductID == productID && p.IsActive {
			p.IsActive = false
			p.IsHighlighted = false
			return true, nil
		}
	}
	return false, nil
}

func (r *memProductRepo) Highlight(_ context.Context, streamID, productID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var target *models.StreamProduct
	for _, p := range r.products[streamID] {
		if p.ProductID == productID && p.IsActive {
			target = p
		}
	}
	if target == nil {
		return false, nil
	}
	for _, p := range r.products[streamID] {
		p.IsHighlighted = false
	}
	now := time.Now()
	target.IsHighlighted = true
	target.HighlightedAt = &now
	return true, nil
}

func (r *memProductRepo) Unhighlight(_ context.Context, streamID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products[streamID] {
		p.IsHighlighted = false
	}
	return nil
}

func (r *memProductRepo) ListByStream(_ context.Context, streamID uuid.UUID) ([]models.StreamProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.StreamProduct
	for _, p := range r.products[streamID] {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeChannels struct {
	mu        sync.Mutex
	acquired  int
	destroyed []string
	err       error
}

func (f *fakeChannels) Acquire(context.Context, models.Host) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	id := uuid.New().String()
	return &models.Channel{
		ID:          "ch-" + id,
		StreamKey:   "sk-" + id,
		IngestURL:   "rtmps://ingest/" + id,
		PlaybackURL: "https://playback/" + id + ".m3u8",
	}, nil
}

func (f *fakeChannels) Destroy(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, channelID)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	followers []uuid.UUID
	dashboard []string
}

func (f *fakeNotifier) NotifyFollowers(streamID uuid.UUID, _ models.Host, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followers = append(f.followers, streamID)
}

func (f *fakeNotifier) NotifyDashboard(event string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dashboard = append(f.dashboard, event)
}

type failingSnapshotter struct{ called chan struct{} }

func (f *failingSnapshotter) CollectStream(context.Context, uuid.UUID) error {
	close(f.called)
	return errors.New("metrics backend down")
}

type env struct {
	svc      *Service
	repo     *memStreamRepo
	products *memProductRepo
	channels *fakeChannels
	notifier *fakeNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:     newMemStreamRepo(),
		products: newMemProductRepo(),
		channels: &fakeChannels{},
		notifier: &fakeNotifier{},
	}
	e.svc = NewService(e.repo, e.products, e.channels, e.notifier, nil, nil, nil, nil, nil, nil)
	return e
}

func seller() models.Host {
	return models.Host{ID: uuid.New(), Kind: models.HostSeller}
}

func (e *env) created(t *testing.T, host models.Host) *models.Stream {
	t.Helper()
	st, err := e.svc.Create(context.Background(), host, CreateInput{Title: "flash sale"})
	require.NoError(t, err)
	return st
}

func TestCreateBindsChannel(t *testing.T) {
	e := newEnv(t)
	st := e.created(t, seller())

	assert.Equal(t, models.StatusScheduled, st.Status)
	require.True(t, st.HasChannel())
	assert.NotNil(t, st.StreamKey)
	assert.NotNil(t, st.IngestURL)
	assert.NotNil(t, st.PlaybackURL)
	assert.Equal(t, 1, e.channels.acquired)
}

func TestCreateRequiresTitle(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Create(context.Background(), seller(), CreateInput{})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.Zero(t, e.channels.acquired)
}

func TestCreatePropagatesExhaustion(t *testing.T) {
	e := newEnv(t)
	e.channels.err = apperr.ErrResourceExhausted
	_, err := e.svc.Create(context.Background(), seller(), CreateInput{Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrResourceExhausted)
}

func TestLifecycleHappyPath(t *testing.T) {
	e := newEnv(t)
	host := seller()
	st := e.created(t, host)

	live, err := e.svc.Start(context.Background(), st.ID, host)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, live.Status)
	assert.NotNil(t, live.StartedAt)
	assert.Equal(t, []uuid.UUID{st.ID}, e.notifier.followers)

	ended, err := e.svc.End(context.Background(), st.ID, host)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)

	// Credentials stay on the ended row as the reuse pool.
	row, _ := e.repo.GetByID(context.Background(), st.ID)
	assert.True(t, row.HasChannel())
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	e := newEnv(t)
	host := seller()
	st := e.created(t, host)

	_, err := e.svc.End(context.Background(), st.ID, host)
	assert.ErrorIs(t, err, apperr.ErrBadRequest, "end before start")

	_, err = e.svc.Start(context.Background(), st.ID, host)
	require.NoError(t, err)
	_, err = e.svc.Start(context.Background(), st.ID, host)
	assert.ErrorIs(t, err, apperr.ErrBadRequest, "double start")

	_, err = e.svc.End(context.Background(), st.ID, host)
	require.NoError(t, err)
	_, err = e.svc.Start(context.Background(), st.ID, host)
	assert.ErrorIs(t, err, apperr.ErrBadRequest, "start after end")
	err = e.svc.Cancel(context.Background(), st.ID, host)
	assert.ErrorIs(t, err, apperr.ErrBadRequest, "cancel after end")
}

func TestOwnershipMismatchIsNotFound(t *testing.T) {
	e := newEnv(t)
	st := e.created(t, seller())
	stranger := seller()

	_, err := e.svc.Start(context.Background(), st.ID, stranger)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Same account id under the other host kind is a different host.
	owner := models.Host{ID: st.HostID(), Kind: models.HostAffiliate}
	_, err = e.svc.Start(context.Background(), st.ID, owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteWhileLiveRejected(t *testing.T) {
	e := newEnv(t)
	host := seller()
	st := e.created(t, host)
	_, err := e.svc.Start(context.Background(), st.ID, host)
	require.NoError(t, err)

	err = e.svc.Delete(context.Background(), st.ID, host)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = e.svc.Get(context.Background(), st.ID)
	assert.NoError(t, err, "stream must survive the rejected delete")
}

func TestDeleteDestroysChannel(t *testing.T) {
	e := newEnv(t)
	host := seller()
	st := e.created(t, host)
	channelID := *st.ChannelID

	require.NoError(t, e.svc.Delete(context.Background(), st.ID, host))
	assert.Equal(t, []string{channelID}, e.channels.destroyed)

	_, err := e.svc.Get(context.Background(), st.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEndSurvivesSnapshotFailure(t *testing.T) {
	e := newEnv(t)
	snap := &failingSnapshotter{called: make(chan struct{})}
	e.svc = NewService(e.repo, e.products, e.channels, e.notifier, nil, snap, nil, nil, nil, nil)

	host := seller()
	st := e.created(t, host)
	_, err := e.svc.Start(context.Background(), st.ID, host)
	require.NoError(t, err)

	ended, err := e.svc.End(context.Background(), st.ID, host)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)

	select {
	case <-snap.called:
	case <-time.After(time.Second):
		t.Fatal("final snapshot was never attempted")
	}
}

func TestHighlightSwap(t *testing.T) {
	e := newEnv(t)
	host := seller()
	st := e.created(t, host)

	a := ProductInput{ProductID: uuid.New()}
	b := ProductInput{ProductID: uuid.New()}
	_, err := e.svc.AddProduct(context.Background(), st.ID, host, a)
	require.NoError(t, err)
	_, err = e.svc.AddProduct(context.Background(), st.ID, host, b)
	require.NoError(t, err)

	require.NoError(t, e.svc.HighlightProduct(context.Background(), st.ID, a.ProductID, host))
	require.NoError(t, e.svc.HighlightProduct(context.Background(), st.ID, b.ProductID, host))

	rail, err := e.svc.ListProducts(context.Background(), st.ID)
	require.NoError(t, err)
	highlighted := 0
	for _, p := range rail {
		if p.IsHighlighted {
			highlighted++
			assert.Equal(t, b.ProductID, p.ProductID)
		}
	}
	assert.Equal(t, 1, highlighted)
}

func TestHighlightUnknownProduct(t *testing.T) {
	e := newEnv(t)
	host := seller()
	st := e.created(t, host)

	err := e.svc.HighlightProduct(context.Background(), st.ID, uuid.New(), host)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStatsAggregates(t *testing.T) {
	e := newEnv(t)
	host := seller()
	st := e.created(t, host)
	_, err := e.svc.Start(context.Background(), st.ID, host)
	require.NoError(t, err)

	stats, err := e.svc.Stats(context.Background(), st.ID, host)
	require.NoError(t, err)
	assert.Equal(t, st.ID, stats.StreamID)
	assert.Equal(t, string(models.StatusLive), stats.Status)
}
