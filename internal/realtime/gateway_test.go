package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
)

type memSessions struct {
	mu   sync.Mutex
	open map[string]*models.ViewerSession
}

func newMemSessions() *memSessions {
	return &memSessions{open: make(map[string]*models.ViewerSession)}
}

func (m *memSessions) key(streamID uuid.UUID, id models.Identity) string {
	return streamID.String() + "/" + id.Key()
}

func (m *memSessions) Open(_ context.Context, streamID uuid.UUID, id models.Identity, _, _ string) (*models.ViewerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(streamID, id)
	if vs, ok := m.open[k]; ok {
		cp := *vs
		return &cp, nil
	}
	vs := &models.ViewerSession{
		ID:        uuid.New(),
		StreamID:  streamID,
		UserID:    id.UserID,
		SessionID: id.SessionID,
		JoinedAt:  time.Now(),
	}
	m.open[k] = vs
	cp := *vs
	return &cp, nil
}

func (m *memSessions) Close(_ context.Context, streamID uuid.UUID, id models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, m.key(streamID, id))
	return nil
}

func (m *memSessions) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

type memChat struct {
	mu        sync.Mutex
	messages  []models.Message
	reactions []models.Reaction
}

func (m *memChat) SaveMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	msg.SentAt = time.Now()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memChat) RecentMessages(_ context.Context, streamID uuid.UUID, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.StreamID == streamID && !msg.IsDeleted {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memChat) SaveReaction(_ context.Context, re *models.Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	re.ID = uuid.New()
	re.CreatedAt = time.Now()
	m.reactions = append(m.reactions, *re)
	return nil
}

type fakeModerator struct {
	mu     sync.Mutex
	deny   error
	forgot []string
}

func (f *fakeModerator) CanSend(context.Context, uuid.UUID, models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deny
}

func (f *fakeModerator) Ban(context.Context, uuid.UUID, models.Identity, uuid.UUID, string) error {
	return nil
}

func (f *fakeModerator) Timeout(_ context.Context, _ uuid.UUID, _ models.Identity, d time.Duration, _ uuid.UUID) (time.Time, error) {
	return time.Now().Add(d), nil
}

func (f *fakeModerator) DeleteMessage(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (f *fakeModerator) ForgetViewer(streamID uuid.UUID, id models.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, id.Key())
}

type memStreams struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*models.Stream
	counts  map[uuid.UUID]int
	likes   map[uuid.UUID]int
	sales   map[uuid.UUID]float64
}

func newMemStreams(streams ...*models.Stream) *memStreams {
	m := &memStreams{
		streams: make(map[uuid.UUID]*models.Stream),
		counts:  make(map[uuid.UUID]int),
		likes:   make(map[uuid.UUID]int),
		sales:   make(map[uuid.UUID]float64),
	}
	for _, st := range streams {
		m.streams[st.ID] = st
	}
	return m
}

func (m *memStreams) GetByID(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *memStreams) SetViewerCount(_ context.Context, id uuid.UUID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[id] = count
	return nil
}

func (m *memStreams) IncrementLikes(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.likes[id]++
	return nil
}

func (m *memStreams) AddSales(_ context.Context, id uuid.UUID, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[id] += amount
	return nil
}

type memProducts struct {
	mu     sync.Mutex
	orders map[uuid.UUID]int
	rev    map[uuid.UUID]float64
}

func newMemProducts() *memProducts {
	return &memProducts{orders: make(map[uuid.UUID]int), rev: make(map[uuid.UUID]float64)}
}

func (m *memProducts) RecordOrder(_ context.Context, _ uuid.UUID, productID uuid.UUID, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[productID]++
	m.rev[productID] += amount
	return nil
}

func liveStream() *models.Stream {
	hostID := uuid.New()
	return &models.Stream{
		ID:       uuid.New(),
		Title:    "friday flash sale",
		Status:   models.StatusLive,
		HostType: models.HostSeller,
		SellerID: &hostID,
	}
}

type rig struct {
	hub       *Hub
	gw        *Gateway
	sessions  *memSessions
	chat      *memChat
	moderator *fakeModerator
	streams   *memStreams
	products  *memProducts
}

func newRig(streams ...*models.Stream) *rig {
	r := &rig{
		hub:       NewHub(nil, nil, nil),
		sessions:  newMemSessions(),
		chat:      &memChat{},
		moderator: &fakeModerator{},
		streams:   newMemStreams(streams...),
		products:  newMemProducts(),
	}
	r.gw = NewGateway(r.hub, r.sessions, r.chat, r.moderator, r.streams, r.products, 20, nil)
	return r
}

func (r *rig) client(streamID uuid.UUID) *Client {
	userID := uuid.New()
	return &Client{
		ID:       uuid.New().String(),
		StreamID: streamID,
		Identity: models.Identity{UserID: &userID},
		Username: "viewer",
		hub:      r.hub,
		gateway:  r.gw,
		send:     make(chan WSMessage, 256),
	}
}

// drain pulls all buffered messages for a client and returns them by event.
func drain(c *Client) map[string][]json.RawMessage {
	out := make(map[string][]json.RawMessage)
	for {
		select {
		case msg := <-c.send:
			out[msg.Event] = append(out[msg.Event], msg.Data)
		default:
			return out
		}
	}
}

func lastCount(t *testing.T, c *Client) int {
	t.Helper()
	events := drain(c)["viewer_count"]
	require.NotEmpty(t, events, "no viewer_count event")
	var payload struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(events[len(events)-1], &payload))
	return payload.Count
}

func TestJoinLeaveCountMatchesRoomSize(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	a := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, a))
	assert.Equal(t, 1, lastCount(t, a))
	assert.Equal(t, 1, r.hub.Count(st.ID))

	b := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, b))
	assert.Equal(t, 2, lastCount(t, b))
	assert.Equal(t, 2, r.hub.Count(st.ID))

	r.gw.Leave(ctx, a)
	assert.Equal(t, 1, lastCount(t, b))
	assert.Equal(t, 1, r.hub.Count(st.ID))
	assert.Equal(t, 1, r.streams.counts[st.ID])
}

func TestJoinIsIdempotentPerIdentity(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	c := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, c))

	// Retried join from the same identity on a second connection.
	retry := r.client(st.ID)
	retry.Identity = c.Identity
	require.NoError(t, r.gw.Join(ctx, retry))

	assert.Equal(t, 1, r.sessions.openCount(), "one open session per (stream, identity)")
	assert.Equal(t, 2, r.hub.Count(st.ID), "both connections stay in the room")
}

func TestJoinUnknownStream(t *testing.T) {
	r := newRig()
	err := r.gw.Join(context.Background(), r.client(uuid.New()))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestJoinSnapshotGoesToJoinerOnly(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	first := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, first))
	require.NoError(t, r.gw.SendMessage(ctx, first, "hello"))
	require.NoError(t, r.gw.SendMessage(ctx, first, "world"))
	drain(first)

	joiner := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, joiner))

	snapshots := drain(joiner)["snapshot"]
	require.Len(t, snapshots, 1)
	var snap struct {
		Stream   models.Stream    `json:"stream"`
		Messages []models.Message `json:"messages"`
		Viewers  int              `json:"viewers"`
	}
	require.NoError(t, json.Unmarshal(snapshots[0], &snap))
	assert.Equal(t, st.ID, snap.Stream.ID)
	assert.Equal(t, 2, snap.Viewers)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hello", snap.Messages[0].Text, "oldest first")
	assert.Equal(t, "world", snap.Messages[1].Text)

	assert.Empty(t, drain(first)["snapshot"], "snapshot is unicast")
}

func TestLeaveIsIdempotent(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	c := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, c))
	r.gw.Leave(ctx, c)
	r.gw.Leave(ctx, c)

	assert.Equal(t, 0, r.hub.Count(st.ID))
	assert.Equal(t, 0, r.sessions.openCount())
	assert.Contains(t, r.moderator.forgot, c.Identity.Key())
}

func TestSendMessagePersistsAndBroadcasts(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	a := r.client(st.ID)
	b := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, a))
	require.NoError(t, r.gw.Join(ctx, b))
	drain(a)
	drain(b)

	require.NoError(t, r.gw.SendMessage(ctx, a, "any deals today?"))

	require.Len(t, r.chat.messages, 1)
	assert.Equal(t, "any deals today?", r.chat.messages[0].Text)
	// Without a Redis bridge PublishOnly falls back to the local room.
	assert.Len(t, drain(a)["new_message"], 1)
	assert.Len(t, drain(b)["new_message"], 1)
}

func TestSendMessageRejectedByModeration(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	c := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, c))
	r.moderator.deny = apperr.Forbiddenf("banned")

	err := r.gw.SendMessage(ctx, c, "let me in")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Empty(t, r.chat.messages, "nothing persisted for a rejected sender")
}

func TestSendMessageRequiresLiveStream(t *testing.T) {
	st := liveStream()
	st.Status = models.StatusEnded
	r := newRig(st)
	ctx := context.Background()

	c := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, c))
	err := r.gw.SendMessage(ctx, c, "anyone here?")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestReactionLikeBumpsCounter(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	c := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, c))
	drain(c)

	require.NoError(t, r.gw.SendReaction(ctx, c, models.ReactionLike))
	require.NoError(t, r.gw.SendReaction(ctx, c, models.ReactionFire))

	assert.Equal(t, 1, r.streams.likes[st.ID], "only likes bump the counter")
	assert.Len(t, r.chat.reactions, 2)
	assert.Len(t, drain(c)["new_reaction"], 2)

	err := r.gw.SendReaction(ctx, c, models.ReactionType("explode"))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestModerationRequiresHost(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	viewer := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, viewer))
	err := r.gw.BanUser(ctx, viewer, models.Identity{UserID: viewer.Identity.UserID}, "spam")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	host := r.client(st.ID)
	host.Identity = models.Identity{UserID: st.SellerID}
	require.NoError(t, r.gw.Join(ctx, host))
	assert.True(t, host.CanModerate())
	assert.NoError(t, r.gw.BanUser(ctx, host, viewer.Identity, "spam"))
}

func TestAdminRoomBroadcast(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	admin := r.client(st.ID)
	admin.Role = "admin"
	require.NoError(t, r.gw.Join(ctx, admin))
	r.hub.RegisterAdmin(admin)

	viewer := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, viewer))
	drain(admin)
	drain(viewer)

	r.hub.BroadcastToAdmins("metrics_update", map[string]int{"streams": 1})
	assert.Len(t, drain(admin)["metrics_update"], 1)
	assert.Empty(t, drain(viewer)["metrics_update"])

	// Unregister drops the admin subscription too.
	r.hub.Unregister(admin)
	r.hub.BroadcastToAdmins("metrics_update", map[string]int{"streams": 1})
	assert.Empty(t, drain(admin)["metrics_update"])
}

func TestPurchaseUpdatesSalesAndNotifiesRoom(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	buyer := r.client(st.ID)
	other := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, buyer))
	require.NoError(t, r.gw.Join(ctx, other))
	drain(buyer)
	drain(other)

	productID := uuid.New()
	in := PurchaseInput{ProductID: productID, ProductName: "hand cream", Quantity: 2, Amount: 59.90}
	require.NoError(t, r.gw.PurchaseMade(ctx, buyer, in))

	r.streams.mu.Lock()
	assert.InDelta(t, 59.90, r.streams.sales[st.ID], 0.001)
	r.streams.mu.Unlock()

	r.products.mu.Lock()
	assert.Equal(t, 1, r.products.orders[productID])
	assert.InDelta(t, 59.90, r.products.rev[productID], 0.001)
	r.products.mu.Unlock()

	assert.Len(t, drain(buyer)["new_purchase"], 1)
	assert.Len(t, drain(other)["new_purchase"], 1)
}

func TestPurchaseRejectedWhenNotLive(t *testing.T) {
	st := liveStream()
	st.Status = models.StatusScheduled
	r := newRig(st)
	ctx := context.Background()

	c := r.client(st.ID)
	require.NoError(t, r.gw.Join(ctx, c))

	err := r.gw.PurchaseMade(ctx, c, PurchaseInput{ProductID: uuid.New(), Amount: 10})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	r.streams.mu.Lock()
	assert.Zero(t, r.streams.sales[st.ID])
	r.streams.mu.Unlock()
}

func TestConcurrentJoinCountsConvergeOnRoomSize(t *testing.T) {
	st := liveStream()
	r := newRig(st)
	ctx := context.Background()

	const n = 8
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = r.client(st.ID)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			assert.NoError(t, r.gw.Join(ctx, c))
		}(c)
	}
	wg.Wait()

	require.Equal(t, n, r.hub.Count(st.ID))
	for _, c := range clients {
		assert.Equal(t, n, lastCount(t, c), "last delivered count equals the room size")
	}
}
