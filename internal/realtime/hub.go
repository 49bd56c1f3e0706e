package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains stream_id -> set of connections and broadcasts messages. The
// per-stream set is the authoritative current viewer count; persisted viewer
// sessions cover history. Uses Redis pub/sub for horizontal scaling: local
// broadcast + publish to Redis. With multiple instances the in-memory counts
// are per-instance and can diverge; a known scaling limit.
type Hub struct {
	// streamID -> map[clientID]*Client
	streams  map[uuid.UUID]map[string]*Client
	admins   map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per stream
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishStreamEvent(streamID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to stream channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeStream(streamID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		streams:  make(map[uuid.UUID]map[string]*Client),
		admins:   make(map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a stream room and returns the room size with the
// client included. Starts the Redis subscription for the stream on first join.
func (h *Hub) Register(c *Client) int {
	h.mu.Lock()
	if h.streams[c.StreamID] == nil {
		h.streams[c.StreamID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeStream(c.StreamID, func(event string, payload []byte) {
				h.BroadcastToStream(c.StreamID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.StreamID] = cancel
			}
		}
	}
	h.streams[c.StreamID][c.ID] = c
	count := len(h.streams[c.StreamID])
	h.mu.Unlock()

	h.logger.Debug("client joined stream", zap.String("client_id", c.ID), zap.String("stream_id", c.StreamID.String()))
	return count
}

// Unregister removes a client from its stream room and the admin set, and
// returns the remaining room size. Cancels the Redis subscription when the
// last client leaves. Safe to call more than once for the same client.
func (h *Hub) Unregister(c *Client) int {
	h.mu.Lock()
	var count int
	if m, ok := h.streams[c.StreamID]; ok {
		delete(m, c.ID)
		count = len(m)
		if count == 0 {
			delete(h.streams, c.StreamID)
			if cancel, ok := h.subs[c.StreamID]; ok {
				cancel()
				delete(h.subs, c.StreamID)
			}
		}
	}
	delete(h.admins, c.ID)
	h.mu.Unlock()

	h.logger.Debug("client left stream", zap.String("client_id", c.ID), zap.String("stream_id", c.StreamID.String()))
	return count
}

// RegisterAdmin adds a client to the admin dashboard audience.
func (h *Hub) RegisterAdmin(c *Client) {
	h.mu.Lock()
	h.admins[c.ID] = c
	h.mu.Unlock()
}

// BroadcastToStream sends a message to all clients in a stream room (local only).
func (h *Hub) BroadcastToStream(streamID uuid.UUID, event string, payload interface{}) {
	msg, ok := envelope(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	clients := h.streams[streamID]
	targets := make([]*Client, 0, len(clients))
	for _, c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastAndPublish sends to local clients and publishes to Redis for other instances.
func (h *Hub) BroadcastAndPublish(streamID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.BroadcastToStream(streamID, event, payload)
	if h.redis != nil {
		_ = h.redis.PublishStreamEvent(streamID, event, data)
	}
}

// PublishOnly publishes to Redis only (no local broadcast). Used for chat so
// the Redis subscriber callback performs the broadcast once for all instances
// (including this one), avoiding duplicate delivery to local clients.
func (h *Hub) PublishOnly(streamID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		_ = h.redis.PublishStreamEvent(streamID, event, data)
		return
	}
	h.BroadcastToStream(streamID, event, payload)
}

// BroadcastViewerCount sends the room's current size to every member and
// returns it. The size is read and fanned out under one lock, so the value
// delivered always equals the set size at broadcast time: a racing join or
// leave is ordered entirely before or after, and its own broadcast carries
// the newer size. Counts stay local to the instance (see the scaling note on
// Hub), so nothing is published to Redis here.
func (h *Hub) BroadcastViewerCount(streamID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.streams[streamID]
	count := len(clients)
	msg, ok := envelope("viewer_count", map[string]interface{}{
		"stream_id": streamID,
		"count":     count,
	})
	if !ok {
		return count
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
		}
	}
	return count
}

// BroadcastToAdmins sends a message to every admin dashboard connection.
func (h *Hub) BroadcastToAdmins(event string, payload interface{}) {
	msg, ok := envelope(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.admins))
	for _, c := range h.admins {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Count returns the number of connected clients in a stream room.
func (h *Hub) Count(streamID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[streamID])
}

// LiveRooms returns the ids of all rooms with at least one connection.
func (h *Hub) LiveRooms() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(h.streams))
	for id := range h.streams {
		ids = append(ids, id)
	}
	return ids
}

// SendToClient sends a message to a single client in a stream (snapshot unicast).
func (h *Hub) SendToClient(streamID uuid.UUID, clientID string, event string, payload interface{}) {
	msg, ok := envelope(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c := h.streams[streamID][clientID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// BroadcastStatus pushes a lifecycle change to the room so clients detach on
// their own once the stream ends.
func (h *Hub) BroadcastStatus(streamID uuid.UUID, status models.StreamStatus) {
	h.BroadcastAndPublish(streamID, "stream_status", map[string]interface{}{
		"stream_id": streamID,
		"status":    status,
	})
}

func envelope(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}
