package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection in a stream room.
type Client struct {
	ID          string
	StreamID    uuid.UUID
	Identity    models.Identity
	Username    string
	Role        string
	IP          string
	UserAgent   string
	canModerate bool

	hub     *Hub
	gateway *Gateway
	conn    *websocket.Conn
	send    chan WSMessage
	logger  *zap.Logger
}

// CanModerate reports whether this connection may issue moderation events.
// Set during the join flow, before the read loop starts.
func (c *Client) CanModerate() bool { return c.canModerate }

// ServeWs handles the WebSocket upgrade and runs the client loop. Identity
// comes from either a JWT (query param token) or an anonymous browser session
// id (query param session_id); one of the two is required.
func ServeWs(hub *Hub, gateway *Gateway, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	return func(gc *gin.Context) {
		streamIDStr := gc.Query("stream_id")
		token := gc.Query("token")
		sessionID := gc.Query("session_id")
		username := gc.Query("username")

		if streamIDStr == "" {
			gc.JSON(http.StatusBadRequest, gin.H{"error": "stream_id required"})
			return
		}
		streamID, err := uuid.Parse(streamIDStr)
		if err != nil {
			gc.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream_id"})
			return
		}

		var identity models.Identity
		role := ""
		switch {
		case token != "":
			userIDStr, tokenRole, err := jwtValidate(token)
			if err != nil {
				gc.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			userID, err := uuid.Parse(userIDStr)
			if err != nil {
				gc.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
				return
			}
			identity.UserID = &userID
			role = tokenRole
		case sessionID != "":
			identity.SessionID = &sessionID
		default:
			gc.JSON(http.StatusBadRequest, gin.H{"error": "token or session_id required"})
			return
		}
		if username == "" {
			username = "viewer"
		}

		conn, err := upgrader.Upgrade(gc.Writer, gc.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			StreamID:  streamID,
			Identity:  identity,
			Username:  username,
			Role:      role,
			IP:        gc.ClientIP(),
			UserAgent: gc.Request.UserAgent(),
			hub:       hub,
			gateway:   gateway,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}

		ctx, cancel := context.WithTimeout(gc.Request.Context(), 10*time.Second)
		err = gateway.Join(ctx, client)
		cancel()
		if err != nil {
			logger.Warn("join rejected", zap.Error(err), zap.String("stream_id", streamID.String()))
			_ = conn.WriteJSON(WSMessage{Event: "error", Data: mustJSON(gin.H{"message": err.Error()})})
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c.gateway.Leave(ctx, c)
		cancel()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if msg.Event == "leave" {
			break
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch msg.Event {
	case "message":
		var payload struct {
			Text string `json:"text"`
		}
		if err = json.Unmarshal(msg.Data, &payload); err == nil {
			err = c.gateway.SendMessage(ctx, c, payload.Text)
		}
	case "reaction":
		var payload struct {
			Type models.ReactionType `json:"type"`
		}
		if err = json.Unmarshal(msg.Data, &payload); err == nil {
			err = c.gateway.SendReaction(ctx, c, payload.Type)
		}
	case "purchase":
		var payload PurchaseInput
		if err = json.Unmarshal(msg.Data, &payload); err == nil {
			err = c.gateway.PurchaseMade(ctx, c, payload)
		}
	case "ban_user":
		var payload struct {
			Identity models.Identity `json:"identity"`
			Reason   string          `json:"reason"`
		}
		if err = json.Unmarshal(msg.Data, &payload); err == nil {
			err = c.gateway.BanUser(ctx, c, payload.Identity, payload.Reason)
		}
	case "timeout_user":
		var payload struct {
			Identity models.Identity `json:"identity"`
			Minutes  int             `json:"minutes"`
		}
		if err = json.Unmarshal(msg.Data, &payload); err == nil {
			if payload.Minutes <= 0 {
				payload.Minutes = 5
			}
			err = c.gateway.TimeoutUser(ctx, c, payload.Identity, time.Duration(payload.Minutes)*time.Minute)
		}
	case "delete_message":
		var payload struct {
			MessageID uuid.UUID `json:"message_id"`
		}
		if err = json.Unmarshal(msg.Data, &payload); err == nil {
			err = c.gateway.DeleteMessage(ctx, c, payload.MessageID)
		}
	case "admin_subscribe":
		if c.Role == "admin" {
			c.hub.RegisterAdmin(c)
		}
	default:
		// ignore
	}

	if err != nil {
		c.sendError(msg.Event, err)
	}
}

func (c *Client) sendError(event string, err error) {
	payload := mustJSON(gin.H{"event": event, "message": err.Error()})
	select {
	case c.send <- WSMessage{Event: "error", Data: payload}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
