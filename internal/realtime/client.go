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

	"github.com/fairway-meetups/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SnapshotSource loads the current booking for connect and refresh.
type SnapshotSource interface {
	Get(ctx context.Context, id string) (*models.Booking, error)
}

// TokenValidator returns the caller id for a token.
type TokenValidator func(token string) (userID string, err error)

// Client is one websocket watching one booking. The feed is read-only: the only
// client message understood is "refresh".
type Client struct {
	ID        string
	BookingID string
	UserID    string
	hub       *Hub
	source    SnapshotSource
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles GET /ws?booking_id=&token=.
func ServeWs(hub *Hub, source SnapshotSource, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		bookingID := c.Query("booking_id")
		token := c.Query("token")
		if bookingID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "booking_id and token required", "code": "invalid_input"})
			return
		}
		userID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token", "code": "unauthorized"})
			return
		}
		snapshot, err := source.Get(c.Request.Context(), bookingID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "booking not found", "code": "not_found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:        uuid.New().String(),
			BookingID: bookingID,
			UserID:    userID,
			hub:       hub,
			source:    source,
			conn:      conn,
			send:      make(chan WSMessage, sendBuffer),
			logger:    logger,
		}
		hub.Register(client)
		client.enqueue(EventBookingSnapshot, snapshot)
		go client.writePump()
		client.readPump()
	}
}

// enqueue is only called from the client's own read goroutine, before
// Unregister closes send.
func (c *Client) enqueue(event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if msg.Event != "refresh" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		b, err := c.source.Get(ctx, c.BookingID)
		cancel()
		if err != nil {
			c.logger.Warn("refresh failed", zap.String("booking_id", c.BookingID), zap.Error(err))
			c.enqueue(EventError, map[string]string{"error": "refresh failed"})
			continue
		}
		c.enqueue(EventBookingSnapshot, b)
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
