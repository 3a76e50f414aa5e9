package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/fairway-meetups/backend/internal/models"
)

const (
	// EventBookingUpdated carries a committed booking snapshot.
	EventBookingUpdated = "booking_updated"
	// EventBookingSnapshot answers a client's connect or refresh.
	EventBookingSnapshot = "booking_snapshot"
	// EventError reports a failed refresh to one client.
	EventError = "error"

	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	sendBuffer = 32
)

// Publisher fans events out to other instances.
type Publisher interface {
	PublishBookingEvent(ctx context.Context, bookingID, event string, payload []byte) error
}

// Subscriber delivers events published by any instance for one booking.
type Subscriber interface {
	SubscribeBooking(bookingID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains booking_id -> set of connections. With Redis configured every
// event goes through pub/sub and reaches local clients from the subscription;
// without it events are broadcast locally.
type Hub struct {
	rooms  map[string]map[string]*Client
	subs   map[string]func()
	mu     sync.RWMutex
	pub    Publisher
	sub    Subscriber
	logger *zap.Logger
}

// NewHub creates a hub. pub and sub may both be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		pub:    pub,
		sub:    sub,
		logger: logger,
	}
}

// Register adds a client to its booking room, subscribing to the booking's
// channel on the first client. The subscribe round trip runs without the hub
// lock held.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room := h.rooms[c.BookingID]
	first := room == nil
	if first {
		room = make(map[string]*Client)
		h.rooms[c.BookingID] = room
	}
	room[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client watching booking", zap.String("client_id", c.ID), zap.String("booking_id", c.BookingID))

	if first && h.sub != nil {
		h.subscribe(c.BookingID)
	}
}

func (h *Hub) subscribe(bookingID string) {
	cancel, err := h.sub.SubscribeBooking(bookingID, func(event string, payload []byte) {
		h.Broadcast(bookingID, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("booking subscribe failed", zap.String("booking_id", bookingID), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// The room may have emptied, or been recreated with its own subscription,
	// while the round trip was in flight.
	if _, watched := h.rooms[bookingID]; !watched {
		cancel()
		return
	}
	if _, dup := h.subs[bookingID]; dup {
		cancel()
		return
	}
	h.subs[bookingID] = cancel
}

// Unregister removes a client and drops the subscription with the last one.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.BookingID]
	if !ok {
		return
	}
	if _, ok := room[c.ID]; !ok {
		return
	}
	delete(room, c.ID)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.BookingID)
		if cancel, ok := h.subs[c.BookingID]; ok {
			cancel()
			delete(h.subs, c.BookingID)
		}
	}
	h.logger.Debug("client left booking", zap.String("client_id", c.ID), zap.String("booking_id", c.BookingID))
}

// Broadcast sends an event to local clients of a booking. Slow clients miss it;
// they can ask for a refresh.
func (h *Hub) Broadcast(bookingID, event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Warn("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[bookingID] {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// PublishBooking pushes a committed snapshot to everyone watching the booking.
func (h *Hub) PublishBooking(ctx context.Context, b *models.Booking) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if h.pub != nil {
		return h.pub.PublishBookingEvent(ctx, b.ID, EventBookingUpdated, data)
	}
	h.Broadcast(b.ID, EventBookingUpdated, json.RawMessage(data))
	return nil
}

// Watchers returns the number of local clients watching a booking.
func (h *Hub) Watchers(bookingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[bookingID])
}

func newMessage(event string, payload interface{}) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, err
		}
	}
	return WSMessage{Event: event, Data: data}, nil
}
