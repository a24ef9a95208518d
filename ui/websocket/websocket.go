package websocket

import (
	"context"
	"encoding/json"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// Bus fans broadcasts out to the other replicas. It is satisfied by the
// valkey client.
type Bus interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string, fn func(payload string)) error
}

type BroadcastMessage struct {
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Result   domain.TicketEvent `json:"result"`
	SenderID string             `json:"sender_id,omitempty"`
}

const broadcastBuffer = 256

// Hub keeps the live websocket listeners of this replica and relays ticket
// events to them.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan BroadcastMessage
	remote     chan BroadcastMessage

	bus     Bus
	channel string
	localID string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub builds a hub. bus may be nil for a single replica.
func NewHub(bus Bus, channel, serverID string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan BroadcastMessage, broadcastBuffer),
		remote:     make(chan BroadcastMessage, broadcastBuffer),
		bus:        bus,
		channel:    channel,
		localID:    serverID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish implements domain.EventPublisher. It never blocks the caller: when
// the hub is saturated the event is dropped.
func (h *Hub) Publish(_ context.Context, ev domain.TicketEvent) error {
	msg := BroadcastMessage{Code: ev.Type, Message: "Ticket updated", Result: ev}
	select {
	case h.broadcast <- msg:
	default:
		logrus.WithField("ticket_id", ev.TicketID).Warn("[WS] Broadcast buffer full, dropping event")
	}
	return nil
}

func (h *Hub) broadcastToLocal(message BroadcastMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logrus.Errorf("[WS] Write error: %v", err)
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) publishToBus(message BroadcastMessage) {
	if h.bus == nil {
		return
	}
	message.SenderID = h.localID
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	if err := h.bus.Publish(h.ctx, h.channel, string(data)); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func (h *Hub) startSubscriber() {
	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for distributed events")
	go func() {
		err := h.bus.Subscribe(h.ctx, h.channel, func(payload string) {
			var msg BroadcastMessage
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				return
			}
			// our own publishes come back through the bus
			if msg.SenderID == h.localID {
				return
			}
			select {
			case h.remote <- msg:
			default:
			}
		})
		if err != nil && h.ctx.Err() == nil {
			logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
		}
	}()
}

// Run serves the hub until Stop is called.
func (h *Hub) Run() {
	if h.bus != nil {
		h.startSubscriber()
	}
	for {
		select {
		case <-h.ctx.Done():
			for conn := range h.clients {
				_ = conn.Close()
				delete(h.clients, conn)
			}
			return
		case conn := <-h.register:
			h.clients[conn] = struct{}{}
			logrus.Debug("[WS] Connection registered")
		case conn := <-h.unregister:
			delete(h.clients, conn)
			logrus.Debug("[WS] Connection unregistered")
		case message := <-h.broadcast:
			h.broadcastToLocal(message)
			h.publishToBus(message)
		case message := <-h.remote:
			h.broadcastToLocal(message)
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

// RegisterRoutes mounts GET /ws. Listeners only receive; inbound frames are
// read to detect disconnects and otherwise ignored.
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		select {
		case h.register <- conn:
		case <-h.ctx.Done():
			return
		}
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.ctx.Done():
			}
			_ = conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Debugf("[WS] read error: %v", err)
				}
				return
			}
		}
	}))
}
