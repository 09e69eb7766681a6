package marketplace

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/metrics"
)

// Redis channel carrying events between API instances
const eventsChannel = "marketplace:events"

// Connection is one websocket client
type Connection struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// hubMessage is what travels over Redis. An empty UserID means everyone.
type hubMessage struct {
	UserID           string          `json:"user_id,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	SenderInstanceID string          `json:"sender_instance_id"`
}

// Hub fans marketplace events out to websocket clients, across instances
// when Redis is configured
type Hub struct {
	connections map[string]map[*Connection]bool

	redis  *redis.Client
	pubsub *redis.PubSub

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
}

// NewHub creates the hub. redisClient may be nil for a single instance.
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		connections: make(map[string]map[*Connection]bool),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  uuid.NewString(),
	}
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, eventsChannel)
	}
	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.UserID] == nil {
				h.connections[conn.UserID] = make(map[*Connection]bool)
			}
			h.connections[conn.UserID][conn] = true
			h.mu.Unlock()
			metrics.WSConnections.Inc()
			log.Debug().Str("user_id", conn.UserID).Msg("Marketplace websocket connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.UserID]; ok {
				if conns[conn] {
					delete(conns, conn)
					close(conn.Send)
					metrics.WSConnections.Dec()
				}
				if len(conns) == 0 {
					delete(h.connections, conn.UserID)
				}
			}
			h.mu.Unlock()
			log.Debug().Str("user_id", conn.UserID).Msg("Marketplace websocket disconnected")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m hubMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				continue
			}
			if m.SenderInstanceID == h.instanceID {
				continue
			}
			h.deliverLocal(m.UserID, m.Payload)
		}
	}
}

// Register adds a connection. It reports false once the hub is shut down.
func (h *Hub) Register(conn *Connection) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.register <- conn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a connection; a no-op after Shutdown
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// Broadcast pushes an event to every connected client
func (h *Hub) Broadcast(event *Event) {
	h.send("", event)
}

// SendToUser pushes an event to all connections of one user
func (h *Hub) SendToUser(userID string, event *Event) {
	h.send(userID, event)
}

func (h *Hub) send(userID string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal marketplace event")
		return
	}
	h.deliverLocal(userID, data)

	if h.redis == nil {
		return
	}
	msg, err := json.Marshal(hubMessage{UserID: userID, Payload: data, SenderInstanceID: h.instanceID})
	if err != nil {
		return
	}
	if err := h.redis.Publish(h.ctx, eventsChannel, msg).Err(); err != nil {
		log.Error().Err(err).Str("channel", eventsChannel).Msg("Redis publish failed")
	}
}

func (h *Hub) deliverLocal(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	push := func(conns map[*Connection]bool) {
		for conn := range conns {
			select {
			case conn.Send <- data:
				metrics.WSEvents.WithLabelValues("sent").Inc()
			default:
				// buffer full
				metrics.WSEvents.WithLabelValues("dropped").Inc()
			}
		}
	}

	if userID != "" {
		push(h.connections[userID])
		return
	}
	for _, conns := range h.connections {
		push(conns)
	}
}

// ConnectionCount returns number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// Shutdown gracefully shuts down the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
