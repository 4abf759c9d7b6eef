package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/fgorczyca03/MathTutorApplication/internal/events"
	"github.com/fgorczyca03/MathTutorApplication/internal/models"
)

const (
	EventSnapshot = "snapshot"

	writeWait  = 10 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn queues frames for its own writer goroutine, so a slow watcher never blocks a publisher.
type conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	send chan []byte
	done bool

	// Until ready, events wait in backlog so the snapshot can go out first.
	ready   bool
	backlog [][]byte
}

// enqueue reports false when the watcher has fallen behind sendBuffer frames.
func (c *conn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return true
	}
	if !c.ready {
		if len(c.backlog) >= sendBuffer {
			return false
		}
		c.backlog = append(c.backlog, data)
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// start queues first ahead of the backlog and switches to direct delivery.
func (c *conn) start(first []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return true
	}
	if first != nil {
		c.send <- first
	}
	for _, data := range c.backlog {
		select {
		case c.send <- data:
		default:
			return false
		}
	}
	c.backlog = nil
	c.ready = true
	return true
}

func (c *conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.done = true
		close(c.send)
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for data := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("WebSocket write failed: %v", err)
			return
		}
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Hub streams session events to websocket watchers. Without Redis it is itself the store's
// publisher. With Redis it relays each session's pub/sub channel to local watchers, so a watcher
// may connect to an instance that does not hold the session.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*conn
	redisClient *redis.Client
	cancelFuncs map[uuid.UUID]context.CancelFunc
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*conn),
		redisClient: redisClient,
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Relays reports whether events arrive over Redis pub/sub.
func (h *Hub) Relays() bool {
	return h.redisClient != nil
}

// Serve upgrades the request and streams the session's events. When snapshot is non-nil its result
// is the first frame; it is taken after the watcher is registered, so no event is missed, though
// events already reflected in the snapshot may follow it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, snapshot func() models.Snapshot) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}
	go c.writePump()

	h.registerConnection(sessionID, c)

	var first []byte
	if snapshot != nil {
		if data, err := json.Marshal(models.WSMessage{Type: EventSnapshot, Payload: snapshot()}); err == nil {
			first = data
		}
	}
	if !c.start(first) {
		h.unregisterConnection(sessionID, c)
		return
	}

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(sessionID, c)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Publish delivers an event to this instance's watchers of the session.
func (h *Hub) Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast(sessionID, data)
}

// Watchers returns the number of open connections for a session.
func (h *Hub) Watchers(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}

func (h *Hub) registerConnection(sessionID uuid.UUID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], c)

	// Start pub/sub subscription if this is the first connection for this session
	if h.redisClient != nil && len(h.connections[sessionID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[sessionID] = cancel
		go h.subscribeToPubSub(ctx, sessionID)
	}

	log.Printf("WebSocket connected: session %s (total: %d)", sessionID, len(h.connections[sessionID]))
}

func (h *Hub) unregisterConnection(sessionID uuid.UUID, c *conn) {
	defer c.shutdown()

	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.connections[sessionID]
	found := false
	for i, existing := range conns {
		if existing == c {
			h.connections[sessionID] = append(conns[:i:i], conns[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}

	// If no more connections, cancel pub/sub
	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
		if cancel, ok := h.cancelFuncs[sessionID]; ok {
			cancel()
			delete(h.cancelFuncs, sessionID)
		}
	}

	log.Printf("WebSocket disconnected: session %s", sessionID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, sessionID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, events.Channel(sessionID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(sessionID uuid.UUID, data []byte) {
	h.mu.RLock()
	conns := append([]*conn(nil), h.connections[sessionID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.enqueue(data) {
			log.Printf("WebSocket watcher too slow, dropping: session %s", sessionID)
			h.unregisterConnection(sessionID, c)
		}
	}
}
