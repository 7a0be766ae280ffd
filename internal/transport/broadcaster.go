package transport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iKryptonic/RBXStateMachine/internal/async"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// EntityUpdateMessage is the wire shape of the EntityUpdate broadcast
// channel: (entity_id, packet) where packet contains only schema
// fields flagged replicate=true.
type EntityUpdateMessage struct {
	Channel  string         `json:"channel"`
	EntityID string         `json:"entity_id,omitempty"`
	Packet   map[string]any `json:"packet,omitempty"`
}

// EntityCommandMessage is the wire shape of the client→server
// EntityCommand fire-and-forget channel.
type EntityCommandMessage struct {
	EntityID string `json:"entity_id"`
	Command  string `json:"command"`
	Args     []any  `json:"args"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const clientSendBuffer = 64

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub is a websocket-backed Broadcaster/CommandReceiver: one
// connection per client, broadcasting EntityUpdate packets to all of
// them and routing inbound EntityCommand frames to registered
// handlers. A full client send buffer drops the message rather than
// blocking the broadcaster, mirroring the "broadcasts are best-effort"
// failure semantics from §7.
type Hub struct {
	logger  logging.Logger
	metrics *hubMetrics

	mu      sync.RWMutex
	clients map[string]*wsClient

	handlersMu sync.RWMutex
	handlers   map[string]CommandHandler // key: entityID + "\x00" + command
}

// NewHub constructs an empty Hub. A nil registerer disables metrics.
func NewHub(logger logging.Logger, registerer prometheus.Registerer) *Hub {
	return &Hub{
		logger:   logging.OrNop(logger),
		metrics:  newHubMetrics(registerer),
		clients:  make(map[string]*wsClient),
		handlers: make(map[string]CommandHandler),
	}
}

// ServeWS upgrades r into a websocket connection registered under
// clientID and pumps EntityUpdate frames out / EntityCommand frames
// in until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &wsClient{id: clientID, conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[clientID] = c
	h.mu.Unlock()
	h.metrics.clientsConnected.Inc()

	async.Go(panicLogger{h.logger}, "hub.write."+clientID, func() { h.writePump(c) })
	async.Go(panicLogger{h.logger}, "hub.read."+clientID, func() { h.readPump(c) })
	return nil
}

func (h *Hub) readPump(c *wsClient) {
	defer h.disconnect(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg EntityCommandMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("hub: dropping malformed command frame from %q: %v", c.id, err)
			continue
		}
		h.dispatchCommand(msg)
	}
}

func (h *Hub) writePump(c *wsClient) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.disconnect(c)
			return
		}
	}
}

func (h *Hub) disconnect(c *wsClient) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	h.metrics.clientsConnected.Dec()
	_ = c.conn.Close()
}

// Broadcast sends msg to every connected client, tagged with channel.
// Implements transport.Broadcaster.
func (h *Hub) Broadcast(channel string, msg any) error {
	packet, _ := msg.(map[string]any)
	entityID, _ := packet["entity_id"].(string)
	var payload map[string]any
	if v, ok := packet["packet"].(map[string]any); ok {
		payload = v
	}

	data, err := json.Marshal(EntityUpdateMessage{Channel: channel, EntityID: entityID, Packet: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.metrics.droppedBroadcasts.WithLabelValues(channel).Inc()
			h.logger.Warn("hub: dropped broadcast on channel %q for client %q (buffer full)", channel, c.id)
		}
	}
	return nil
}

// RegisterCommandHandler implements transport.CommandReceiver.
func (h *Hub) RegisterCommandHandler(entityID, command string, handler CommandHandler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[entityID+"\x00"+command] = handler
}

func (h *Hub) dispatchCommand(msg EntityCommandMessage) {
	h.handlersMu.RLock()
	handler, ok := h.handlers[msg.EntityID+"\x00"+msg.Command]
	h.handlersMu.RUnlock()
	if !ok {
		h.logger.Warn("hub: no handler registered for command %q on entity %q", msg.Command, msg.EntityID)
		return
	}
	handler(msg.EntityID, msg.Args)
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type panicLogger struct{ l logging.Logger }

func (p panicLogger) Error(format string, args ...any) { p.l.Error(format, args...) }
