// Package websocket pushes the event stream to browser clients. The Hub
// subscribes to the broadcaster and relays every event as one JSON frame;
// clients that stop draining their buffer are dropped.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientBuffer   = 256
	maxMessageSize = 4096
)

var connectedClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "laninsight",
		Subsystem: "websocket",
		Name:      "connected_clients",
		Help:      "Number of connected WebSocket clients.",
	},
)

func init() {
	prometheus.MustRegister(connectedClients)
}

// The collector serves a LAN dashboard; cross-origin browsers on the same
// network are expected.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotFunc produces the state payload sent to a client on connect and on
// request_state.
type SnapshotFunc func() any

// Client is one connected browser.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub relays broadcaster events to WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	bus      *events.Broadcaster
	snapshot SnapshotFunc

	log zerolog.Logger
}

// NewHub wires a hub to the event bus. snapshot may be nil, in which case
// clients get no initial state frame.
func NewHub(bus *events.Broadcaster, snapshot SnapshotFunc) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		bus:        bus,
		snapshot:   snapshot,
		log:        logging.Component("websocket"),
	}
}

// Run pumps bus events to the clients until ctx is cancelled. Call it in its
// own goroutine.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe(clientBuffer)
	defer h.bus.Unsubscribe(sub)
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(count))
			h.log.Info().Str("client", client.id).Int("clients", count).Msg("Client connected")
			h.greet(client)

		case client := <-h.unregister:
			h.drop(client)

		case ev, ok := <-sub.Events():
			if !ok {
				h.log.Warn().Msg("Event bus closed, shutting down hub")
				h.closeAll()
				return
			}
			h.relay(ev)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// greet sends the welcome frame and the current state snapshot to a client
// that just connected.
func (h *Hub) greet(client *Client) {
	welcome := events.Event{
		Type:      "welcome",
		Data:      map[string]string{"message": "Connected to LAN Insight"},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	client.enqueue(mustMarshal(welcome))

	if h.snapshot == nil {
		return
	}
	initial := events.Event{
		Type:      "initial_state",
		Data:      h.snapshot(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(initial)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal initial state")
		return
	}
	client.enqueue(data)
}

// relay fans one event out to every client, evicting the ones whose buffers
// are full.
func (h *Hub) relay(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.enqueue(data) {
			h.log.Warn().Str("client", client.id).Msg("Client too slow, dropping")
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	close(client.send)
	connectedClients.Set(float64(count))
	h.log.Info().Str("client", client.id).Int("clients", count).Msg("Client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
	}
	connectedClients.Set(0)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an HTTP request and starts the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
		id:   fmt.Sprintf("client-%d", time.Now().UnixNano()),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// enqueue offers a frame to the client without blocking. False means the
// buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump consumes client frames. The only requests a client may make are
// ping and request_state; everything else is ignored.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Str("client", c.id).Msg("Read error")
			}
			return
		}

		var msg events.Event
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.log.Debug().Err(err).Str("client", c.id).Msg("Discarding malformed frame")
			continue
		}

		switch msg.Type {
		case "ping":
			pong := events.Event{
				Type:      "pong",
				Data:      map[string]int64{"timestamp": time.Now().Unix()},
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			}
			c.enqueue(mustMarshal(pong))
		case "request_state":
			if c.hub.snapshot == nil {
				continue
			}
			state := events.Event{
				Type:      "initial_state",
				Data:      c.hub.snapshot(),
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			}
			if data, err := json.Marshal(state); err == nil {
				c.enqueue(data)
			}
		default:
			c.hub.log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Ignoring frame")
		}
	}
}

// writePump drains the send buffer to the connection and keeps the link
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// Flush whatever queued behind this frame.
			for i := len(c.send); i > 0; i-- {
				select {
				case queued := <-c.send:
					if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
						return
					}
				default:
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustMarshal(ev events.Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	return data
}
