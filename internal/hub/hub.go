// Package hub provides the server side of the push channel: a WebSocket
// pub/sub hub that greets each client, answers its "ping" probes, and fans out
// broadcast events to everyone connected.
package hub

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/livefeed/internal/metrics"
	"github.com/large-farva/livefeed/internal/telemetry"
)

const (
	writeWait    = 3 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second
)

type reply struct {
	conn *websocket.Conn
	msg  []byte
}

// Hub manages WebSocket client connections and fans out broadcast messages
// to all of them. It is safe for concurrent use; register, unregister, reply,
// and broadcast all go through channels, and only Run writes to a connection.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	reply      chan reply
	broadcast  chan []byte
	upgrader   websocket.Upgrader

	log   *log.Logger
	count atomic.Int64
	done  chan struct{}
}

// New allocates a hub with buffered channels. Call Run in a goroutine to
// start the event loop. A nil logger discards output.
func New(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		reply:      make(chan reply, 64),
		broadcast:  make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:  logger,
		done: make(chan struct{}),
	}
}

// Clients returns the number of registered connections.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Run processes registrations, replies, broadcasts, and keepalive pings in a
// single select loop. It closes all clients when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	greeting, _ := telemetry.Encode(telemetry.EventConnected, map[string]any{
		"message": "Connected to live feed",
	})

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(time.Second))
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			metrics.HubClients.Set(float64(len(h.clients)))
			h.write(c, websocket.TextMessage, greeting)

		case c := <-h.unregister:
			h.drop(c)

		case r := <-h.reply:
			if _, ok := h.clients[r.conn]; ok {
				h.write(r.conn, websocket.TextMessage, r.msg)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				h.write(c, websocket.TextMessage, msg)
			}

		case <-ping.C:
			for c := range h.clients {
				h.write(c, websocket.PingMessage, nil)
			}
		}
	}
}

func (h *Hub) write(c *websocket.Conn, kind int, msg []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(kind, msg); err != nil {
		h.log.Printf("hub: write to %s failed: %v", c.RemoteAddr(), err)
		h.drop(c)
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	_ = c.Close()
	h.count.Store(int64(len(h.clients)))
	metrics.HubClients.Set(float64(len(h.clients)))
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub. A text frame
// reading "ping" is answered with a pong event; anything else is ignored.
func (h *Hub) Handler() http.Handler {
	pong, _ := telemetry.Encode(telemetry.EventPong, nil)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case h.register <- conn:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go func() {
			defer func() {
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
			}()
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})

			for {
				kind, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				_ = conn.SetReadDeadline(time.Now().Add(pongWait))
				if kind != websocket.TextMessage || string(msg) != telemetry.Ping {
					continue
				}
				select {
				case h.reply <- reply{conn: conn, msg: pong}:
				case <-h.done:
					return
				}
			}
		}()
	})
}

// Broadcast encodes an event and queues it for delivery to all connected
// clients. If the broadcast channel is full the event is dropped rather than
// blocking the caller.
func (h *Hub) Broadcast(eventType string, data map[string]any) {
	b, err := telemetry.Encode(eventType, data)
	if err != nil {
		h.log.Printf("hub: encode %s: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- b:
		metrics.HubBroadcasts.WithLabelValues(eventType, "queued").Inc()
	default:
		metrics.HubBroadcasts.WithLabelValues(eventType, "dropped").Inc()
	}
}
