package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/talgya/townsfolk/internal/engine"
)

// Frame encodings a stream client can ask for with ?format=.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

const (
	sendBuffer = 16
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Hub fans presentation frames out to websocket clients. It implements
// engine.PresentationSink.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	frames  chan engine.Frame

	upgrader websocket.Upgrader
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	format string
}

// NewHub creates a hub. Call Run to start delivering frames.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		frames:  make(chan engine.Frame, 4),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Present queues a frame for delivery. Frames are dropped while the hub is behind.
func (h *Hub) Present(f engine.Frame) {
	if h.Clients() == 0 {
		return
	}
	select {
	case h.frames <- f:
	default:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run encodes queued frames and broadcasts them until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case f := <-h.frames:
			h.broadcast(f)
		}
	}
}

func (h *Hub) broadcast(f engine.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	encoded := make(map[string][]byte, 2)
	for c := range h.clients {
		data, ok := encoded[c.format]
		if !ok {
			var err error
			data, err = EncodeFrame(f, c.format)
			if err != nil {
				slog.Error("encode frame", "tick", f.Tick, "format", c.format, "error", err)
				return
			}
			encoded[c.format] = data
		}
		select {
		case c.send <- data:
		default:
			// Drop frame if the client is slow.
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// ServeWS upgrades the request and registers a stream client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatProto {
		http.Error(w, "format must be json or proto", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "error", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), format: format}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	slog.Info("stream client connected", "remote", clientIP(r), "format", format, "clients", total)

	go c.readPump()
	go c.writePump()
}

// readPump discards client messages and detects disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("stream read", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	messageType := websocket.TextMessage
	if c.format == FormatProto {
		messageType = websocket.BinaryMessage
	}
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(messageType, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// EncodeFrame renders a frame as JSON, or as a protobuf Struct for binary clients.
func EncodeFrame(f engine.Frame, format string) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	if format != FormatProto {
		return raw, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("frame struct: %w", err)
	}
	return proto.Marshal(st)
}
