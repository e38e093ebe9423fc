package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/hwsim/internal/infrastructure/config"
	"github.com/nerrad567/hwsim/internal/infrastructure/logging"
	"github.com/nerrad567/hwsim/internal/transport"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 64

	// IdentityHeader carries the accepted identity on the upgrade response.
	IdentityHeader = "X-Hwsim-Identity"

	maxIdentitySize = 255
)

// ErrSlowClient is returned when a client's send buffer is full.
var ErrSlowClient = errors.New("api: websocket client send buffer full")

// Hub tracks WebSocket clients by identity. Each text or binary message a
// client sends is queued as one request; Send routes replies back.
type Hub struct {
	ctx     context.Context
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	queue   chan<- transport.Inbound
	clients map[string]*WSClient
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	identity string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte

	// msgType is the frame type of the client's last message; replies use it.
	msgType atomic.Int32
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a hub that delivers requests to queue until ctx ends.
func NewHub(ctx context.Context, cfg config.WebSocketConfig, logger *logging.Logger, queue chan<- transport.Inbound) *Hub {
	return &Hub{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		queue:   queue,
		clients: make(map[string]*WSClient),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client, refusing an identity that is already connected.
func (h *Hub) Register(client *WSClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, dup := h.clients[client.identity]; dup {
		return fmt.Errorf("%w: %s", transport.ErrDuplicateIdentity, client.identity)
	}
	h.clients[client.identity] = client
	h.logger.Debug("websocket client connected", "identity", client.identity, "clients", len(h.clients))
	return nil
}

// Unregister removes a client.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	existing, ok := h.clients[client.identity]
	if ok && existing == client {
		delete(h.clients, client.identity)
	}
	h.mu.Unlock()

	if ok && existing == client {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "identity", client.identity)
	}
}

// Connected reports whether identity has a live connection.
func (h *Hub) Connected(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[identity]
	return ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues the last frame for the client named by frames[0].
func (h *Hub) Send(frames [][]byte) error {
	if len(frames) < 2 || len(frames[0]) == 0 {
		return transport.ErrEmptyReply
	}
	identity := string(frames[0])

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[identity]
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownClient, identity)
	}
	// The read lock keeps Unregister from closing send underneath us.
	select {
	case client.send <- frames[len(frames)-1]:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSlowClient, identity)
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for identity, client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, identity)
	}
}

// handleWebSocket upgrades the connection. The client identity comes from
// the identity query parameter or is assigned; it is echoed in the
// X-Hwsim-Identity response header.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = uuid.NewString()
	}
	if len(identity) > maxIdentitySize {
		writeBadRequest(w, "identity is too long")
		return
	}
	if s.hub.Connected(identity) {
		writeError(w, http.StatusConflict, ErrCodeConflict, "identity already connected")
		return
	}

	conn, err := upgrader.Upgrade(w, r, http.Header{IdentityHeader: []string{identity}})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		identity: identity,
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
	}
	client.msgType.Store(websocket.TextMessage)

	if err := s.hub.Register(client); err != nil {
		// Lost a race with another connection for the same identity.
		//nolint:errcheck // best-effort close frame
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "identity already connected"))
		conn.Close()
		return
	}

	go client.writePump(s.cfg)
	go client.readPump(s.cfg)
}

// readPump queues each message as [identity][payload].
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	wait := readWait(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "identity", c.identity, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "identity", c.identity, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))

		c.msgType.Store(int32(msgType))
		frames := [][]byte{[]byte(c.identity), data}
		if !transport.Deliver(c.hub.ctx, c.hub.queue, frames, c.hub) {
			return
		}
	}
}

// writePump writes replies and keep-alive pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(pingInterval(cfg))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(int(c.msgType.Load()), data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func pingInterval(cfg config.WebSocketConfig) time.Duration {
	if cfg.PingInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.PingInterval) * time.Second
}

func readWait(cfg config.WebSocketConfig) time.Duration {
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return pingInterval(cfg) + pong
}
