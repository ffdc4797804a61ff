package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeQuery  = "query"
	WSTypeCancel = "cancel"
	WSTypePing   = "ping"
	WSTypePong   = "pong"
	WSTypeTable  = "table"
	WSTypeRecord = "record"
	WSTypeDone   = "done"
	WSTypeError  = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wsOutbound is the server side of WSMessage with a typed payload.
type wsOutbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// WSQueryPayload is the payload of a query message.
type WSQueryPayload struct {
	Query string `json:"query"`
}

// WSTable announces a table before its records.
type WSTable struct {
	Index   int           `json:"index"`
	ID      int           `json:"id"`
	Block   int           `json:"block"`
	Columns []flux.Column `json:"columns"`
}

// WSRecord carries one record of a streamed query.
type WSRecord struct {
	Table  int          `json:"table"`
	Values *flux.Record `json:"values"`
}

// WSDone closes a streamed query.
type WSDone struct {
	Tables  int `json:"tables"`
	Records int `json:"records"`
}

// WSError reports a failed message or query.
type WSError struct {
	Message   string `json:"message"`
	Reference int    `json:"reference,omitempty"`
}

// errClientGone is returned to the parser when the client disconnects
// mid-stream.
var errClientGone = errors.New("api: websocket client disconnected")

// Hub tracks WebSocket connections so they can be closed on shutdown.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
	querier Querier

	mu      sync.Mutex
	queries map[string]context.CancelFunc
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and stops its queries.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the HTTP connection to a query stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// The request context ends when the handler returns, so streams hang
	// off the server context instead.
	ctx, cancel := context.WithCancel(s.streamContext())
	client := newWSClient(ctx, cancel, s.hub, conn, s.query)
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func newWSClient(ctx context.Context, cancel context.CancelFunc, hub *Hub, conn *websocket.Conn, q Querier) *WSClient {
	return &WSClient{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		querier: q,
		queries: make(map[string]context.CancelFunc),
	}
}

// shutdown cancels running queries and stops the write pump.
func (c *WSClient) shutdown() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// wsTimings returns the ping interval and pong timeout, falling back to
// 30s and 10s when the configuration leaves them unset.
func wsTimings(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongWait = time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = 10 * time.Second
	}
	return pingInterval, pongWait
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := wsTimings(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			//nolint:errcheck // Best-effort close message
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message", 0)
		return
	}

	switch msg.Type {
	case WSTypeQuery:
		c.handleQuery(msg)
	case WSTypeCancel:
		c.cancelQuery(msg.ID)
	case WSTypePing:
		c.trySend(c.encode(WSTypePong, msg.ID, nil))
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type, 0)
	}
}

// handleQuery starts streaming a query. Each query runs in its own
// goroutine; a second query with a running ID is rejected.
func (c *WSClient) handleQuery(msg WSMessage) {
	var p WSQueryPayload
	if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil {
		c.sendError(msg.ID, "invalid query payload", 0)
		return
	}
	if strings.TrimSpace(p.Query) == "" {
		c.sendError(msg.ID, "query is required", 0)
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	if _, running := c.queries[msg.ID]; running {
		c.mu.Unlock()
		cancel()
		c.sendError(msg.ID, "query id already running", 0)
		return
	}
	c.queries[msg.ID] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.queries, msg.ID)
			c.mu.Unlock()
			cancel()
		}()
		c.streamQuery(ctx, msg.ID, p.Query)
	}()
}

// streamQuery forwards tables and records as they are decoded. Sends block
// so a slow client slows the parser instead of losing records.
func (c *WSClient) streamQuery(ctx context.Context, id, q string) {
	var done WSDone
	err := c.querier.QueryStream(ctx, q, flux.ConsumerFuncs{
		Table: func(_ int, _ *flux.Canceller, t *flux.Table) error {
			done.Tables++
			return c.sendBlocking(ctx, c.encode(WSTypeTable, id, WSTable{
				Index:   t.Index,
				ID:      t.ID,
				Block:   t.Block,
				Columns: t.Columns,
			}))
		},
		Record: func(index int, _ *flux.Canceller, rec *flux.Record) error {
			done.Records++
			return c.sendBlocking(ctx, c.encode(WSTypeRecord, id, WSRecord{Table: index, Values: rec}))
		},
	})

	switch {
	case err == nil:
		//nolint:errcheck // fails only when the client is gone
		c.sendBlocking(c.ctx, c.encode(WSTypeDone, id, done))
	case errors.Is(err, errClientGone):
	case errors.Is(err, context.Canceled):
		c.sendError(id, "query cancelled", 0)
	default:
		var qe *flux.QueryError
		if errors.As(err, &qe) {
			c.sendError(id, qe.Message, qe.Reference)
			return
		}
		c.sendError(id, err.Error(), 0)
	}
}

// cancelQuery stops a running query. Unknown IDs are ignored.
func (c *WSClient) cancelQuery(id string) {
	c.mu.Lock()
	cancel, ok := c.queries[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *WSClient) encode(msgType, id string, payload any) []byte {
	data, err := json.Marshal(wsOutbound{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket message", "type", msgType, "error", err)
		return nil
	}
	return data
}

// trySend queues data without blocking. Messages to a full or closed
// client are dropped.
func (c *WSClient) trySend(data []byte) {
	if data == nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

// sendBlocking queues data, waiting for buffer space.
func (c *WSClient) sendBlocking(ctx context.Context, data []byte) error {
	if data == nil {
		return errors.New("api: encoding websocket message failed")
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendError sends an error message to the client. Like the stream frames
// it waits for buffer space, so a query's final frame is never dropped.
func (c *WSClient) sendError(id, message string, reference int) {
	//nolint:errcheck // fails only when the client is gone
	c.sendBlocking(c.ctx, c.encode(WSTypeError, id, WSError{Message: message, Reference: reference}))
}
