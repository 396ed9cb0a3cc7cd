package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	maxMessageSize  = 4096
	defaultBuffer   = 256
	defaultPingTick = 30 * time.Second
)

var (
	// ErrSlowConsumer is returned by Send when the outbound buffer is full.
	ErrSlowConsumer = errors.New("ws: send buffer full")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("ws: connection closed")
)

// ClientOptions tunes a websocket client.
type ClientOptions struct {
	SendBuffer   int
	PingInterval time.Duration
}

// Client represents a websocket client connection.
type Client struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool

	pingEvery time.Duration
}

// NewClient constructs a client wrapper.
func NewClient(id string, conn *websocket.Conn, logger *slog.Logger, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingTick
	}
	return &Client{
		id:        id,
		conn:      conn,
		log:       logger.With("conn_id", id),
		send:      make(chan []byte, opts.SendBuffer),
		pingEvery: opts.PingInterval,
	}
}

// ID returns the socket identifier.
func (c *Client) ID() string { return c.id }

// Send queues a message for the write pump without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close frame and tears down the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump feeds inbound text frames to handle until the socket fails. Pongs
// extend the read deadline.
func (c *Client) ReadPump(handle func([]byte)) {
	pongWait := c.pingEvery * 3
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}

// WritePump drains the send buffer onto the socket and pings on an interval.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
