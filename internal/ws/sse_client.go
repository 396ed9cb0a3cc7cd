package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer. Send
// only queues; Stream performs the writes on the handler goroutine.
type SSEClient struct {
	id      string
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	queue   chan []byte
	closed  bool
	done    chan struct{}
	last    time.Time
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(id string, writer io.Writer, flusher http.Flusher, logger *slog.Logger, buffer int) *SSEClient {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &SSEClient{
		id:      id,
		writer:  writer,
		flusher: flusher,
		log:     logger.With("conn_id", id),
		queue:   make(chan []byte, buffer),
		done:    make(chan struct{}),
		last:    time.Now().UTC(),
	}
}

// ID returns the stream identifier.
func (c *SSEClient) ID() string { return c.id }

// Send queues a data event for the stream.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	select {
	case c.queue <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Stream writes queued events and heartbeats until the client closes or done fires.
func (c *SSEClient) Stream(done <-chan struct{}, heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.queue:
			if err := c.write(payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				return
			}
		case <-c.done:
			return
		case <-done:
			return
		}
	}
}

func (c *SSEClient) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", payload); err != nil {
		c.shutdownLocked()
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.shutdownLocked()
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed and releases Stream.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownLocked()
}

func (c *SSEClient) shutdownLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
