// Package realtime is a reconnecting websocket client for the teamsync room
// protocol.
//
// Rooms joined through a Client are remembered and joined again after every
// reconnect, because the server keeps no subscriptions across connections.
// Events missed while disconnected are lost; OnConnect fires after each
// successful connection so callers can re-fetch authoritative state.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	retry "github.com/sethvargo/go-retry"

	"github.com/splax/teamsync/pkg/protocol"
)

// Status is the transport state reported to OnStatus.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusOffline
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusOffline:
		return "offline"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ErrOffline is returned by Run once the reconnect attempts are exhausted.
var ErrOffline = errors.New("realtime: offline after exhausting reconnect attempts")

const (
	writeWait          = 10 * time.Second
	defaultReadTimeout = 90 * time.Second
)

// Options configures a Client. Only URL is required.
type Options struct {
	// URL is the websocket endpoint, token included.
	URL      string
	Header   http.Header
	Dialer   *websocket.Dialer
	Schedule Schedule
	// ReadTimeout drops a connection that has been silent this long. Server
	// pings reset it.
	ReadTimeout time.Duration
	Logger      *slog.Logger

	OnStatus  func(Status)
	OnEvent   func(protocol.Envelope)
	OnConnect func()
}

type roomIntent struct {
	room  string
	frame []byte
}

// Client maintains one websocket connection and its room subscriptions.
type Client struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	rooms   []roomIntent
	status  Status
	closed  bool
	cancel  context.CancelFunc
	writeMu sync.Mutex

	newBackoff func() retry.Backoff
	sleep      func(context.Context, time.Duration) error
}

// New builds a Client. Call Run to connect.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		opts:       opts,
		log:        logger,
		newBackoff: opts.Schedule.Backoff,
		sleep:      sleepContext,
	}
}

// Status returns the current transport state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run connects and keeps the connection alive until ctx ends, Close is
// called, or reconnecting fails Schedule.Attempts times in a row.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.setStatus(StatusConnecting)
	conn, err := c.dial(ctx)
	for {
		if err != nil {
			if ctx.Err() != nil {
				return c.finish()
			}
			c.setStatus(StatusReconnecting)
			conn, err = c.reconnect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.finish()
				}
				c.setStatus(StatusOffline)
				return fmt.Errorf("%w: %v", ErrOffline, err)
			}
		}
		c.attach(conn)
		err = c.readLoop(conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return c.finish()
		}
		c.log.Warn("realtime connection dropped", "error", err)
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
	}
}

func (c *Client) finish() error {
	c.setStatus(StatusClosed)
	return nil
}

// reconnect walks the backoff schedule until a dial succeeds or the schedule stops.
func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	backoff := c.newBackoff()
	var lastErr error
	for attempt := 1; ; attempt++ {
		delay, stop := backoff.Next()
		if stop {
			return nil, lastErr
		}
		c.log.Debug("realtime reconnect scheduled", "attempt", attempt, "delay_ms", delay.Milliseconds())
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.log.Warn("realtime reconnect failed", "attempt", attempt, "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return conn, nil
}

// attach publishes conn, replays every remembered room and fires OnConnect.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	rooms := append([]roomIntent(nil), c.rooms...)
	c.mu.Unlock()

	for _, r := range rooms {
		if err := c.write(conn, r.frame); err != nil {
			c.log.Warn("realtime rejoin failed", "room", r.room, "error", err)
		}
	}
	c.setStatus(StatusConnected)
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	timeout := c.opts.ReadTimeout
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		env, err := protocol.Decode(frame)
		if err != nil {
			c.log.Warn("realtime frame dropped", "error", err)
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(env)
		}
	}
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// JoinTeamList subscribes to the user's team-list room, now and after every reconnect.
func (c *Client) JoinTeamList(userID string) error {
	return c.join(protocol.TeamListRoom(userID), protocol.JoinTeamList, protocol.TeamListIntent{UserID: userID})
}

// LeaveTeamList forgets the team-list room.
func (c *Client) LeaveTeamList(userID string) error {
	return c.leave(protocol.TeamListRoom(userID), protocol.LeaveTeamList, protocol.TeamListIntent{UserID: userID})
}

// JoinTeamDetail subscribes to a team's detail room, now and after every reconnect.
func (c *Client) JoinTeamDetail(teamID string) error {
	return c.join(protocol.TeamDetailRoom(teamID), protocol.JoinTeamDetail, protocol.TeamDetailIntent{TeamID: teamID})
}

// LeaveTeamDetail forgets a team's detail room.
func (c *Client) LeaveTeamDetail(teamID string) error {
	return c.leave(protocol.TeamDetailRoom(teamID), protocol.LeaveTeamDetail, protocol.TeamDetailIntent{TeamID: teamID})
}

func (c *Client) join(room, event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	known := false
	for _, r := range c.rooms {
		if r.room == room {
			known = true
			break
		}
	}
	if !known {
		c.rooms = append(c.rooms, roomIntent{room: room, frame: frame})
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.write(conn, frame)
}

func (c *Client) leave(room, event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for i, r := range c.rooms {
		if r.room == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			break
		}
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.write(conn, frame)
}

// Rooms lists the remembered rooms in join order.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.rooms))
	for i, r := range c.rooms {
		out[i] = r.room
	}
	return out
}

// Close ends Run and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed && c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DecodeData unmarshals an envelope payload into T.
func DecodeData[T any](env protocol.Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return out, nil
}
