package ws

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrHubClosed is returned by hub calls made after Close.
var ErrHubClosed = errors.New("ws: hub closed")

// Subscriber abstracts a streaming client. Send must not block.
type Subscriber interface {
	ID() string
	Send([]byte) error
	Close()
}

// Hub is the room registry. It tracks which live connections are subscribed to
// which rooms. All state is owned by a single run goroutine, so every operation
// on a room is serialized.
type Hub struct {
	conns  map[string]Subscriber
	rooms  map[string]map[string]struct{}
	joined map[string]map[string]struct{}

	register  chan Subscriber
	unreg     chan string
	subs      chan subscription
	broadcast chan message
	queries   chan query
	done      chan struct{}
	closeOnce sync.Once

	log     *slog.Logger
	metrics *hubMetrics
}

type subscription struct {
	connID string
	room   string
	join   bool
	// all drops every room of connID when set.
	all   bool
	reply chan bool
}

type message struct {
	rooms   []string
	payload []byte
	reply   chan int
}

type query struct {
	room  string
	reply chan []string
}

// HubOption customises hub construction.
type HubOption func(*Hub)

// WithRegisterer publishes hub gauges and counters to reg.
func WithRegisterer(reg prometheus.Registerer) HubOption {
	return func(h *Hub) {
		if reg != nil {
			h.metrics = newHubMetrics(reg)
		}
	}
}

// NewHub creates an initialized Hub and starts its run loop.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		conns:     make(map[string]Subscriber),
		rooms:     make(map[string]map[string]struct{}),
		joined:    make(map[string]map[string]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan string),
		subs:      make(chan subscription),
		broadcast: make(chan message),
		queries:   make(chan query),
		done:      make(chan struct{}),
		log:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			if prev, ok := h.conns[c.ID()]; ok && prev != c {
				h.detach(prev.ID())
				prev.Close()
			}
			h.conns[c.ID()] = c
			h.metrics.setConnections(len(h.conns))
			h.log.Debug("connection attached", "conn_id", c.ID())
		case id := <-h.unreg:
			h.detach(id)
		case sub := <-h.subs:
			var changed bool
			switch {
			case sub.all:
				changed = len(h.joined[sub.connID]) > 0
				h.leaveAll(sub.connID)
			case sub.join:
				changed = h.join(sub.connID, sub.room)
			default:
				changed = h.leave(sub.connID, sub.room)
			}
			sub.reply <- changed
		case msg := <-h.broadcast:
			msg.reply <- h.deliver(msg)
		case q := <-h.queries:
			q.reply <- h.members(q.room)
		case <-h.done:
			for id, c := range h.conns {
				h.detach(id)
				c.Close()
			}
			return
		}
	}
}

func (h *Hub) join(connID, room string) bool {
	if _, ok := h.conns[connID]; !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	if _, ok := members[connID]; ok {
		return false
	}
	members[connID] = struct{}{}
	rooms, ok := h.joined[connID]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[connID] = rooms
	}
	rooms[room] = struct{}{}
	h.metrics.setRooms(len(h.rooms))
	return true
}

func (h *Hub) leave(connID, room string) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if rooms, ok := h.joined[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.joined, connID)
		}
	}
	h.metrics.setRooms(len(h.rooms))
	return true
}

// leaveAll walks only the rooms connID joined.
func (h *Hub) leaveAll(connID string) {
	for room := range h.joined[connID] {
		h.leave(connID, room)
	}
	delete(h.joined, connID)
}

func (h *Hub) detach(connID string) {
	if _, ok := h.conns[connID]; !ok {
		return
	}
	h.leaveAll(connID)
	delete(h.conns, connID)
	h.metrics.setConnections(len(h.conns))
	h.log.Debug("connection detached", "conn_id", connID)
}

// deliver pushes payload once to every connection in the union of rooms.
func (h *Hub) deliver(msg message) int {
	seen := make(map[string]struct{})
	delivered := 0
	for _, room := range msg.rooms {
		for connID := range h.rooms[room] {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			c, ok := h.conns[connID]
			if !ok {
				continue
			}
			if err := c.Send(msg.payload); err != nil {
				h.log.Warn("dropping connection", "conn_id", connID, "room", room, "error", err)
				h.metrics.incDropped()
				h.detach(connID)
				c.Close()
				continue
			}
			delivered++
		}
	}
	h.metrics.addPushes(delivered)
	return delivered
}

func (h *Hub) members(room string) []string {
	set := h.rooms[room]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Attach binds a connection to the hub under its ID. A previous connection with
// the same ID is detached and closed.
func (h *Hub) Attach(c Subscriber) error {
	if h.closed() {
		return ErrHubClosed
	}
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Detach drops a connection and every room membership it holds.
func (h *Hub) Detach(connID string) {
	if h.closed() {
		return
	}
	select {
	case h.unreg <- connID:
	case <-h.done:
	}
}

// Subscribe adds connID to room. Repeated calls are no-ops. It reports whether
// the membership changed; unknown connections are never subscribed.
func (h *Hub) Subscribe(connID, room string) bool {
	return h.subscription(subscription{connID: connID, room: room, join: true})
}

// Unsubscribe removes connID from room. Unsubscribing a non-member is a no-op.
func (h *Hub) Unsubscribe(connID, room string) bool {
	return h.subscription(subscription{connID: connID, room: room})
}

// UnsubscribeAll removes connID from every room it joined.
func (h *Hub) UnsubscribeAll(connID string) {
	h.subscription(subscription{connID: connID, all: true})
}

func (h *Hub) subscription(sub subscription) bool {
	if h.closed() {
		return false
	}
	sub.reply = make(chan bool, 1)
	select {
	case h.subs <- sub:
	case <-h.done:
		return false
	}
	return <-sub.reply
}

// Members lists the connection IDs subscribed to room, sorted.
func (h *Hub) Members(room string) []string {
	if h.closed() {
		return nil
	}
	q := query{room: room, reply: make(chan []string, 1)}
	select {
	case h.queries <- q:
	case <-h.done:
		return nil
	}
	return <-q.reply
}

// Publish sends payload to every connection subscribed to any of rooms. A
// connection in several of the rooms receives it once. It returns the number
// of connections the payload was handed to.
func (h *Hub) Publish(payload []byte, rooms ...string) int {
	if len(rooms) == 0 || h.closed() {
		return 0
	}
	msg := message{rooms: rooms, payload: payload, reply: make(chan int, 1)}
	select {
	case h.broadcast <- msg:
	case <-h.done:
		return 0
	}
	return <-msg.reply
}

func (h *Hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Close stops the run loop and closes every attached connection.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
