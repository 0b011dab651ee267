package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

// ErrHubClosed is returned by Publish and Notify after Run has returned.
var ErrHubClosed = errors.New("ws: hub closed")

// publishBuffer is the capacity of the hub's inbound event queues.
const publishBuffer = 1024

type roomOp struct {
	c         *client
	auctionID uuid.UUID
}

type userMsg struct {
	userID string
	data   []byte
}

type roomMsg struct {
	auctionID uuid.UUID
	data      []byte
	only      *client // set for a join snapshot
}

type directMsg struct {
	c    *client
	data []byte
}

// Hub owns the session directory (user id to clients) and the auction rooms
// (auction id to clients). Both maps are only touched by the Run goroutine;
// every other goroutine talks to the hub over channels.
type Hub struct {
	register   chan *client
	unregister chan *client
	join       chan roomOp
	leave      chan roomOp
	publish    chan roomMsg
	notify     chan userMsg
	direct     chan directMsg
	inspect    chan func()
	done       chan struct{}

	clients  map[*client]struct{}
	sessions map[string]map[*client]struct{}
	rooms    map[uuid.UUID]map[*client]struct{}

	logger *slog.Logger
}

// Compile-time interface check.
var _ domain.EventPublisher = (*Hub)(nil)

// NewHub creates an idle hub. Call Run to start delivering.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		join:       make(chan roomOp),
		leave:      make(chan roomOp),
		publish:    make(chan roomMsg, publishBuffer),
		notify:     make(chan userMsg, publishBuffer),
		direct:     make(chan directMsg, publishBuffer),
		inspect:    make(chan func()),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		sessions:   make(map[string]map[*client]struct{}),
		rooms:      make(map[uuid.UUID]map[*client]struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run is the hub's event loop. It returns ctx.Err() once ctx is cancelled,
// after closing every client's send queue.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.sessions[c.userID] == nil {
				h.sessions[c.userID] = make(map[*client]struct{})
			}
			h.sessions[c.userID][c] = struct{}{}
			h.logger.Debug("client connected",
				slog.String("user_id", c.userID),
				slog.Int("total_clients", len(h.clients)),
			)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("client disconnected",
					slog.String("user_id", c.userID),
					slog.Int("total_clients", len(h.clients)),
				)
			}

		case op := <-h.join:
			if _, ok := h.clients[op.c]; !ok {
				continue
			}
			if h.rooms[op.auctionID] == nil {
				h.rooms[op.auctionID] = make(map[*client]struct{})
			}
			h.rooms[op.auctionID][op.c] = struct{}{}
			op.c.rooms[op.auctionID] = struct{}{}

		case op := <-h.leave:
			h.leaveRoom(op.c, op.auctionID)

		case m := <-h.publish:
			if m.only != nil {
				if _, ok := h.rooms[m.auctionID][m.only]; ok {
					h.deliver(m.only, m.data)
				}
				continue
			}
			for c := range h.rooms[m.auctionID] {
				h.deliver(c, m.data)
			}

		case m := <-h.notify:
			for c := range h.sessions[m.userID] {
				h.deliver(c, m.data)
			}

		case m := <-h.direct:
			if _, ok := h.clients[m.c]; ok {
				h.deliver(m.c, m.data)
			}

		case fn := <-h.inspect:
			fn()
		}
	}
}

// drop removes c from the directory and every room and closes its queue.
func (h *Hub) drop(c *client) {
	for id := range c.rooms {
		h.leaveRoom(c, id)
	}
	if set := h.sessions[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.userID)
		}
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) leaveRoom(c *client, auctionID uuid.UUID) {
	delete(c.rooms, auctionID)
	if set := h.rooms[auctionID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, auctionID)
		}
	}
}

// deliver enqueues data without blocking. A full queue drops the message.
func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping message for slow client", slog.String("user_id", c.userID))
	}
}

// Publish delivers ev to every client in the ev.AuctionID room.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", ev.Type, err)
	}
	return enqueue(ctx, h, h.publish, roomMsg{auctionID: ev.AuctionID, data: data})
}

// Notify delivers ev to every session of userID. Users without a session are
// skipped silently.
func (h *Hub) Notify(ctx context.Context, userID string, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", ev.Type, err)
	}
	return enqueue(ctx, h, h.notify, userMsg{userID: userID, data: data})
}

func enqueue[T any](ctx context.Context, h *Hub, ch chan<- T, m T) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case ch <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send hands c a message through the hub goroutine so it never races with
// the close of c.send.
func (h *Hub) send(c *client, data []byte) {
	select {
	case h.direct <- directMsg{c: c, data: data}:
	case <-h.done:
	}
}

// sendSnapshot queues data for c behind every room event already published,
// so a snapshot never overtakes an update that was queued before it.
func (h *Hub) sendSnapshot(c *client, auctionID uuid.UUID, data []byte) {
	select {
	case h.publish <- roomMsg{auctionID: auctionID, data: data, only: c}:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) removeClient(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) joinRoom(c *client, auctionID uuid.UUID) {
	select {
	case h.join <- roomOp{c: c, auctionID: auctionID}:
	case <-h.done:
	}
}

func (h *Hub) exitRoom(c *client, auctionID uuid.UUID) {
	select {
	case h.leave <- roomOp{c: c, auctionID: auctionID}:
	case <-h.done:
	}
}

// Stats reports the number of connected clients, users with a session and
// auctions with at least one subscriber.
func (h *Hub) Stats() (clients, users, rooms int) {
	ran := make(chan struct{})
	select {
	case h.inspect <- func() {
		clients, users, rooms = len(h.clients), len(h.sessions), len(h.rooms)
		close(ran)
	}:
		<-ran
	case <-h.done:
	}
	return clients, users, rooms
}
