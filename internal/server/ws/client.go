package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/goingthrice/bidengine/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	stateTimeout = 5 * time.Second
)

// StateProvider returns the snapshot sent to a session when it joins an
// auction room.
type StateProvider interface {
	State(ctx context.Context, auctionID uuid.UUID) (domain.AuctionState, error)
}

// client is one websocket session. rooms is owned by the hub goroutine.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	rooms   map[uuid.UUID]struct{}
	limiter *rate.Limiter
	states  StateProvider
	logger  *slog.Logger
}

// inbound is a message sent by the browser.
type inbound struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// readPump reads control messages until the connection fails, then
// unregisters the session.
func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError(uuid.Nil, "rate limit exceeded")
			continue
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError(uuid.Nil, "malformed message")
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg inbound) {
	auctionID, err := uuid.Parse(msg.AuctionID)
	if err != nil {
		c.sendError(uuid.Nil, "invalid auction_id")
		return
	}

	switch msg.Type {
	case "join_auction":
		// Join before reading the snapshot: a bid committed after the read is
		// then published to this client. Both events carry total_bids.
		c.hub.joinRoom(c, auctionID)

		ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
		defer cancel()
		state, err := c.states.State(ctx, auctionID)
		if err != nil {
			c.hub.exitRoom(c, auctionID)
			if errors.Is(err, domain.ErrNotFound) {
				c.sendError(auctionID, "auction not found")
			} else {
				c.logger.Warn("auction state lookup failed",
					slog.String("auction_id", auctionID.String()), slog.Any("error", err))
				c.sendError(auctionID, "auction state unavailable")
			}
			return
		}
		data, err := json.Marshal(domain.NewEvent(domain.EventAuctionState, auctionID, state, time.Now()))
		if err != nil {
			return
		}
		c.hub.sendSnapshot(c, auctionID, data)

	case "leave_auction":
		c.hub.exitRoom(c, auctionID)

	default:
		c.sendError(auctionID, "unknown message type")
	}
}

func (c *client) sendEvent(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.hub.send(c, data)
}

func (c *client) sendError(auctionID uuid.UUID, msg string) {
	c.sendEvent(domain.NewEvent(domain.EventError, auctionID, errorPayload{Message: msg}, time.Now()))
}

// writePump writes queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
