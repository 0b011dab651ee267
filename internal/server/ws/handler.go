package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/goingthrice/bidengine/internal/server/middleware"
)

// Options tunes per-session behaviour.
type Options struct {
	SendBuffer     int
	ClientRate     float64 // inbound messages per second; 0 disables limiting
	ClientBurst    int
	AllowedOrigins []string // empty or "*" allows any origin
}

// Handler upgrades authenticated requests to websocket sessions.
type Handler struct {
	hub      *Hub
	states   StateProvider
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler. It must sit behind middleware.Bearer.
func NewHandler(hub *Hub, states StateProvider, opts Options, logger *slog.Logger) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	h := &Handler{
		hub:    hub,
		states: states,
		opts:   opts,
		logger: logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok || id.UserID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h.hub,
		conn:   conn,
		userID: id.UserID,
		send:   make(chan []byte, h.opts.SendBuffer),
		rooms:  make(map[uuid.UUID]struct{}),
		states: h.states,
		logger: h.logger.With(slog.String("user_id", id.UserID)),
	}
	if h.opts.ClientRate > 0 {
		burst := h.opts.ClientBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.ClientRate), burst)
	}

	if !h.hub.addClient(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
