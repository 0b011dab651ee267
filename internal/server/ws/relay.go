package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/goingthrice/bidengine/internal/domain"
)

// envelope is what travels over the signal bus between instances. An empty
// UserID means a room broadcast.
type envelope struct {
	UserID string       `json:"user_id,omitempty"`
	Event  domain.Event `json:"event"`
}

// BusPublisher publishes events to the signal bus instead of a local hub, so
// every instance's Relay can deliver them to its own sessions.
type BusPublisher struct {
	bus     domain.SignalBus
	channel string
}

var _ domain.EventPublisher = (*BusPublisher)(nil)

// NewBusPublisher creates a BusPublisher writing to channel.
func NewBusPublisher(bus domain.SignalBus, channel string) *BusPublisher {
	return &BusPublisher{bus: bus, channel: channel}
}

// Publish sends a room broadcast.
func (p *BusPublisher) Publish(ctx context.Context, ev domain.Event) error {
	return p.send(ctx, envelope{Event: ev})
}

// Notify sends a user-addressed event.
func (p *BusPublisher) Notify(ctx context.Context, userID string, ev domain.Event) error {
	return p.send(ctx, envelope{UserID: userID, Event: ev})
}

func (p *BusPublisher) send(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: marshal envelope: %w", err)
	}
	if err := p.bus.Publish(ctx, p.channel, data); err != nil {
		return fmt.Errorf("ws: publish %s: %w", env.Event.Type, err)
	}
	return nil
}

// Relay subscribes to the signal bus and hands every envelope to the local
// publisher, usually this instance's Hub.
type Relay struct {
	bus     domain.SignalBus
	channel string
	local   domain.EventPublisher
	logger  *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus domain.SignalBus, channel string, local domain.EventPublisher, logger *slog.Logger) *Relay {
	return &Relay{
		bus:     bus,
		channel: channel,
		local:   local,
		logger:  logger.With(slog.String("component", "ws_relay")),
	}
}

// Run delivers envelopes until ctx is cancelled or the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", r.channel, err)
	}
	r.logger.InfoContext(ctx, "relay subscribed", slog.String("channel", r.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("ws: subscription %s closed", r.channel)
			}
			r.deliver(ctx, data)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.WarnContext(ctx, "discarding malformed envelope", slog.Any("error", err))
		return
	}
	var err error
	if env.UserID != "" {
		err = r.local.Notify(ctx, env.UserID, env.Event)
	} else {
		err = r.local.Publish(ctx, env.Event)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "relay delivery failed",
			slog.String("type", string(env.Event.Type)), slog.Any("error", err))
	}
}
