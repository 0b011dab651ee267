package ws

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
)

// memBus is a single-process signal bus.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newMemBus() *memBus { return &memBus{subs: make(map[string][]chan []byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *memBus) subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

type delivered struct {
	userID string
	ev     domain.Event
}

type recorder struct {
	mu  sync.Mutex
	got []delivered
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, delivered{ev: ev})
	return nil
}

func (r *recorder) Notify(_ context.Context, userID string, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, delivered{userID: userID, ev: ev})
	return nil
}

func (r *recorder) all() []delivered {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivered(nil), r.got...)
}

func TestRelayDeliversBusEnvelopesLocally(t *testing.T) {
	bus := newMemBus()
	local := &recorder{}
	relay := NewRelay(bus, "auction-events", local, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribers("auction-events") == 1 }, time.Second, 5*time.Millisecond)

	pub := NewBusPublisher(bus, "auction-events")
	id := uuid.New()
	closed := domain.NewEvent(domain.EventAuctionClosed, id, domain.AuctionClosed{
		AuctionID: id, FinalBid: decimal.NewFromInt(250), WinnerID: "bob",
	}, testNow)
	outbid := domain.NewEvent(domain.EventOutbid, id, domain.OutbidNotice{AuctionID: id}, testNow)

	require.NoError(t, pub.Publish(ctx, closed))
	require.NoError(t, pub.Notify(ctx, "alice", outbid))
	require.NoError(t, bus.Publish(ctx, "auction-events", []byte("not json")))

	require.Eventually(t, func() bool { return len(local.all()) == 2 }, time.Second, 5*time.Millisecond)
	got := local.all()

	assert.Empty(t, got[0].userID)
	assert.Equal(t, domain.EventAuctionClosed, got[0].ev.Type)
	assert.JSONEq(t, string(closed.Data), string(got[0].ev.Data))
	assert.True(t, closed.Timestamp.Equal(got[0].ev.Timestamp))

	assert.Equal(t, "alice", got[1].userID)
	assert.Equal(t, domain.EventOutbid, got[1].ev.Type)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
