package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, title, message string) error {
	args := m.Called(ctx, title, message)
	return args.Error(0)
}

func (m *mockSender) Name() string {
	return m.Called().String(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &mockSender{}
	s.On("Name").Return("mock").Maybe()
	s.On("Send", mock.Anything, "ledger", "wallet u1").Return(nil).Once()

	n := NewNotifier([]Sender{s}, []string{EventLedgerInconsistency}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventLedgerInconsistency, "ledger", "wallet u1"))
	require.NoError(t, n.Notify(context.Background(), EventAuctionSold, "sold", "lamp"))

	s.AssertExpectations(t)
	s.AssertNumberOfCalls(t, "Send", 1)
}

func TestNotifierKeepsDeliveringAfterFailure(t *testing.T) {
	bad := &mockSender{}
	bad.On("Name").Return("bad")
	bad.On("Send", mock.Anything, "t", "m").Return(errors.New("down"))

	good := &mockSender{}
	good.On("Name").Return("good").Maybe()
	good.On("Send", mock.Anything, "t", "m").Return(nil)

	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())
	err := n.Notify(context.Background(), EventSettlementFailed, "t", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	good.AssertExpectations(t)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventAuctionSold, "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "Sold", "lamp for 120.00"))
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "*Sold*\nlamp for 120.00", got.Text)
}

func TestTelegramSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad chat", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type fakeWebhook struct {
	id, token string
	params    *discordgo.WebhookParams
}

func (f *fakeWebhook) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = webhookID, token, data
	return nil, nil
}

func TestDiscordSender(t *testing.T) {
	s, err := NewDiscordSender("https://discord.com/api/webhooks/123/abc")
	require.NoError(t, err)
	assert.Equal(t, "123", s.webhookID)
	assert.Equal(t, "abc", s.token)

	fake := &fakeWebhook{}
	s.session = fake
	require.NoError(t, s.Send(context.Background(), "Alert", "body"))
	assert.Equal(t, "123", fake.id)
	assert.Equal(t, "**Alert**\nbody", fake.params.Content)

	_, err = NewDiscordSender("https://discord.com/api/channels/1")
	assert.Error(t, err)
}
