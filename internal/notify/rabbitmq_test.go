package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/ipguard"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp091.Publishing
	failNext  int
	closed    bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp091.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return errors.New("channel closed")
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeBroker struct {
	ch    *fakeChannel
	dials int
	down  bool
}

func (b *fakeBroker) dial(string, string) (*session, error) {
	b.dials++
	if b.down {
		return nil, errors.New("connection refused")
	}
	connClosed := false
	return &session{
		ch:     b.ch,
		closed: func() bool { return connClosed },
		close:  func() error { connClosed = true; return nil },
	}, nil
}

func newTestPublisher(t *testing.T, broker *fakeBroker) *Publisher {
	t.Helper()
	p := &Publisher{
		url:        "amqp://test",
		exchange:   DefaultExchange,
		dial:       broker.dial,
		maxRetries: 3,
		retryDelay: time.Millisecond,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return p
}

func decode(t *testing.T, msg amqp091.Publishing) BlockMessage {
	t.Helper()
	var out BlockMessage
	require.NoError(t, json.Unmarshal(msg.Body, &out))
	return out
}

func TestPublisher_PublishBlock(t *testing.T) {
	broker := &fakeBroker{ch: &fakeChannel{}}
	p := newTestPublisher(t, broker)

	require.NoError(t, p.PublishBlock(context.Background(), []string{"203.0.113.7"}, time.Hour))

	require.Len(t, broker.ch.published, 1)
	msg := broker.ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)
	assert.Equal(t, BlockMessage{Action: ActionBlock, IPs: []string{"203.0.113.7"}, Duration: "3600s"}, decode(t, msg))
}

func TestPublisher_PublishUnblock(t *testing.T) {
	broker := &fakeBroker{ch: &fakeChannel{}}
	p := newTestPublisher(t, broker)

	require.NoError(t, p.PublishUnblock(context.Background(), []string{"203.0.113.7"}))

	got := decode(t, broker.ch.published[0])
	assert.Equal(t, ActionUnblock, got.Action)
	assert.Empty(t, got.Duration)
}

func TestPublisher_RetriesAfterPublishFailure(t *testing.T) {
	broker := &fakeBroker{ch: &fakeChannel{failNext: 1}}
	p := newTestPublisher(t, broker)

	require.NoError(t, p.PublishBlock(context.Background(), []string{"203.0.113.7"}, time.Minute))

	assert.Len(t, broker.ch.published, 1)
	assert.Equal(t, 2, broker.dials, "a failed publish forces a reconnect")
}

func TestPublisher_GivesUpWhenBrokerDown(t *testing.T) {
	broker := &fakeBroker{ch: &fakeChannel{}, down: true}
	p := newTestPublisher(t, broker)

	err := p.PublishBlock(context.Background(), []string{"203.0.113.7"}, time.Minute)

	assert.Error(t, err)
	assert.Error(t, p.Ping())
}

func TestPublisher_HandleEvent(t *testing.T) {
	broker := &fakeBroker{ch: &fakeChannel{}}
	p := newTestPublisher(t, broker)
	ctx := context.Background()

	p.HandleEvent(ctx, ipguard.Event{
		Type:     ipguard.EventBlocked,
		IP:       "198.51.100.4",
		Record:   &models.BlockRecord{IP: "198.51.100.4", Reason: models.BlockReasonHoneypot},
		Duration: 2 * time.Hour,
	})
	p.HandleEvent(ctx, ipguard.Event{Type: ipguard.EventUnblocked, IP: "198.51.100.4", Actor: "admin-1"})

	require.Len(t, broker.ch.published, 2)
	assert.Equal(t, "7200s", decode(t, broker.ch.published[0]).Duration)
	assert.Equal(t, ActionUnblock, decode(t, broker.ch.published[1]).Action)
	assert.NoError(t, p.Ping())
}

func TestPublisher_Close(t *testing.T) {
	broker := &fakeBroker{ch: &fakeChannel{}}
	p := newTestPublisher(t, broker)
	require.NoError(t, p.PublishUnblock(context.Background(), []string{"203.0.113.7"}))

	require.NoError(t, p.Close())
	assert.True(t, broker.ch.closed)
	assert.Error(t, p.Ping())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "60s", formatDuration(time.Minute))
	assert.Equal(t, "2s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "1s", formatDuration(0))
}
