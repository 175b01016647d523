package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/BradenHooton/gatekeeper/internal/ipguard"
)

const (
	ActionBlock   = "block"
	ActionUnblock = "unblock"

	DefaultExchange = "blocking_exchange"

	publishTimeout = 30 * time.Second
)

// BlockMessage is the fanout payload consumed by firewall agents
type BlockMessage struct {
	Action   string   `json:"action,omitempty"`
	IPs      []string `json:"ips"`
	Duration string   `json:"duration"`
}

// channel is the part of *amqp091.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// session is one live connection with its channel
type session struct {
	ch     channel
	closed func() bool
	close  func() error
}

type dialFunc func(url, exchange string) (*session, error)

// Publisher fans block decisions out to a RabbitMQ exchange so that
// firewall agents can drop traffic before it reaches the service. It is
// registered as an ipguard hook.
type Publisher struct {
	mu         sync.Mutex
	url        string
	exchange   string
	dial       dialFunc
	sess       *session
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewPublisher connects to url and declares a durable fanout exchange
func NewPublisher(ctx context.Context, url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &Publisher{
		url:        url,
		exchange:   exchange,
		dial:       dialAMQP,
		maxRetries: 5,
		retryDelay: 2 * time.Second,
		logger:     logger,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectWithRetryLocked(ctx); err != nil {
		return nil, errors.Wrap(err, "connect to rabbitmq")
	}
	return p, nil
}

func dialAMQP(url, exchange string) (*session, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}

	return &session{
		ch:     ch,
		closed: conn.IsClosed,
		close:  conn.Close,
	}, nil
}

func (p *Publisher) connectWithRetryLocked(ctx context.Context) error {
	var err error
	for i := 0; i < p.maxRetries; i++ {
		p.closeLocked()

		var sess *session
		sess, err = p.dial(p.url, p.exchange)
		if err == nil {
			p.sess = sess
			p.logger.Info("connected to rabbitmq", slog.String("exchange", p.exchange))
			return nil
		}

		p.logger.Warn("rabbitmq connection failed",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", p.maxRetries),
			slog.String("error", err.Error()))
		if err := p.sleep(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("no connection after %d attempts: %w", p.maxRetries, err)
}

func (p *Publisher) sleep(ctx context.Context) error {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PublishBlock announces a block of ips for duration
func (p *Publisher) PublishBlock(ctx context.Context, ips []string, duration time.Duration) error {
	return p.publish(ctx, BlockMessage{Action: ActionBlock, IPs: ips, Duration: formatDuration(duration)})
}

// PublishUnblock announces that ips should be released immediately
func (p *Publisher) PublishUnblock(ctx context.Context, ips []string) error {
	return p.publish(ctx, BlockMessage{Action: ActionUnblock, IPs: ips})
}

func (p *Publisher) publish(ctx context.Context, msg BlockMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode block message")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.maxRetries; i++ {
		if p.sess == nil || p.sess.closed() {
			if err := p.connectWithRetryLocked(ctx); err != nil {
				return errors.Wrap(err, "reconnect to rabbitmq")
			}
		}

		err = p.sess.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
		})
		if err == nil {
			return nil
		}

		p.logger.Warn("rabbitmq publish failed",
			slog.Int("attempt", i+1),
			slog.String("action", msg.Action),
			slog.String("error", err.Error()))
		p.closeLocked()
		if err := p.sleep(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("publish %s failed after %d attempts: %w", msg.Action, p.maxRetries, err)
}

// HandleEvent forwards block and unblock events to the exchange
func (p *Publisher) HandleEvent(ctx context.Context, event ipguard.Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case ipguard.EventBlocked:
		err = p.PublishBlock(ctx, []string{event.IP}, event.Duration)
	case ipguard.EventUnblocked:
		err = p.PublishUnblock(ctx, []string{event.IP})
	default:
		return
	}
	if err != nil {
		p.logger.Error("failed to publish block event",
			slog.String("ip", event.IP),
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}

// Ping reports whether the connection is up without reconnecting
func (p *Publisher) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess == nil || p.sess.closed() {
		return errors.New("rabbitmq connection is not active")
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Publisher) closeLocked() error {
	if p.sess == nil {
		return nil
	}
	sess := p.sess
	p.sess = nil

	if err := sess.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return err
	}
	if err := sess.close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return err
	}
	return nil
}

// formatDuration renders whole seconds, rounding up, as agents expect ^\d+[smhd]$
func formatDuration(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}

var _ ipguard.Hook = (*Publisher)(nil)
