package gamification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trailpost/billing/pkg/logger"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes awards to a RabbitMQ topic exchange for the
// gamification service to consume.
type Publisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    Channel
	exchange   string
	routingKey string
	closed     bool
	now        func() time.Time
	logger     *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherClock overrides the time source.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = l
	}
}

// NewPublisher dials cfg.AMQPURL and declares the durable topic exchange.
func NewPublisher(cfg Config, opts ...PublisherOption) (*Publisher, error) {
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("%w: amqp url is required", ErrInvalidConfig)
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrPublishFailed, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %w", ErrPublishFailed, err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: declare exchange: %w", ErrPublishFailed, err)
	}

	p := NewChannelPublisher(ch, cfg, opts...)
	p.conn = conn
	p.logger.Info("gamification publisher connected", slog.String("exchange", cfg.Exchange))
	return p, nil
}

// NewChannelPublisher publishes on an already opened channel. The exchange
// must exist.
func NewChannelPublisher(ch Channel, cfg Config, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Component("gamification"))
	return p
}

// AwardPoints publishes one persistent award message.
func (p *Publisher) AwardPoints(ctx context.Context, userID string, points int, reason string) error {
	award, err := NewAward(userID, points, reason, p.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(award)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAward, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    award.ID,
		Timestamp:    award.AwardedAt,
		Type:         "points.awarded",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.DebugContext(ctx, "award published",
		logger.UserID(userID),
		logger.Points(points),
		slog.String("routing_key", p.routingKey),
	)
	return nil
}

// Close closes the channel and the connection it owns.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.channel.Close(); err != nil {
		p.logger.Warn("error closing channel", logger.Error(err))
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
