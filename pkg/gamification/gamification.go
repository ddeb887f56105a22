package gamification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trailpost/billing/pkg/logger"
)

// Awarder sends points to the gamification service.
type Awarder interface {
	AwardPoints(ctx context.Context, userID string, points int, reason string) error
	Close() error
}

// New builds the awarder selected by cfg.Transport.
func New(cfg Config, l *slog.Logger) (Awarder, error) {
	if l == nil {
		l = slog.Default()
	}
	switch cfg.Transport {
	case "http":
		return NewHTTPClient(cfg, WithLogger(l))
	case "amqp":
		return NewPublisher(cfg, WithPublisherLogger(l))
	case "", "noop":
		return Noop{logger: l.With(logger.Component("gamification"))}, nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}
}

// Close implements Awarder.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Noop logs awards without sending them.
type Noop struct {
	logger *slog.Logger
}

// AwardPoints implements Awarder.
func (n Noop) AwardPoints(ctx context.Context, userID string, points int, reason string) error {
	if n.logger != nil {
		n.logger.DebugContext(ctx, "award dropped",
			logger.UserID(userID),
			logger.Points(points),
			logger.Reason(reason),
		)
	}
	return nil
}

// Close implements Awarder.
func (Noop) Close() error { return nil }
