package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around a Gateway.
type BreakerConfig struct {
	Name             string        `env:"GATEWAY_BREAKER_NAME" envDefault:"payment-gateway"`
	MaxRequests      uint32        `env:"GATEWAY_BREAKER_MAX_REQUESTS" envDefault:"1"`
	Interval         time.Duration `env:"GATEWAY_BREAKER_INTERVAL" envDefault:"60s"`
	Timeout          time.Duration `env:"GATEWAY_BREAKER_TIMEOUT" envDefault:"30s"`
	FailureThreshold uint32        `env:"GATEWAY_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
}

// BreakerGateway stops calling a failing provider. While the circuit is open
// charges fail fast with ErrUnavailable and nothing is sent to the provider.
// Declines and invalid requests do not count as provider failures.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[ChargeResult]
}

// NewBreakerGateway wraps next with a circuit breaker.
func NewBreakerGateway(next Gateway, cfg BreakerConfig, logger *slog.Logger) *BreakerGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment gateway circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &BreakerGateway{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[ChargeResult](settings),
	}
}

// Charge implements Gateway.
func (g *BreakerGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	result, err := g.cb.Execute(func() (ChargeResult, error) {
		return g.next.Charge(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ChargeResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return result, err
}

// State returns the breaker state name: closed, half-open or open.
func (g *BreakerGateway) State() string {
	return g.cb.State().String()
}
