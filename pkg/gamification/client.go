package gamification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/trailpost/billing/pkg/logger"
)

// HTTPClient posts signed awards to the gamification service, retrying
// temporary failures with backoff behind a circuit breaker.
// Safe for concurrent use.
type HTTPClient struct {
	url        string
	secret     string
	timeout    time.Duration
	maxRetries int
	backoff    Backoff
	client     *http.Client
	cb         *gobreaker.CircuitBreaker[struct{}]
	now        func() time.Time
	logger     *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b Backoff) HTTPOption {
	return func(c *HTTPClient) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithClock overrides the time source used for award and signature timestamps.
func WithClock(now func() time.Time) HTTPOption {
	return func(c *HTTPClient) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// NewHTTPClient creates a client for cfg.URL.
func NewHTTPClient(cfg Config, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: an http or https URL is required", ErrInvalidConfig)
	}

	c := &HTTPClient{
		url:        cfg.URL,
		secret:     cfg.SigningSecret,
		timeout:    cfg.RequestTimeout,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    DefaultBackoff(),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		now:    time.Now,
		logger: slog.Default(),
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("gamification"))

	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	c.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "gamification",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPermanentFailure) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("gamification circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// AwardPoints sends one award. Retries reuse the award ID so the service can
// drop duplicates.
func (c *HTTPClient) AwardPoints(ctx context.Context, userID string, points int, reason string) error {
	award, err := NewAward(userID, points, reason, c.now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(award)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAward, err)
	}

	_, err = c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.deliver(ctx, award.ID, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

func (c *HTTPClient) deliver(ctx context.Context, awardID string, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff.NextInterval(attempt)):
			}
		}

		status, err := c.post(ctx, awardID, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
		c.logger.DebugContext(ctx, "award delivery attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("status", status),
			logger.Error(err),
		)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, c.maxRetries+1, lastErr)
}

func (c *HTTPClient) post(ctx context.Context, awardID string, payload []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trailpost-billing/1.0")
	req.Header.Set(HeaderAwardID, awardID)
	if c.secret != "" {
		ts := c.now().Unix()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, Sign(c.secret, ts, payload))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return resp.StatusCode, fmt.Errorf("gamification service returned status %d: %s", resp.StatusCode, msg)
}

// isPermanent reports client errors that a retry cannot fix.
func isPermanent(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}
