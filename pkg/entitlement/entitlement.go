package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/subscription"
	"github.com/trailpost/billing/pkg/usage"
)

// Result is a positive entitlement decision.
type Result struct {
	Allowed   bool         `json:"allowed"`
	Feature   string       `json:"feature"`
	Plan      catalog.Plan `json:"plan"`
	Used      int64        `json:"used"`
	Limit     int64        `json:"limit"`
	Remaining int64        `json:"remaining"`
	Unlimited bool         `json:"unlimited"`
	ResetDate time.Time    `json:"reset_date"`
}

// Checker decides whether a user may use a feature.
type Checker struct {
	store   subscription.Store
	catalog *catalog.Catalog
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// NewChecker creates a Checker using cat for plan lookups.
func NewChecker(store subscription.Store, cat *catalog.Catalog, opts ...Option) *Checker {
	c := &Checker{
		store:   store,
		catalog: cat,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the user's subscription, creating a free one on first access.
// Time-based transitions are applied to the returned copy only.
func (c *Checker) Load(ctx context.Context, userID string) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}

	s, err := c.store.Get(ctx, userID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		s, err = c.createFree(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	s.Settle(c.now())
	return s, nil
}

func (c *Checker) createFree(ctx context.Context, userID string) (*subscription.Subscription, error) {
	now := c.now()
	s := subscription.NewFree(userID, c.catalog.Features(catalog.PlanFree), now)
	s.Billing.Amount = catalog.Money{Currency: c.catalog.Currency()}
	s.Touch(now)

	err := c.store.Insert(ctx, s)
	if errors.Is(err, subscription.ErrAlreadyExists) {
		// another request created it first
		return c.store.Get(ctx, userID)
	}
	if err != nil {
		return nil, subscription.Internal("create free subscription", err)
	}

	c.logger.InfoContext(ctx, "free subscription created",
		logger.UserID(userID),
		logger.Plan(s.Plan),
	)
	return s, nil
}

// Validate checks whether the user may use requested units of feature now.
// It has no side effects besides creating a missing free subscription.
func (c *Checker) Validate(ctx context.Context, userID, feature string, requested int64) (Result, error) {
	s, err := c.Load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return Evaluate(c.catalog, s, feature, requested, c.now())
}

// Evaluate makes the entitlement decision for an already loaded subscription.
func Evaluate(cat *catalog.Catalog, s *subscription.Subscription, feature string, requested int64, now time.Time) (Result, error) {
	if requested <= 0 {
		return Result{}, subscription.ErrInvalidUsage
	}
	if !Known(s, feature) {
		return Result{}, fmt.Errorf("%w: %q", subscription.ErrInvalidFeature, feature)
	}
	if !s.Usable(now) {
		return Result{}, fmt.Errorf("%w: status %s", subscription.ErrSubscriptionInactive, s.Status)
	}

	limit := s.LimitOf(feature)
	if limit == 0 {
		e := &subscription.FeatureNotEntitledError{Feature: feature, Plan: s.Plan}
		if f := catalog.Feature(feature); f.Known() && s.Plan.Valid() {
			e.RecommendedPlan, _ = cat.RecommendedPlan(f, s.Plan)
		}
		return Result{}, e
	}

	if !usage.CanUse(s, feature, requested) {
		return Result{}, &subscription.QuotaExceededError{
			Feature:   feature,
			Used:      s.UsageOf(feature),
			Limit:     limit,
			Requested: requested,
			ResetDate: s.Limits.ResetDate,
		}
	}

	r := usage.ResultOf(s, feature)
	return Result{
		Allowed:   true,
		Feature:   feature,
		Plan:      s.Plan,
		Used:      r.Used,
		Limit:     r.Limit,
		Remaining: r.Remaining,
		Unlimited: r.Unlimited,
		ResetDate: r.ResetDate,
	}, nil
}

// Known reports whether feature is a catalog feature or one of the
// subscription's custom limits.
func Known(s *subscription.Subscription, feature string) bool {
	if catalog.Feature(feature).Known() {
		return true
	}
	_, ok := s.Limits.CustomLimits[feature]
	return ok
}
