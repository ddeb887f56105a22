package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// PlanDefinition describes one plan: its display name, prices per cycle in
// minor units and the features it grants.
type PlanDefinition struct {
	Plan        Plan            `yaml:"plan"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Prices      map[Cycle]int64 `yaml:"prices"`
	Features    FeatureSet      `yaml:"features"`
}

// Definition is the raw catalog configuration as loaded from a Source.
type Definition struct {
	Currency string           `yaml:"currency"`
	Plans    []PlanDefinition `yaml:"plans"`
}

// Catalog is an immutable, validated mapping of plans to features and prices.
// Safe for concurrent use; every accessor returns copies.
type Catalog struct {
	currency string
	plans    map[Plan]PlanDefinition
	// minimum plan granting each feature, computed once
	minimum map[Feature]Plan
}

// New validates the definition and builds a Catalog.
func New(def Definition) (*Catalog, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	c := &Catalog{
		currency: def.Currency,
		plans:    make(map[Plan]PlanDefinition, len(def.Plans)),
		minimum:  make(map[Feature]Plan),
	}
	for _, p := range def.Plans {
		c.plans[p.Plan] = PlanDefinition{
			Plan:        p.Plan,
			Name:        p.Name,
			Description: p.Description,
			Prices:      maps.Clone(p.Prices),
			Features:    p.Features.Clone(),
		}
	}

	for _, f := range Features() {
		for _, p := range Plans() {
			if c.plans[p].Features.Allows(f) {
				c.minimum[f] = p
				break
			}
		}
	}

	return c, nil
}

// MustNew is like New but panics on an invalid definition.
func MustNew(def Definition) *Catalog {
	c, err := New(def)
	if err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	return c
}

// Load reads the definition from src and builds a Catalog.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, errors.New("source is nil"))
	}
	def, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return New(def)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return MustNew(DefaultDefinition())
}

// Currency returns the catalog's billing currency.
func (c *Catalog) Currency() string {
	return c.currency
}

// Definition returns a copy of a plan definition.
func (c *Catalog) Definition(p Plan) (PlanDefinition, error) {
	def, ok := c.plans[p]
	if !ok {
		return PlanDefinition{}, fmt.Errorf("%w: %q", ErrUnknownPlan, string(p))
	}
	def.Prices = maps.Clone(def.Prices)
	def.Features = def.Features.Clone()
	return def, nil
}

// LookupFeatures returns the plan's feature set or ErrUnknownPlan.
func (c *Catalog) LookupFeatures(p Plan) (FeatureSet, error) {
	def, ok := c.plans[p]
	if !ok {
		return FeatureSet{}, fmt.Errorf("%w: %q", ErrUnknownPlan, string(p))
	}
	return def.Features.Clone(), nil
}

// LookupPrice returns the plan price for a cycle.
func (c *Catalog) LookupPrice(p Plan, cycle Cycle) (Money, error) {
	def, ok := c.plans[p]
	if !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnknownPlan, string(p))
	}
	if !cycle.Valid() {
		return Money{}, fmt.Errorf("%w: %q", ErrUnknownCycle, string(cycle))
	}
	return Money{Amount: def.Prices[cycle], Currency: c.currency}, nil
}

// Features returns the feature set of a plan. Panics on unknown plans.
func (c *Catalog) Features(p Plan) FeatureSet {
	fs, err := c.LookupFeatures(p)
	if err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	return fs
}

// Price returns the price of a plan for a billing cycle. Panics on unknown
// plans or cycles.
func (c *Catalog) Price(p Plan, cycle Cycle) Money {
	m, err := c.LookupPrice(p, cycle)
	if err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	return m
}

// MinimumPlan returns the lowest plan that grants the feature.
func (c *Catalog) MinimumPlan(f Feature) (Plan, bool) {
	p, ok := c.minimum[f]
	return p, ok
}

// RecommendedPlan returns the lowest plan above current that grants the
// feature with a larger limit than current has. Returns false when no
// higher plan improves on the current one.
func (c *Catalog) RecommendedPlan(f Feature, current Plan) (Plan, bool) {
	currentLevel := -1
	currentLimit := int64(0)
	if def, ok := c.plans[current]; ok {
		currentLevel = current.Level()
		currentLimit = def.Features.Limit(f)
	}
	if currentLimit == Unlimited {
		return "", false
	}
	for _, p := range Plans() {
		if p.Level() <= currentLevel {
			continue
		}
		limit := c.plans[p].Features.Limit(f)
		if limit == Unlimited || limit > currentLimit {
			return p, true
		}
	}
	return "", false
}

func validateDefinition(def Definition) error {
	if err := ValidateCurrency(def.Currency); err != nil {
		return errors.Join(ErrInvalidCatalog, err)
	}

	seen := make(map[Plan]bool, len(def.Plans))
	for _, p := range def.Plans {
		if !p.Plan.Valid() {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("%w: %q", ErrUnknownPlan, string(p.Plan)))
		}
		if seen[p.Plan] {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s defined twice", p.Plan))
		}
		seen[p.Plan] = true

		for _, cycle := range Cycles() {
			price, ok := p.Prices[cycle]
			if !ok && p.Plan.IsPaid() {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s has no %s price", p.Plan, cycle))
			}
			if price < 0 {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s has negative %s price", p.Plan, cycle))
			}
			if p.Plan == PlanFree && price != 0 {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("free plan must cost nothing, got %d %s", price, cycle))
			}
		}
		for cycle := range p.Prices {
			if !cycle.Valid() {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s: %w: %q", p.Plan, ErrUnknownCycle, string(cycle)))
			}
		}

		for f := range p.Features.Flags {
			if f.Kind() != KindFlag {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s: %w: %q is not a flag", p.Plan, ErrUnknownFeature, string(f)))
			}
		}
		for f, limit := range p.Features.Quotas {
			if f.Kind() != KindQuota {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s: %w: %q is not a quota", p.Plan, ErrUnknownFeature, string(f)))
			}
			if limit < Unlimited {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s: quota %s must be -1 or non-negative, got %d", p.Plan, f, limit))
			}
		}
	}

	for _, p := range Plans() {
		if !seen[p] {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %s is missing", p))
		}
	}
	return nil
}
