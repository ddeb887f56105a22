// Package catalog defines the plan catalog of the subscription engine: the
// closed sets of plans, billing cycles and features, the feature set each plan
// grants and the price of each plan per cycle.
//
// A Catalog is built once from a Definition, validated and then treated as
// immutable. Every accessor returns copies, so subscriptions can snapshot a
// plan's features at activation time without sharing state with the catalog.
//
// # Usage
//
//	cat, err := catalog.Load(ctx, catalog.NewYAMLSource(os.DirFS("/etc/billing"), "plans.yaml"))
//	if err != nil {
//		return err
//	}
//
//	price := cat.Price(catalog.PlanPremium, catalog.CycleMonthly) // 29.99 USD
//	limit := cat.Features(catalog.PlanFree).Limit(catalog.FeatureBlogs) // 5
//
// Features, Price, Plan.Level and the other non-Lookup accessors panic on
// values outside the closed sets. Validate user input first, or use the
// LookupFeatures and LookupPrice variants which return ErrUnknownPlan and
// ErrUnknownCycle.
//
// Quotas use Unlimited (-1) for no bound. A missing or zero quota disallows the
// feature entirely.
//
// Amounts are Money values in the currency's minor unit. Conversions to and
// from major units go through shopspring/decimal and round half away from zero.
package catalog
