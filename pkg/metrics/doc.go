// Package metrics defines the Prometheus collectors of the billing engine:
// lifecycle operation counts and latencies, gateway charge outcomes,
// entitlement decisions, sweep throughput, webhook reconciliation and
// gamification awards.
//
// Collectors are registered on a caller-supplied registry, so tests and
// multiple engines in one process never collide on the global registry:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	mgr := lifecycle.New(store, cat, gw, lifecycle.WithMetrics(m))
//	router.Handle("/metrics", metrics.Handler(reg))
//
// All methods accept a nil receiver, which records nothing.
package metrics
