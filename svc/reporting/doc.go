// Package reporting computes revenue and subscriber analytics over stored
// subscriptions and exports them to the report archive.
//
// Reports are read-only: subscriptions are settled on a copy at the end of
// the range, so an expired period counts as inactive even before a sweep
// has persisted it.
//
//	r := reporting.New(store, catalog.Default())
//	rep, err := r.GetAnalytics(ctx, start, end)
//	if err != nil {
//		return err
//	}
//	obj, err := r.Export(ctx, rep, archive)
package reporting
