// Package mongo stores subscriptions in MongoDB.
//
// SubscriptionStore keeps one document per user, unique on user_id.
// Update replaces the document only while its version matches, and
// IncrementUsage applies the quota check and the counter increment in a
// single findAndModify, so concurrent consumers never overshoot a limit.
//
//	store, client, err := mongo.NewSubscriptionStoreFromConfig(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(context.Background())
//	manager := lifecycle.New(store, cat, gw)
//
// Healthcheck returns a check for readiness endpoints.
package mongo
