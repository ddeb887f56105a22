// Package pg stores subscriptions in PostgreSQL.
//
// Connect opens a pgx pool with retries and Migrate applies the embedded
// goose migrations. SubscriptionStore keeps the subscription as a JSONB
// document plus the columns sweeps and reports filter on. Updates are
// conditional on the version column, and IncrementUsage checks the quota and
// increments the counter in one UPDATE ... RETURNING.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, cfg, logger); err != nil {
//		return err
//	}
//	store := pg.NewSubscriptionStore(pool)
package pg
