// Package redis connects to Redis and provides a distributed Locker that
// serialises writers of one subscription across billing processes.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	manager := lifecycle.New(store, cat, gw,
//		lifecycle.WithLocker(redis.NewLocker(client, cfg)),
//	)
//
// Locks are SET NX PX keys holding a random token. Release runs a Lua script
// that deletes the key only while it still holds the token. Healthcheck
// returns a check for readiness endpoints.
package redis
