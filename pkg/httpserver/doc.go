// Package httpserver runs the billing HTTP endpoints with graceful shutdown
// and provides liveness and readiness handlers.
//
//	srv := httpserver.New(cfg, logger)
//	err := srv.Run(ctx, router) // returns after ctx is done and requests drained
//
// HealthHandler with no checks answers liveness checks; with checks it runs
// each dependency check (database, Redis) and answers 503 naming the ones
// that fail.
package httpserver
