// Package gamification delivers point awards to the gamification service.
//
// Two transports are available. HTTPClient posts each award as JSON, signed
// with HMAC-SHA256 over "timestamp.body" when a secret is configured, and
// retries temporary failures with exponential backoff behind a circuit
// breaker. Publisher puts awards on a RabbitMQ topic exchange as persistent
// messages. Noop only logs.
//
//	awarder, err := gamification.New(cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer awarder.Close()
//	manager := lifecycle.New(store, cat, gw, lifecycle.WithAwarder(awarder))
//
// Every award carries a unique ID, sent as the X-Trailpost-Award-ID header
// or the AMQP message ID, so the consumer can drop redelivered awards.
package gamification
