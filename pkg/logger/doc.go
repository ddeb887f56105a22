// Package logger builds the slog loggers used across the billing engine and
// provides attribute helpers so keys stay consistent: UserID, Plan, Status,
// Feature, Transaction, Amount and friends.
//
// New creates a logger from functional options; FromConfig does the same from
// environment configuration loaded with pkg/config:
//
//	cfg, err := config.Load[logger.Config]()
//	if err != nil {
//		return err
//	}
//	log, err := logger.FromConfig(cfg)
//	if err != nil {
//		return err
//	}
//	logger.SetAsDefault(log)
//
// The handler is wrapped by LogHandlerDecorator, which adds attributes taken
// from the record's context. The operation set with WithOperation is always
// included, so every line logged while upgrading a subscription carries
// operation=upgrade without threading it through each call:
//
//	ctx = logger.WithOperation(ctx, "upgrade")
//	log.InfoContext(ctx, "payment captured", logger.UserID(id), logger.Plan(plan))
//
// Helpers given empty values return an empty slog.Attr, which slog drops, so
// logger.Error(err) needs no nil check.
package logger
