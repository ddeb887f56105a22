package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records err under the key "error". Nil errors produce an empty Attr,
// which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups the non-nil errors under the key "errors".
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// UserID records the subscriber under the key "user_id".
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// Plan records a plan name under the key "plan".
func Plan[T ~string](plan T) slog.Attr {
	return slog.String("plan", string(plan))
}

// Status records a subscription status under the key "status".
func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

// Feature records a feature or custom limit name under the key "feature".
func Feature(name string) slog.Attr {
	return slog.String("feature", name)
}

// Operation records the engine operation under the key "operation".
func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// Transaction records the gateway transaction and idempotency key under the
// "transaction" group. Empty values are skipped.
func Transaction(id, idempotencyKey string) slog.Attr {
	as := make([]slog.Attr, 0, 2)
	if id != "" {
		as = append(as, slog.String("id", id))
	}
	if idempotencyKey != "" {
		as = append(as, slog.String("idempotency_key", idempotencyKey))
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "transaction", Value: slog.GroupValue(as...)}
}

// Amount records a minor-unit amount with its currency under "amount".
func Amount(minor int64, currency string) slog.Attr {
	return Group("amount", slog.Int64("minor", minor), slog.String("currency", currency))
}

// Reason records a decline or cancellation reason under the key "reason".
func Reason(reason string) slog.Attr {
	if reason == "" {
		return slog.Attr{}
	}
	return slog.String("reason", reason)
}

// EventType records a webhook event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// EventID records a webhook event id under the key "event_id".
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// Points records a gamification award under the key "points".
func Points(points int) slog.Attr {
	return slog.Int("points", points)
}

// Count records a processed item count under the key "count".
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Duration records d under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
