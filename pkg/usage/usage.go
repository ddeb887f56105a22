package usage

import (
	"time"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/subscription"
)

// Result describes a counter after a successful consume.
type Result struct {
	Feature   string    `json:"feature"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	ResetDate time.Time `json:"reset_date"`
}

// CanUse reports whether requested more units of key fit in the
// subscription's limit. Unlimited always fits; a zero limit never does.
func CanUse(s *subscription.Subscription, key string, requested int64) bool {
	limit := s.LimitOf(key)
	switch {
	case limit == catalog.Unlimited:
		return true
	case limit <= 0:
		return false
	default:
		return s.UsageOf(key)+requested <= limit
	}
}

// Remaining returns the units left for key, or catalog.Unlimited.
func Remaining(s *subscription.Subscription, key string) int64 {
	limit := s.LimitOf(key)
	if limit == catalog.Unlimited {
		return catalog.Unlimited
	}
	return max(limit-s.UsageOf(key), 0)
}

// ResultOf builds a Result from the subscription's current counters.
func ResultOf(s *subscription.Subscription, key string) Result {
	limit := s.LimitOf(key)
	return Result{
		Feature:   key,
		Used:      s.UsageOf(key),
		Limit:     limit,
		Remaining: Remaining(s, key),
		Unlimited: limit == catalog.Unlimited,
		ResetDate: s.Limits.ResetDate,
	}
}
