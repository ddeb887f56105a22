package subscription

import (
	"context"
	"time"

	"github.com/trailpost/billing/pkg/catalog"
)

// Store persists subscriptions, one per user.
type Store interface {
	// Get returns the user's subscription or ErrSubscriptionNotFound.
	Get(ctx context.Context, userID string) (*Subscription, error)

	// Insert stores a new subscription and sets its Version to 1.
	// Returns ErrAlreadyExists when the user already has one.
	Insert(ctx context.Context, s *Subscription) error

	// Update replaces the stored subscription if its version still equals
	// s.Version, then increments s.Version. Returns ErrVersionConflict when
	// the record changed in between.
	Update(ctx context.Context, s *Subscription) error

	// IncrementUsage atomically adds inc.Delta to the counter inc.Key if the
	// subscription is still on inc.Plan, is active or trial, and the result
	// stays within inc.Limit (unless unlimited). Returns the updated
	// subscription, or ErrUsageGuard when the condition did not hold.
	IncrementUsage(ctx context.Context, inc UsageIncrement) (*Subscription, error)
}

// Lister enumerates stored subscriptions for sweeps and reporting.
type Lister interface {
	List(ctx context.Context, f Filter) ([]*Subscription, error)
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Statuses []Status
	Plans    []catalog.Plan
	// DueBefore matches subscriptions whose DueAt is at or before it.
	DueBefore time.Time
}

// UsageIncrement is a guarded counter update. Stores apply it only while
// the stored plan, status and limit for Key still match and the new counter
// stays within Limit.
type UsageIncrement struct {
	UserID string
	Key    string
	Delta  int64
	// Limit is the limit the caller decided against.
	Limit int64
	Plan  catalog.Plan
	Now   time.Time
}

// LimitPath returns the document path that holds the limit for Key.
func (inc UsageIncrement) LimitPath() []string {
	f := catalog.Feature(inc.Key)
	switch {
	case f.Kind() == catalog.KindFlag:
		return []string{"features", "flags", inc.Key}
	case f.Known():
		return []string{"features", "quotas", inc.Key}
	default:
		return []string{"limits", "custom_limits", inc.Key}
	}
}

// LimitValue returns the value stored at LimitPath when Limit applies.
func (inc UsageIncrement) LimitValue() any {
	if catalog.Feature(inc.Key).Kind() == catalog.KindFlag {
		return inc.Limit == catalog.Unlimited
	}
	return inc.Limit
}

// Locker serialises writers of one subscription, across processes when the
// implementation is distributed.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases the lock.
	Lock(ctx context.Context, key string) (func(), error)
}
