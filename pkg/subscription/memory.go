package subscription

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/trailpost/billing/pkg/catalog"
)

// MemoryStore is an in-process Store and Lister for tests and single-node use.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return s.Clone(), nil
}

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[s.UserID]; ok {
		return ErrAlreadyExists
	}
	s.Version = 1
	m.subs[s.UserID] = s.Clone()
	return nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.subs[s.UserID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.subs[s.UserID] = s.Clone()
	return nil
}

// IncrementUsage implements Store.
func (m *MemoryStore) IncrementUsage(ctx context.Context, inc UsageIncrement) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.subs[inc.UserID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	if stored.Plan != inc.Plan || (stored.Status != StatusActive && stored.Status != StatusTrial) {
		return nil, ErrUsageGuard
	}
	if stored.LimitOf(inc.Key) != inc.Limit {
		return nil, ErrUsageGuard
	}
	used := stored.Limits.Usage[inc.Key]
	if inc.Limit != catalog.Unlimited && used+inc.Delta > inc.Limit {
		return nil, ErrUsageGuard
	}

	next := stored.Clone()
	next.Limits.Usage[inc.Key] = used + inc.Delta
	next.Version++
	next.UpdatedAt = inc.Now.UTC()
	m.subs[inc.UserID] = next
	return next.Clone(), nil
}

// List implements Lister. Results are ordered by UserID.
func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if f.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Matches reports whether s passes the filter.
func (f Filter) Matches(s *Subscription) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if len(f.Plans) > 0 && !slices.Contains(f.Plans, s.Plan) {
		return false
	}
	if !f.DueBefore.IsZero() && (s.DueAt == nil || s.DueAt.After(f.DueBefore)) {
		return false
	}
	return true
}

// MemoryLocker is a per-key mutex for a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

// Lock implements Locker.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
