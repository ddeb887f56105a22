package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trailpost/billing/pkg/subscription"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SubscriptionStore keeps each subscription as a JSONB document next to the
// columns used for filtering. The version and updated_at columns are
// authoritative and copied into the document on read.
type SubscriptionStore struct {
	db DB
}

// Healthcheck returns a readiness check that fails until the subscriptions
// table is reachable, which also catches a database that was never migrated.
func Healthcheck(db DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, err := db.Exec(ctx, healthQuery); err != nil {
			return errors.Join(ErrUnhealthy, err)
		}
		return nil
	}
}

// NewSubscriptionStore creates a store on db. Run Migrate first.
func NewSubscriptionStore(db DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const (
	selectSubscription = `SELECT version, updated_at, doc FROM subscriptions`

	healthQuery = `SELECT 1 FROM subscriptions LIMIT 1`

	insertSubscription = `INSERT INTO subscriptions
	(user_id, id, version, plan, status, due_at, doc, created_at, updated_at)
	VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (user_id) DO NOTHING`

	updateSubscription = `UPDATE subscriptions
	SET version = version + 1, plan = $3, status = $4, due_at = $5, doc = $6, updated_at = $7
	WHERE user_id = $1 AND version = $2`

	// $2 usage key, $3 delta, $4 plan, $5 limit (-1 unlimited), $6 now.
	incrementUsage = `UPDATE subscriptions
	SET version = version + 1,
	    updated_at = $6,
	    doc = jsonb_set(doc, ARRAY['limits', 'usage', $2::text],
	        to_jsonb(COALESCE((doc->'limits'->'usage'->>$2::text)::bigint, 0) + $3::bigint), true)
	WHERE user_id = $1
	  AND plan = $4
	  AND status IN ('active', 'trial')
	  AND doc #> $7::text[] = $8::jsonb
	  AND ($5::bigint = -1 OR COALESCE((doc->'limits'->'usage'->>$2::text)::bigint, 0) + $3::bigint <= $5::bigint)
	RETURNING version, updated_at, doc`

	subscriptionExists = `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id = $1)`
)

// Get implements subscription.Store.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx, selectSubscription+` WHERE user_id = $1`, userID))
	if IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return sub, nil
}

// Insert implements subscription.Store.
func (s *SubscriptionStore) Insert(ctx context.Context, sub *subscription.Subscription) error {
	doc, err := encode(sub)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, insertSubscription,
		sub.UserID, sub.ID, sub.Plan, sub.Status, sub.DueAt, doc, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return subscription.ErrAlreadyExists
		}
		return errors.Join(ErrQueryFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrAlreadyExists
	}
	sub.Version = 1
	return nil
}

// Update implements subscription.Store.
func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	doc, err := encode(sub)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, updateSubscription,
		sub.UserID, sub.Version, sub.Plan, sub.Status, sub.DueAt, doc, sub.UpdatedAt)
	if err != nil {
		return errors.Join(ErrQueryFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, sub.UserID, subscription.ErrVersionConflict)
	}
	sub.Version++
	return nil
}

// IncrementUsage implements subscription.Store.
func (s *SubscriptionStore) IncrementUsage(ctx context.Context, inc subscription.UsageIncrement) (*subscription.Subscription, error) {
	limit, err := json.Marshal(inc.LimitValue())
	if err != nil {
		return nil, errors.Join(ErrEncodeFailed, err)
	}
	sub, err := scanSubscription(s.db.QueryRow(ctx, incrementUsage,
		inc.UserID, inc.Key, inc.Delta, inc.Plan, inc.Limit, inc.Now.UTC(), inc.LimitPath(), string(limit)))
	if IsNotFoundError(err) {
		return nil, s.missOrConflict(ctx, inc.UserID, subscription.ErrUsageGuard)
	}
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return sub, nil
}

// List implements subscription.Lister. Results are ordered by user ID.
func (s *SubscriptionStore) List(ctx context.Context, f subscription.Filter) ([]*subscription.Subscription, error) {
	query, args := listQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*subscription.Subscription, error) {
		return scanSubscription(row)
	})
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return subs, nil
}

func (s *SubscriptionStore) missOrConflict(ctx context.Context, userID string, conflict error) error {
	var exists bool
	if err := s.db.QueryRow(ctx, subscriptionExists, userID).Scan(&exists); err != nil {
		return errors.Join(ErrQueryFailed, err)
	}
	if !exists {
		return subscription.ErrSubscriptionNotFound
	}
	return conflict
}

func listQuery(f subscription.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(f.Plans) > 0 {
		plans := make([]string, len(f.Plans))
		for i, p := range f.Plans {
			plans[i] = string(p)
		}
		args = append(args, plans)
		where = append(where, fmt.Sprintf("plan = ANY($%d)", len(args)))
	}
	if !f.DueBefore.IsZero() {
		args = append(args, f.DueBefore.UTC())
		where = append(where, fmt.Sprintf("due_at <= $%d", len(args)))
	}

	query := selectSubscription
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY user_id", args
}

func encode(sub *subscription.Subscription) ([]byte, error) {
	doc, err := json.Marshal(sub)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailed, err)
	}
	return doc, nil
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		version   int64
		updatedAt time.Time
		doc       []byte
	)
	if err := row.Scan(&version, &updatedAt, &doc); err != nil {
		return nil, err
	}

	var sub subscription.Subscription
	if err := json.Unmarshal(doc, &sub); err != nil {
		return nil, errors.Join(ErrEncodeFailed, err)
	}
	sub.Version = version
	sub.UpdatedAt = updatedAt.UTC()
	if sub.Limits.Usage == nil {
		sub.Limits.Usage = make(map[string]int64)
	}
	if sub.Limits.CustomLimits == nil {
		sub.Limits.CustomLimits = make(map[string]int64)
	}
	return &sub, nil
}
