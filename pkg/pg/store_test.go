package pg_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/pg"
	"github.com/trailpost/billing/pkg/subscription"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

// fakeDB answers queries by their leading keyword.
type fakeDB struct {
	execTag  string
	execErr  error
	rows     map[string]fakeRow
	lastSQL  string
	lastArgs []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastSQL, f.lastArgs = sql, args
	return pgconn.NewCommandTag(f.execTag), f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if strings.HasPrefix(strings.TrimSpace(sql), "UPDATE") {
		f.lastSQL, f.lastArgs = sql, args
	}
	for prefix, row := range f.rows {
		if strings.HasPrefix(strings.TrimSpace(sql), prefix) {
			return row
		}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func docRow(t *testing.T, s *subscription.Subscription, version int64) fakeRow {
	t.Helper()
	doc, err := json.Marshal(s)
	require.NoError(t, err)
	return fakeRow{values: []any{version, now, doc}}
}

func TestSubscriptionStore(t *testing.T) {
	t.Parallel()

	sub := subscription.NewFree("user-1", catalog.Default().Features(catalog.PlanFree), now)

	t.Run("get decodes the document", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: map[string]fakeRow{"SELECT version": docRow(t, sub, 7)}}
		got, err := pg.NewSubscriptionStore(db).Get(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.Version)
		assert.Equal(t, catalog.PlanFree, got.Plan)
		assert.NotNil(t, got.Limits.Usage)
	})

	t.Run("get maps missing rows", func(t *testing.T) {
		t.Parallel()
		_, err := pg.NewSubscriptionStore(&fakeDB{}).Get(context.Background(), "nobody")
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("insert", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{execTag: "INSERT 0 1"}
		s := sub.Clone()
		require.NoError(t, pg.NewSubscriptionStore(db).Insert(context.Background(), s))
		assert.Equal(t, int64(1), s.Version)
		assert.Equal(t, "user-1", db.lastArgs[0])

		db = &fakeDB{execTag: "INSERT 0 0"}
		assert.ErrorIs(t, pg.NewSubscriptionStore(db).Insert(context.Background(), sub.Clone()), subscription.ErrAlreadyExists)

		db = &fakeDB{execErr: &pgconn.PgError{Code: "23505"}}
		assert.ErrorIs(t, pg.NewSubscriptionStore(db).Insert(context.Background(), sub.Clone()), subscription.ErrAlreadyExists)
	})

	t.Run("update checks the version", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{execTag: "UPDATE 1"}
		s := sub.Clone()
		s.Version = 3
		require.NoError(t, pg.NewSubscriptionStore(db).Update(context.Background(), s))
		assert.Equal(t, int64(4), s.Version)
		assert.Equal(t, int64(3), db.lastArgs[1])

		db = &fakeDB{execTag: "UPDATE 0", rows: map[string]fakeRow{"SELECT EXISTS": {values: []any{true}}}}
		assert.ErrorIs(t, pg.NewSubscriptionStore(db).Update(context.Background(), s), subscription.ErrVersionConflict)

		db = &fakeDB{execTag: "UPDATE 0", rows: map[string]fakeRow{"SELECT EXISTS": {values: []any{false}}}}
		assert.ErrorIs(t, pg.NewSubscriptionStore(db).Update(context.Background(), s), subscription.ErrSubscriptionNotFound)
	})

	t.Run("increment usage", func(t *testing.T) {
		t.Parallel()
		inc := subscription.UsageIncrement{UserID: "user-1", Key: "photo_uploads", Delta: 1, Limit: 5, Plan: catalog.PlanFree, Now: now}

		bumped := sub.Clone()
		bumped.Limits.Usage["photo_uploads"] = 1
		db := &fakeDB{rows: map[string]fakeRow{"UPDATE subscriptions": docRow(t, bumped, 2)}}
		got, err := pg.NewSubscriptionStore(db).IncrementUsage(context.Background(), inc)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.UsageOf("photo_uploads"))
		assert.Equal(t, int64(2), got.Version)
		require.Len(t, db.lastArgs, 8)
		assert.Equal(t, []string{"limits", "custom_limits", "photo_uploads"}, db.lastArgs[6])
		assert.Equal(t, "5", db.lastArgs[7])
		assert.Contains(t, db.lastSQL, "doc #> $7::text[] = $8::jsonb")

		inc.Key = "api_access"
		inc.Limit = catalog.Unlimited
		_, err = pg.NewSubscriptionStore(db).IncrementUsage(context.Background(), inc)
		require.NoError(t, err)
		assert.Equal(t, []string{"features", "flags", "api_access"}, db.lastArgs[6])
		assert.Equal(t, "true", db.lastArgs[7])
		inc.Key, inc.Limit = "photo_uploads", 5

		db = &fakeDB{rows: map[string]fakeRow{"SELECT EXISTS": {values: []any{true}}}}
		_, err = pg.NewSubscriptionStore(db).IncrementUsage(context.Background(), inc)
		assert.ErrorIs(t, err, subscription.ErrUsageGuard)
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: map[string]fakeRow{"SELECT version": {err: errors.New("conn reset")}}}
		_, err := pg.NewSubscriptionStore(db).Get(context.Background(), "user-1")
		assert.ErrorIs(t, err, pg.ErrQueryFailed)
	})
}

// TestSubscriptionStore_Postgres runs against a real database when
// PG_TEST_URL is set.
func TestHealthcheck(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execTag: "SELECT 1"}
	require.NoError(t, pg.Healthcheck(db)(context.Background()))
	assert.Contains(t, db.lastSQL, "FROM subscriptions")

	missing := errors.New(`relation "subscriptions" does not exist`)
	err := pg.Healthcheck(&fakeDB{execErr: missing})(context.Background())
	assert.ErrorIs(t, err, pg.ErrUnhealthy)
	assert.ErrorIs(t, err, missing)
}

func TestSubscriptionStore_Postgres(t *testing.T) {
	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL not set")
	}
	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		MigrationsTable:  "billing_schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, pg.Migrate(ctx, pool, cfg, slog.Default()))
	_, err = pool.Exec(ctx, "DELETE FROM subscriptions")
	require.NoError(t, err)

	store := pg.NewSubscriptionStore(pool)
	s := subscription.NewFree("user-pg", catalog.Default().Features(catalog.PlanFree), now)
	require.NoError(t, store.Insert(ctx, s))
	assert.ErrorIs(t, store.Insert(ctx, s.Clone()), subscription.ErrAlreadyExists)

	limit := s.LimitOf(string(catalog.FeaturePhotos))
	for range limit {
		_, err := store.IncrementUsage(ctx, subscription.UsageIncrement{
			UserID: "user-pg", Key: string(catalog.FeaturePhotos), Delta: 1, Limit: limit, Plan: catalog.PlanFree, Now: now,
		})
		require.NoError(t, err)
	}
	_, err = store.IncrementUsage(ctx, subscription.UsageIncrement{
		UserID: "user-pg", Key: string(catalog.FeaturePhotos), Delta: 1, Limit: limit, Plan: catalog.PlanFree, Now: now,
	})
	assert.ErrorIs(t, err, subscription.ErrUsageGuard)

	got, err := store.Get(ctx, "user-pg")
	require.NoError(t, err)
	assert.Equal(t, limit, got.UsageOf(string(catalog.FeaturePhotos)))

	stale := got.Clone()
	got.Plan = catalog.PlanBasic
	require.NoError(t, store.Update(ctx, got))
	assert.ErrorIs(t, store.Update(ctx, stale), subscription.ErrVersionConflict)

	listed, err := store.List(ctx, subscription.Filter{Plans: []catalog.Plan{catalog.PlanBasic}})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "user-pg", listed[0].UserID)
}
