package catalog_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/catalog"
)

func TestDefault_Prices(t *testing.T) {
	t.Parallel()

	cat := catalog.Default()

	t.Run("all prices are non-negative", func(t *testing.T) {
		t.Parallel()
		for _, p := range catalog.Plans() {
			for _, c := range catalog.Cycles() {
				assert.GreaterOrEqual(t, cat.Price(p, c).Amount, int64(0), "%s/%s", p, c)
			}
		}
	})

	t.Run("free plan costs nothing", func(t *testing.T) {
		t.Parallel()
		for _, c := range catalog.Cycles() {
			assert.True(t, cat.Price(catalog.PlanFree, c).IsZero())
		}
	})

	t.Run("known prices", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, catalog.Money{Amount: 999, Currency: "USD"}, cat.Price(catalog.PlanBasic, catalog.CycleMonthly))
		assert.Equal(t, catalog.Money{Amount: 2999, Currency: "USD"}, cat.Price(catalog.PlanPremium, catalog.CycleMonthly))
		assert.Equal(t, int64(99999), cat.Price(catalog.PlanEnterprise, catalog.CycleYearly).Amount)
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		for _, p := range catalog.Plans() {
			assert.Equal(t, cat.Price(p, catalog.CycleYearly), cat.Price(p, catalog.CycleYearly))
			assert.Equal(t, cat.Features(p), cat.Features(p))
		}
	})
}

func TestCatalog_Features(t *testing.T) {
	t.Parallel()

	cat := catalog.Default()

	t.Run("free quotas", func(t *testing.T) {
		t.Parallel()
		fs := cat.Features(catalog.PlanFree)
		assert.Equal(t, int64(5), fs.Limit(catalog.FeatureBlogs))
		assert.Equal(t, int64(0), fs.Limit(catalog.FeatureVideos))
		assert.False(t, fs.Allows(catalog.FeatureAPIAccess))
	})

	t.Run("enterprise is unlimited", func(t *testing.T) {
		t.Parallel()
		fs := cat.Features(catalog.PlanEnterprise)
		for _, f := range catalog.Features() {
			assert.Equal(t, catalog.Unlimited, fs.Limit(f), f.String())
		}
	})

	t.Run("returned sets are copies", func(t *testing.T) {
		t.Parallel()
		fs := cat.Features(catalog.PlanBasic)
		fs.Quotas[catalog.FeatureBlogs] = 1_000_000
		assert.Equal(t, int64(25), cat.Features(catalog.PlanBasic).Limit(catalog.FeatureBlogs))
	})
}

func TestCatalog_UnknownValues(t *testing.T) {
	t.Parallel()

	cat := catalog.Default()

	assert.Panics(t, func() { cat.Features(catalog.Plan("gold")) })
	assert.Panics(t, func() { cat.Price(catalog.Plan("gold"), catalog.CycleMonthly) })
	assert.Panics(t, func() { cat.Price(catalog.PlanBasic, catalog.Cycle("weekly")) })
	assert.Panics(t, func() { catalog.Plan("gold").Level() })

	_, err := cat.LookupFeatures("gold")
	assert.ErrorIs(t, err, catalog.ErrUnknownPlan)
	_, err = cat.LookupPrice(catalog.PlanBasic, "weekly")
	assert.ErrorIs(t, err, catalog.ErrUnknownCycle)
}

func TestCatalog_RecommendedPlan(t *testing.T) {
	t.Parallel()

	cat := catalog.Default()

	tests := []struct {
		name    string
		feature catalog.Feature
		current catalog.Plan
		want    catalog.Plan
		ok      bool
	}{
		{"videos from free", catalog.FeatureVideos, catalog.PlanFree, catalog.PlanBasic, true},
		{"analytics from free", catalog.FeatureAdvancedAnalytics, catalog.PlanFree, catalog.PlanPremium, true},
		{"api from basic", catalog.FeatureAPIAccess, catalog.PlanBasic, catalog.PlanEnterprise, true},
		{"more blogs from premium", catalog.FeatureBlogs, catalog.PlanPremium, catalog.PlanEnterprise, true},
		{"nothing above enterprise", catalog.FeatureBlogs, catalog.PlanEnterprise, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := cat.RecommendedPlan(tt.feature, tt.current)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	minPlan, ok := cat.MinimumPlan(catalog.FeatureCustomDomain)
	require.True(t, ok)
	assert.Equal(t, catalog.PlanEnterprise, minPlan)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	t.Run("missing plan", func(t *testing.T) {
		t.Parallel()
		def := catalog.DefaultDefinition()
		def.Plans = def.Plans[:3]
		_, err := catalog.New(def)
		assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
	})

	t.Run("paid free plan", func(t *testing.T) {
		t.Parallel()
		def := catalog.DefaultDefinition()
		def.Plans[0].Prices[catalog.CycleMonthly] = 100
		_, err := catalog.New(def)
		assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
	})

	t.Run("negative price", func(t *testing.T) {
		t.Parallel()
		def := catalog.DefaultDefinition()
		def.Plans[1].Prices[catalog.CycleYearly] = -1
		_, err := catalog.New(def)
		assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
	})

	t.Run("bad currency", func(t *testing.T) {
		t.Parallel()
		def := catalog.DefaultDefinition()
		def.Currency = "XYZW"
		_, err := catalog.New(def)
		assert.ErrorIs(t, err, catalog.ErrInvalidCurrency)
	})

	t.Run("flag used as quota", func(t *testing.T) {
		t.Parallel()
		def := catalog.DefaultDefinition()
		def.Plans[2].Features.Quotas[catalog.FeatureAPIAccess] = 3
		_, err := catalog.New(def)
		assert.ErrorIs(t, err, catalog.ErrUnknownFeature)
	})

	t.Run("catalog does not alias the definition", func(t *testing.T) {
		t.Parallel()
		def := catalog.DefaultDefinition()
		cat, err := catalog.New(def)
		require.NoError(t, err)
		def.Plans[1].Prices[catalog.CycleMonthly] = 1
		assert.Equal(t, int64(999), cat.Price(catalog.PlanBasic, catalog.CycleMonthly).Amount)
	})
}

func TestLoad_YAMLSource(t *testing.T) {
	t.Parallel()

	const plans = `
currency: EUR
plans:
  - plan: free
    name: Free
    prices: {monthly: 0, yearly: 0}
    features:
      quotas: {blogs: 1}
  - plan: basic
    prices: {monthly: 500, yearly: 5000}
    features:
      quotas: {blogs: 10, photos: 100}
  - plan: premium
    prices: {monthly: 1500, yearly: 15000}
    features:
      quotas: {blogs: -1}
      flags: {advanced_analytics: true}
  - plan: enterprise
    prices: {monthly: 5000, yearly: 50000}
    features:
      quotas: {blogs: -1, photos: -1}
      flags: {advanced_analytics: true, api_access: true}
`
	fsys := fstest.MapFS{
		"plans.yaml":  &fstest.MapFile{Data: []byte(plans)},
		"broken.yaml": &fstest.MapFile{Data: []byte("currency: EUR\nunknown: 1\n")},
	}

	t.Run("loads", func(t *testing.T) {
		t.Parallel()
		cat, err := catalog.Load(context.Background(), catalog.NewYAMLSource(fsys, "plans.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "EUR", cat.Currency())
		assert.Equal(t, int64(1), cat.Features(catalog.PlanFree).Limit(catalog.FeatureBlogs))
		assert.Equal(t, catalog.Money{Amount: 1500, Currency: "EUR"}, cat.Price(catalog.PlanPremium, catalog.CycleMonthly))
		assert.True(t, cat.Features(catalog.PlanEnterprise).Allows(catalog.FeatureAPIAccess))
	})

	t.Run("unknown keys", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.Load(context.Background(), catalog.NewYAMLSource(fsys, "broken.yaml"))
		assert.ErrorIs(t, err, catalog.ErrFailedToLoadCatalog)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.Load(context.Background(), catalog.NewYAMLSource(fsys, "nope.yaml"))
		assert.ErrorIs(t, err, catalog.ErrFailedToLoadCatalog)
	})

	t.Run("in-memory source", func(t *testing.T) {
		t.Parallel()
		cat, err := catalog.Load(context.Background(), catalog.NewInMemSource(catalog.DefaultDefinition()))
		require.NoError(t, err)
		assert.Equal(t, "USD", cat.Currency())
	})
}

func TestComparePlans(t *testing.T) {
	t.Parallel()

	cat := catalog.Default()

	cmp, err := cat.ComparePlans(catalog.PlanPremium, catalog.PlanBasic)
	require.NoError(t, err)
	assert.True(t, cmp.HasDecreases())
	assert.Contains(t, cmp.LostFeatures, catalog.FeatureAdvancedAnalytics)
	assert.Equal(t, catalog.LimitChange{From: 100, To: 25}, cmp.DecreasedLimits[catalog.FeatureBlogs])
	assert.Equal(t, catalog.LimitChange{From: catalog.Unlimited, To: 20}, cmp.DecreasedLimits[catalog.FeatureTrips])

	up, err := cat.ComparePlans(catalog.PlanFree, catalog.PlanBasic)
	require.NoError(t, err)
	assert.False(t, up.HasDecreases())
	assert.Contains(t, up.NewFeatures, catalog.FeatureVideos)
	assert.Equal(t, catalog.LimitChange{From: 5, To: 25}, up.IncreasedLimits[catalog.FeatureBlogs])

	_, err = cat.ComparePlans("gold", catalog.PlanBasic)
	assert.ErrorIs(t, err, catalog.ErrUnknownPlan)
}

func TestMoney(t *testing.T) {
	t.Parallel()

	m := catalog.Money{Amount: 999, Currency: "USD"}
	assert.Equal(t, "9.99 USD", m.String())
	assert.Equal(t, "9.99", m.Decimal().String())

	sum, err := m.Add(catalog.Money{Amount: 1, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sum.Amount)

	_, err = m.Add(catalog.Money{Amount: 1, Currency: "EUR"})
	assert.ErrorIs(t, err, catalog.ErrCurrencyMismatch)

	jpy := catalog.Money{Amount: 500, Currency: "JPY"}
	assert.Equal(t, "500 JPY", jpy.String())
}
