package catalog

import "fmt"

// Plan is a named subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

var planLevels = map[Plan]int{
	PlanFree:       0,
	PlanBasic:      1,
	PlanPremium:    2,
	PlanEnterprise: 3,
}

// Plans returns every known plan ordered by level, lowest first.
func Plans() []Plan {
	return []Plan{PlanFree, PlanBasic, PlanPremium, PlanEnterprise}
}

// Valid reports whether p is one of the known plans.
func (p Plan) Valid() bool {
	_, ok := planLevels[p]
	return ok
}

// IsPaid reports whether the plan is a known plan that requires payment.
func (p Plan) IsPaid() bool {
	return p.Valid() && p != PlanFree
}

// Level returns the position of the plan in the upgrade order.
// Panics on unknown plans: callers validate user input first, so reaching
// here with an unknown plan is a programming error.
func (p Plan) Level() int {
	level, ok := planLevels[p]
	if !ok {
		panic(fmt.Sprintf("catalog: unknown plan %q", string(p)))
	}
	return level
}

func (p Plan) String() string {
	return string(p)
}

// Cycle is the recurring billing period.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
)

// Cycles returns all supported billing cycles.
func Cycles() []Cycle {
	return []Cycle{CycleMonthly, CycleYearly}
}

// Valid reports whether c is a supported billing cycle.
func (c Cycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

func (c Cycle) String() string {
	return string(c)
}

// Unlimited marks a quota without an upper bound.
const Unlimited int64 = -1

// Feature is a capability gated by the subscription plan.
type Feature string

// Quota features are counted; flag features are either on or off.
const (
	FeatureBlogs      Feature = "blogs"
	FeaturePhotos     Feature = "photos"
	FeaturePhotos360  Feature = "photos360"
	FeatureVideos     Feature = "videos"
	FeatureTrips      Feature = "trips"
	FeatureForumPosts Feature = "forum_posts"

	FeatureAdvancedAnalytics Feature = "advanced_analytics"
	FeatureAPIAccess         Feature = "api_access"
	FeatureCustomDomain      Feature = "custom_domain"
	FeaturePrioritySupport   Feature = "priority_support"
	FeatureAdFree            Feature = "ad_free"
)

// FeatureKind distinguishes counted quotas from boolean flags.
type FeatureKind int

const (
	KindQuota FeatureKind = iota + 1
	KindFlag
)

func (k FeatureKind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindFlag:
		return "flag"
	default:
		return "unknown"
	}
}

// featureKinds is the closed mapping from feature to the limit it is
// enforced by. Anything not listed here is not a catalog feature.
var featureKinds = map[Feature]FeatureKind{
	FeatureBlogs:      KindQuota,
	FeaturePhotos:     KindQuota,
	FeaturePhotos360:  KindQuota,
	FeatureVideos:     KindQuota,
	FeatureTrips:      KindQuota,
	FeatureForumPosts: KindQuota,

	FeatureAdvancedAnalytics: KindFlag,
	FeatureAPIAccess:         KindFlag,
	FeatureCustomDomain:      KindFlag,
	FeaturePrioritySupport:   KindFlag,
	FeatureAdFree:            KindFlag,
}

// Features returns all catalog features, quotas first.
func Features() []Feature {
	return []Feature{
		FeatureBlogs, FeaturePhotos, FeaturePhotos360, FeatureVideos, FeatureTrips, FeatureForumPosts,
		FeatureAdvancedAnalytics, FeatureAPIAccess, FeatureCustomDomain, FeaturePrioritySupport, FeatureAdFree,
	}
}

// Known reports whether f is a catalog feature.
func (f Feature) Known() bool {
	_, ok := featureKinds[f]
	return ok
}

// Kind returns the feature kind, or 0 for features outside the catalog.
func (f Feature) Kind() FeatureKind {
	return featureKinds[f]
}

func (f Feature) String() string {
	return string(f)
}
