package catalog

import "maps"

// FeatureSet holds the capabilities granted by a plan.
// Quotas use Unlimited (-1) for no bound; a missing or zero quota disallows
// the feature. Flags that are absent are off.
type FeatureSet struct {
	Flags  map[Feature]bool  `json:"flags,omitempty" bson:"flags,omitempty" yaml:"flags"`
	Quotas map[Feature]int64 `json:"quotas,omitempty" bson:"quotas,omitempty" yaml:"quotas"`
}

// Limit returns the effective limit for a feature: Unlimited for enabled
// flags and unlimited quotas, the quota value for counted features, and 0
// when the feature is not granted.
func (fs FeatureSet) Limit(f Feature) int64 {
	switch f.Kind() {
	case KindFlag:
		if fs.Flags[f] {
			return Unlimited
		}
		return 0
	case KindQuota:
		limit, ok := fs.Quotas[f]
		if !ok || limit < Unlimited {
			return 0
		}
		return limit
	default:
		return 0
	}
}

// Allows reports whether the feature is granted at all.
func (fs FeatureSet) Allows(f Feature) bool {
	limit := fs.Limit(f)
	return limit == Unlimited || limit > 0
}

// Clone returns a deep copy so snapshots never share maps with the catalog.
func (fs FeatureSet) Clone() FeatureSet {
	return FeatureSet{
		Flags:  maps.Clone(fs.Flags),
		Quotas: maps.Clone(fs.Quotas),
	}
}

// Equal reports whether both sets grant the same effective limits.
func (fs FeatureSet) Equal(other FeatureSet) bool {
	for _, f := range Features() {
		if fs.Limit(f) != other.Limit(f) {
			return false
		}
	}
	return true
}
