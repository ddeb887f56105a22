package catalog

// PlanComparison contains the differences between two feature sets.
type PlanComparison struct {
	// Features granted only by the target plan
	NewFeatures []Feature
	// Features the target plan no longer grants
	LostFeatures    []Feature
	IncreasedLimits map[Feature]LimitChange
	DecreasedLimits map[Feature]LimitChange
}

// LimitChange represents a change in a quota limit.
type LimitChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// HasDecreases reports whether moving to the target plan takes anything away.
func (c PlanComparison) HasDecreases() bool {
	return len(c.DecreasedLimits) > 0 || len(c.LostFeatures) > 0
}

// ComparePlans returns the differences between the current and target plans.
func (c *Catalog) ComparePlans(current, target Plan) (PlanComparison, error) {
	from, err := c.LookupFeatures(current)
	if err != nil {
		return PlanComparison{}, err
	}
	to, err := c.LookupFeatures(target)
	if err != nil {
		return PlanComparison{}, err
	}
	return CompareFeatureSets(from, to), nil
}

// CompareFeatureSets returns the differences between two feature sets over
// the closed catalog feature list.
func CompareFeatureSets(current, target FeatureSet) PlanComparison {
	cmp := PlanComparison{
		NewFeatures:     make([]Feature, 0),
		LostFeatures:    make([]Feature, 0),
		IncreasedLimits: make(map[Feature]LimitChange),
		DecreasedLimits: make(map[Feature]LimitChange),
	}

	for _, f := range Features() {
		from, to := current.Limit(f), target.Limit(f)
		if from == to {
			continue
		}

		switch {
		case from == 0:
			cmp.NewFeatures = append(cmp.NewFeatures, f)
			if f.Kind() == KindQuota {
				cmp.IncreasedLimits[f] = LimitChange{From: from, To: to}
			}
		case to == 0:
			cmp.LostFeatures = append(cmp.LostFeatures, f)
			if f.Kind() == KindQuota {
				cmp.DecreasedLimits[f] = LimitChange{From: from, To: to}
			}
		case from == Unlimited:
			// unlimited to limited is a decrease
			cmp.DecreasedLimits[f] = LimitChange{From: from, To: to}
		case to == Unlimited || to > from:
			cmp.IncreasedLimits[f] = LimitChange{From: from, To: to}
		default:
			cmp.DecreasedLimits[f] = LimitChange{From: from, To: to}
		}
	}
	return cmp
}
