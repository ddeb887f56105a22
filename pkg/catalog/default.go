package catalog

// DefaultDefinition returns the built-in plan catalog priced in USD.
func DefaultDefinition() Definition {
	return Definition{
		Currency: "USD",
		Plans: []PlanDefinition{
			{
				Plan:        PlanFree,
				Name:        "Free",
				Description: "Start a travel blog",
				Prices:      map[Cycle]int64{CycleMonthly: 0, CycleYearly: 0},
				Features: FeatureSet{
					Quotas: map[Feature]int64{
						FeatureBlogs:      5,
						FeaturePhotos:     50,
						FeatureTrips:      3,
						FeatureForumPosts: 20,
					},
				},
			},
			{
				Plan:        PlanBasic,
				Name:        "Basic",
				Description: "More stories, more photos",
				Prices:      map[Cycle]int64{CycleMonthly: 999, CycleYearly: 9999},
				Features: FeatureSet{
					Flags: map[Feature]bool{
						FeatureAdFree: true,
					},
					Quotas: map[Feature]int64{
						FeatureBlogs:      25,
						FeaturePhotos:     500,
						FeaturePhotos360:  10,
						FeatureVideos:     5,
						FeatureTrips:      20,
						FeatureForumPosts: 200,
					},
				},
			},
			{
				Plan:        PlanPremium,
				Name:        "Premium",
				Description: "For frequent travellers",
				Prices:      map[Cycle]int64{CycleMonthly: 2999, CycleYearly: 29999},
				Features: FeatureSet{
					Flags: map[Feature]bool{
						FeatureAdFree:            true,
						FeatureAdvancedAnalytics: true,
						FeaturePrioritySupport:   true,
					},
					Quotas: map[Feature]int64{
						FeatureBlogs:      100,
						FeaturePhotos:     5000,
						FeaturePhotos360:  100,
						FeatureVideos:     50,
						FeatureTrips:      Unlimited,
						FeatureForumPosts: Unlimited,
					},
				},
			},
			{
				Plan:        PlanEnterprise,
				Name:        "Enterprise",
				Description: "Agencies and publishers",
				Prices:      map[Cycle]int64{CycleMonthly: 9999, CycleYearly: 99999},
				Features: FeatureSet{
					Flags: map[Feature]bool{
						FeatureAdFree:            true,
						FeatureAdvancedAnalytics: true,
						FeaturePrioritySupport:   true,
						FeatureAPIAccess:         true,
						FeatureCustomDomain:      true,
					},
					Quotas: map[Feature]int64{
						FeatureBlogs:      Unlimited,
						FeaturePhotos:     Unlimited,
						FeaturePhotos360:  Unlimited,
						FeatureVideos:     Unlimited,
						FeatureTrips:      Unlimited,
						FeatureForumPosts: Unlimited,
					},
				},
			},
		},
	}
}
