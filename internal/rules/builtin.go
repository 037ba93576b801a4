package rules

import "github.com/opensource-finance/blockaid/internal/domain"

func limit(v float64) *float64 { return &v }

// DefaultRules is the escalation rule set seeded into an empty rule store.
// Scores are kept in [0,1] so that the weighted aggregate compares directly
// against the alert threshold.
func DefaultRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "severe-assessment",
			Name:        "Severe assessment",
			Description: "HIGH severity backed by a confident assessment",
			Version:     "1.0.0",
			Expression:  `severity_level == "HIGH" && confidence >= 0.75`,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(1), Outcome: domain.RuleOutcomePass},
				{LowerLimit: limit(1), Outcome: domain.RuleOutcomeFail, Reason: "high severity with strong confidence"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "report-surge",
			Name:        "Report surge",
			Description: "Repeated reports from the same location inside the velocity window",
			Version:     "1.0.0",
			Expression:  `location_velocity >= 5`,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(1), Outcome: domain.RuleOutcomePass},
				{LowerLimit: limit(1), Outcome: domain.RuleOutcomeReview, Reason: "surge of reports at one location"},
			},
			Weight:  0.5,
			Enabled: true,
		},
		{
			ID:          "population-exposure",
			Name:        "Population exposure",
			Description: "Share of the population scale that is affected",
			Version:     "1.0.0",
			Expression:  `population_score / 100.0`,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(0.6), Outcome: domain.RuleOutcomePass},
				{LowerLimit: limit(0.6), Outcome: domain.RuleOutcomeReview, Reason: "large population exposed"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "flood-water-rise",
			Name:        "Flood water rise",
			Description: "Flood reports with a water level near the top of the scale",
			Version:     "1.0.0",
			Expression:  `disaster_type == "flood" && water_level_score >= 80.0`,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(1), Outcome: domain.RuleOutcomePass},
				{LowerLimit: limit(1), Outcome: domain.RuleOutcomeFail, Reason: "flood water level critical"},
			},
			Weight:  1.0,
			Enabled: true,
		},
	}
}
