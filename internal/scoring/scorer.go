// Package scoring fuses heterogeneous disaster signals into one severity
// assessment. Everything here is pure and safe for concurrent use.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/blockaid/internal/domain"
)

// Level thresholds. A score equal to a threshold stays in the lower band.
const (
	LowThreshold    = 40.0
	MediumThreshold = 70.0
)

// MinConfidence is the floor applied to the confidence estimate.
const MinConfidence = 0.5

const varianceScale = 2500.0

// DefaultWeights returns the production weight table.
func DefaultWeights() domain.Weights {
	return domain.Weights{
		ImageAnalysis:        0.40,
		RainfallIntensity:    0.10,
		WaterLevel:           0.10,
		PopulationAffected:   0.15,
		InfrastructureDamage: 0.15,
		ImpactArea:           0.10,
	}
}

// Scorer applies a fixed weight table. The zero value is not usable; build
// one with NewScorer or Default.
type Scorer struct {
	weights domain.Weights
}

// NewScorer validates w and returns a scorer bound to it.
func NewScorer(w domain.Weights) (*Scorer, error) {
	for _, v := range w.Values() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid weight %v", v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("weights must sum to 1, got %.6f", sum)
	}
	return &Scorer{weights: w}, nil
}

// Default returns a scorer using DefaultWeights.
func Default() *Scorer {
	return &Scorer{weights: DefaultWeights()}
}

// Weights returns a copy of the weight table.
func (s *Scorer) Weights() domain.Weights {
	return s.weights
}

// Assess scores one report. It never fails for numeric input. The level is
// classified from the total after rounding to two decimals, so the reported
// score and level always agree.
func (s *Scorer) Assess(p domain.Predictions, m domain.Measurements) domain.SeverityAssessment {
	raw := Components(p, m)

	values := raw.Values()
	weights := s.weights.Values()
	var total float64
	for i := range values {
		total += values[i] * weights[i]
	}
	total = round2(clamp(total, 0, 100))

	return domain.SeverityAssessment{
		Components: domain.ComponentScores{
			ImageAnalysis:        round2(raw.ImageAnalysis),
			RainfallIntensity:    round2(raw.RainfallIntensity),
			WaterLevel:           round2(raw.WaterLevel),
			PopulationAffected:   round2(raw.PopulationAffected),
			InfrastructureDamage: round2(raw.InfrastructureDamage),
			ImpactArea:           round2(raw.ImpactArea),
		},
		Weights:    s.weights,
		TotalScore: total,
		Level:      Classify(total),
		Confidence: round2(Confidence(raw)),
	}
}

// Classify maps a total score onto a severity level.
func Classify(score float64) domain.SeverityLevel {
	switch {
	case score <= LowThreshold:
		return domain.SeverityLow
	case score <= MediumThreshold:
		return domain.SeverityMedium
	default:
		return domain.SeverityHigh
	}
}

// Confidence is high when the component scores agree and falls towards
// MinConfidence as their population variance grows.
func Confidence(c domain.ComponentScores) float64 {
	values := c.Values()

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return clamp(1-variance/varianceScale, MinConfidence, 1)
}
