package domain

// SeverityLevel is the band a fused severity score falls into.
type SeverityLevel string

const (
	SeverityLow    SeverityLevel = "LOW"
	SeverityMedium SeverityLevel = "MEDIUM"
	SeverityHigh   SeverityLevel = "HIGH"
)

// Predictions holds the classifier likelihood for each severity band.
// Values are expected to sum to roughly 1 but are scored as given.
type Predictions struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// Dominant returns the band with the highest likelihood.
// Ties resolve towards the more severe band.
func (p Predictions) Dominant() SeverityLevel {
	switch {
	case p.High >= p.Medium && p.High >= p.Low:
		return SeverityHigh
	case p.Medium >= p.Low:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Measurements are the environmental readings submitted with a report.
type Measurements struct {
	RainfallMM           float64 `json:"rainfall_mm"`
	WaterLevelCM         float64 `json:"water_level_cm"`
	PopulationAffected   int64   `json:"population_affected"`
	InfrastructureDamage float64 `json:"infrastructure_damage"`
	ImpactArea           float64 `json:"impact_area"`
}

// ComponentScores are the six normalized signals, each in [0,100].
type ComponentScores struct {
	ImageAnalysis        float64 `json:"image_analysis"`
	RainfallIntensity    float64 `json:"rainfall_intensity"`
	WaterLevel           float64 `json:"water_level"`
	PopulationAffected   float64 `json:"population_affected"`
	InfrastructureDamage float64 `json:"infrastructure_damage"`
	ImpactArea           float64 `json:"impact_area"`
}

// Values returns the scores in canonical component order.
func (c ComponentScores) Values() [6]float64 {
	return [6]float64{
		c.ImageAnalysis,
		c.RainfallIntensity,
		c.WaterLevel,
		c.PopulationAffected,
		c.InfrastructureDamage,
		c.ImpactArea,
	}
}

// Weights is the fusion weight per component. The six values sum to 1.
type Weights struct {
	ImageAnalysis        float64 `json:"image_analysis"`
	RainfallIntensity    float64 `json:"rainfall_intensity"`
	WaterLevel           float64 `json:"water_level"`
	PopulationAffected   float64 `json:"population_affected"`
	InfrastructureDamage float64 `json:"infrastructure_damage"`
	ImpactArea           float64 `json:"impact_area"`
}

// Values returns the weights in canonical component order.
func (w Weights) Values() [6]float64 {
	return [6]float64{
		w.ImageAnalysis,
		w.RainfallIntensity,
		w.WaterLevel,
		w.PopulationAffected,
		w.InfrastructureDamage,
		w.ImpactArea,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w.Values() {
		sum += v
	}
	return sum
}

// SeverityAssessment is the immutable result of fusing one report.
type SeverityAssessment struct {
	Components ComponentScores `json:"component_scores"`
	Weights    Weights         `json:"weights"`
	TotalScore float64         `json:"total_score"`
	Level      SeverityLevel   `json:"severity_level"`
	Confidence float64         `json:"confidence"`
}

// Details flattens the assessment into audit record details.
func (a SeverityAssessment) Details() map[string]any {
	return map[string]any{
		"total_score":    a.TotalScore,
		"severity_level": string(a.Level),
		"confidence":     a.Confidence,
		"component_scores": map[string]any{
			"image_analysis":        a.Components.ImageAnalysis,
			"rainfall_intensity":    a.Components.RainfallIntensity,
			"water_level":           a.Components.WaterLevel,
			"population_affected":   a.Components.PopulationAffected,
			"infrastructure_damage": a.Components.InfrastructureDamage,
			"impact_area":           a.Components.ImpactArea,
		},
		"weights": map[string]any{
			"image_analysis":        a.Weights.ImageAnalysis,
			"rainfall_intensity":    a.Weights.RainfallIntensity,
			"water_level":           a.Weights.WaterLevel,
			"population_affected":   a.Weights.PopulationAffected,
			"infrastructure_damage": a.Weights.InfrastructureDamage,
			"impact_area":           a.Weights.ImpactArea,
		},
	}
}
