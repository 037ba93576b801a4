package scoring

import (
	"math"

	"github.com/opensource-finance/blockaid/internal/domain"
)

// ImageScore maps classifier likelihoods onto [0,100].
func ImageScore(p domain.Predictions) float64 {
	return clamp(p.Low*20+p.Medium*60+p.High*100, 0, 100)
}

// RainfallScore scores rainfall in millimetres.
func RainfallScore(mm float64) float64 {
	switch {
	case mm < 50:
		return Normalize(mm, 0, 50) * 0.5
	case mm < 150:
		return 20 + Normalize(mm, 50, 150)*0.4
	default:
		return clamp(60+math.Min(40, (mm-150)/100*10), 0, 100)
	}
}

// WaterLevelScore scores water level in centimetres.
func WaterLevelScore(cm float64) float64 {
	switch {
	case cm < 30:
		return Normalize(cm, 0, 30) * 0.4
	case cm < 100:
		return 15 + Normalize(cm, 30, 100)*0.5
	default:
		return clamp(65+math.Min(35, (cm-100)/100*10), 0, 100)
	}
}

// PopulationScore scores the number of people affected.
// Exactly 10000 people contributes nothing from the logarithmic term.
func PopulationScore(count int64) float64 {
	switch {
	case count < 1000:
		return Normalize(float64(count), 0, 1000) * 0.3
	case count < 10000:
		return 10 + Normalize(float64(count), 1000, 10000)*0.6
	default:
		var logTerm float64
		if excess := count - 10000; excess > 0 {
			logTerm = math.Log10(float64(excess)) * 5
		}
		return clamp(70+math.Min(30, logTerm), 0, 100)
	}
}

// InfrastructureScore scores infrastructure damage given as a percentage.
func InfrastructureScore(pct float64) float64 {
	return Normalize(pct, 0, 100)
}

// ImpactAreaScore scores the affected area in square kilometres.
func ImpactAreaScore(sqkm float64) float64 {
	switch {
	case sqkm < 10:
		return Normalize(sqkm, 0, 10) * 0.4
	case sqkm < 50:
		return 15 + Normalize(sqkm, 10, 50)*0.5
	default:
		return clamp(65+math.Min(35, math.Log10(sqkm)*10), 0, 100)
	}
}

// Components computes all six component scores, unrounded.
func Components(p domain.Predictions, m domain.Measurements) domain.ComponentScores {
	return domain.ComponentScores{
		ImageAnalysis:        ImageScore(p),
		RainfallIntensity:    RainfallScore(m.RainfallMM),
		WaterLevel:           WaterLevelScore(m.WaterLevelCM),
		PopulationAffected:   PopulationScore(m.PopulationAffected),
		InfrastructureDamage: InfrastructureScore(m.InfrastructureDamage),
		ImpactArea:           ImpactAreaScore(m.ImpactArea),
	}
}
