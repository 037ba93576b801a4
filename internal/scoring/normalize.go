package scoring

import "math"

// Normalize linearly rescales value from [min,max] onto [0,100].
// A degenerate range yields exactly 50. Values outside the range clamp and
// NaN maps to 0.
func Normalize(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	if min == max {
		return 50
	}
	return clamp((value-min)/(max-min)*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
