package heartrate

// Window sizes the theme indicators read from the estimate history.
const (
	TrendWindow       = 10
	VariabilityWindow = 5
)

// IgnitionScore rewards raising heart rate above the resting value.
func IgnitionScore(maxHR, baselineHR float64) float64 {
	return clamp100((maxHR - baselineHR) * 5)
}

// WaveScore rewards a falling heart rate; a flat trend scores 50.
func WaveScore(slope float64) float64 {
	return clamp100(-slope*10 + 50)
}

// AlchemistScore rewards beat-to-beat variability.
func AlchemistScore(hrv float64) float64 {
	return clamp100(hrv * 10)
}

func clamp100(v float64) float64 {
	return min(100, max(0, v))
}
