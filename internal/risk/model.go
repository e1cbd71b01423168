package risk

import "math"

// Level buckets a market impact score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Factor weights of the market impact score.
const (
	MagnitudeWeight = 0.5
	DepthWeight     = 0.2
	LocationWeight  = 0.3
)

// MagnitudeImpact grows piecewise-linearly with magnitude and saturates at 100.
func MagnitudeImpact(m float64) float64 {
	switch {
	case m < 5.0:
		return 5 * m
	case m < 6.0:
		return 25 + 20*(m-5)
	case m < 7.0:
		return 45 + 25*(m-6)
	default:
		return 70 + math.Min(30, 15*(m-7))
	}
}

// DepthImpact is higher for shallower events. d is in km.
func DepthImpact(d float64) float64 {
	switch {
	case d < 10:
		return 80 + 2*math.Max(0, 10-d)
	case d < 30:
		return 60 + math.Max(0, 30-d)
	case d < 70:
		return 40 + math.Max(0, 70-d)/2
	default:
		return math.Max(10, 100-d)
	}
}

// LevelFor maps a 0-100 score to a risk level.
func LevelFor(score int) Level {
	switch {
	case score < 30:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 85:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func clampRound(v float64) int {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}
