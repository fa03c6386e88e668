package agents

import "math"

// Weights balance the fitness components. They should sum to 1.
type Weights struct {
	Energy, Survival, Efficiency, Reproduction float64
}

// DefaultWeights favors current energy, then survival.
func DefaultWeights() Weights {
	return Weights{Energy: 0.4, Survival: 0.3, Efficiency: 0.2, Reproduction: 0.1}
}

const survivalLogBase = 100.0

// Fitness is the weighted sum of the component scores, clamped to [0, 1].
func Fitness(energy, maxEnergy float64, age uint64, gained, spent float64, offspring uint32, w Weights) float64 {
	return clamp01(EnergyScore(energy, maxEnergy)*w.Energy +
		SurvivalScore(age)*w.Survival +
		EfficiencyScore(gained, spent)*w.Efficiency +
		ReproductionScore(offspring)*w.Reproduction)
}

// EnergyScore is the fill ratio of the energy store.
func EnergyScore(energy, maxEnergy float64) float64 {
	if maxEnergy <= 0 {
		return 0
	}
	return clamp01(energy / maxEnergy)
}

// SurvivalScore grows logarithmically with age, reaching 1 at 99 ticks.
func SurvivalScore(age uint64) float64 {
	if age == 0 {
		return 0
	}
	return clamp01(math.Log(float64(age)+1) / math.Log(survivalLogBase))
}

// EfficiencyScore maps gained/spent through r/(r+1). Gaining without
// spending is perfect.
func EfficiencyScore(gained, spent float64) float64 {
	if spent <= 0 {
		if gained > 0 {
			return 1
		}
		return 0
	}
	r := gained / spent
	return clamp01(r / (r + 1))
}

// ReproductionScore grows logarithmically with offspring, reaching 1 at 9.
func ReproductionScore(offspring uint32) float64 {
	if offspring == 0 {
		return 0
	}
	return clamp01(math.Log(float64(offspring)+1) / math.Log(10))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
