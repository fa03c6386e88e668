package world

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Width, Height int32
	Seed          int64 // 0 = random
	Resources     int   // nodes to place
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{Width: 64, Height: 64, Seed: 42, Resources: 120}
}

// Generate builds the fertility field from layered simplex noise and
// scatters resource nodes into res, favoring fertile cells.
func Generate(cfg GenConfig, res *Resources) *Grid {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	// Independent layers: fertility drives placement, moisture the type.
	fertNoise := opensimplex.NewNormalized(seed)
	moistNoise := opensimplex.NewNormalized(seed + 1)

	g := NewGrid(cfg.Width, cfg.Height)
	moisture := make([]float64, int(cfg.Width)*int(cfg.Height))
	for y := int32(0); y < cfg.Height; y++ {
		for x := int32(0); x < cfg.Width; x++ {
			fx, fy := float64(x), float64(y)
			g.setFertility(Position{X: x, Y: y}, octaveNoise(fertNoise, fx, fy, 4, 0.08, 0.5))
			moisture[int(y)*int(cfg.Width)+int(x)] = octaveNoise(moistNoise, fx, fy, 3, 0.06, 0.5)
		}
	}

	if cfg.Resources <= 0 || len(moisture) == 0 {
		return g
	}

	rng := rand.New(rand.NewSource(seed + 100))
	placed := 0
	for attempts := 0; placed < cfg.Resources && attempts < cfg.Resources*50; attempts++ {
		p := Position{X: rng.Int31n(cfg.Width), Y: rng.Int31n(cfg.Height)}
		fert := g.Fertility(p)
		if rng.Float64() > fert {
			continue
		}
		t := resourceTypeFor(fert, moisture[int(p.Y)*int(cfg.Width)+int(p.X)], rng)
		energy := 20 + fert*80
		renewable := t == Plant || t == Water || (t == Food && rng.Float64() < 0.5)
		res.Create(p, t, energy, renewable)
		placed++
	}
	return g
}

func resourceTypeFor(fert, moist float64, rng *rand.Rand) ResourceType {
	switch {
	case rng.Float64() < 0.02:
		return Custom
	case moist > 0.65:
		return Water
	case fert > 0.6:
		return Plant
	case fert < 0.35 && moist < 0.4:
		return Mineral
	default:
		return Food
	}
}

// octaveNoise sums several noise octaves, normalized back to [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
