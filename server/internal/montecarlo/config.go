package montecarlo

import "runtime"

const (
	defaultSimulations       = 500
	defaultParallelThreshold = 100
	maxWorkers               = 8

	// scPitRefund is the share of the pit loss recovered by stopping under
	// a safety car.
	scPitRefund = 0.6
	// freshTyreDegFactor scales the degradation slope after a stop.
	freshTyreDegFactor = 0.5
	// minCompetitorStopLaps is the shortest remaining distance at which
	// rivals are given a stop.
	minCompetitorStopLaps = 15
)

// Config controls trial counts, parallelism and the random event model.
type Config struct {
	Simulations       int
	ParallelThreshold int
	Workers           int   // 0 = min(NumCPU, 8)
	Seed              int64 // 0 = new seed per call

	SCProbability  float64
	VSCProbability float64
	VSCPitDiscount float64
	NoiseSigma     float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Simulations:       defaultSimulations,
		ParallelThreshold: defaultParallelThreshold,
		SCProbability:     0.3,
		VSCProbability:    0.2,
		VSCPitDiscount:    0.4,
		NoiseSigma:        0.2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Simulations <= 0 {
		c.Simulations = d.Simulations
	}
	if c.ParallelThreshold <= 0 {
		c.ParallelThreshold = d.ParallelThreshold
	}
	if c.SCProbability < 0 {
		c.SCProbability = 0
	}
	if c.VSCProbability < 0 {
		c.VSCProbability = 0
	}
	if c.NoiseSigma < 0 {
		c.NoiseSigma = d.NoiseSigma
	}
	return c
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	n := runtime.NumCPU()
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}
