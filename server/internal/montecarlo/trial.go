package montecarlo

import "math/rand"

// events holds the sampled neutralization laps of one trial, -1 for none.
type events struct {
	sc  int
	vsc int
}

// sampleEvent decides whether a neutralization happens with probability
// prob and, if so, on which lap. Earlier laps are weighted more heavily.
func sampleEvent(rng *rand.Rand, remaining int, prob float64) int {
	if remaining <= 0 || rng.Float64() > prob {
		return -1
	}
	rem := float64(remaining)
	total := 0.0
	for i := 0; i < remaining; i++ {
		total += 1.5 - float64(i)/rem
	}
	r := rng.Float64() * total
	for i := 0; i < remaining; i++ {
		r -= 1.5 - float64(i)/rem
		if r < 0 {
			return i
		}
	}
	return remaining - 1
}

func sampleEvents(rng *rand.Rand, remaining int, cfg *Config) events {
	ev := events{
		sc:  sampleEvent(rng, remaining, cfg.SCProbability),
		vsc: sampleEvent(rng, remaining, cfg.VSCProbability),
	}
	if ev.sc >= 0 {
		ev.vsc = -1
	}
	return ev
}

// raceTime accumulates one car's time over the remaining laps.
func raceTime(rng *rand.Rand, pace, deg float64, pitLap, remaining int, pitLoss float64, ev events, cfg *Config) float64 {
	total := 0.0
	for lap := 0; lap < remaining; lap++ {
		lapTime := pace + deg*float64(lap)
		pitting := lap == pitLap
		if pitting {
			total += pitLoss
			deg *= freshTyreDegFactor
		}
		switch {
		case lap == ev.sc:
			lapTime = pace
			if pitting {
				total -= pitLoss * scPitRefund
			}
		case lap == ev.vsc:
			if pitting {
				total -= pitLoss * cfg.VSCPitDiscount
			}
		}
		total += lapTime + rng.NormFloat64()*cfg.NoiseSigma
	}
	return total
}

// runTrial simulates one continuation and returns the subject's finishing
// position. Ties go to the subject.
func runTrial(p *Params, cfg *Config, rng *rand.Rand) int {
	rem := p.RemainingLaps
	ev := sampleEvents(rng, rem, cfg)
	ours := raceTime(rng, p.Pace, p.Deg, p.PitLap, rem, p.PitLoss, ev, cfg)

	pos := 1
	for _, c := range p.Competitors {
		pit := NoStop
		if rem > minCompetitorStopLaps {
			lo, hi := rem/3, rem*2/3
			pit = lo + rng.Intn(hi-lo+1)
		}
		if c.Offset+raceTime(rng, c.Pace, c.Deg, pit, rem, p.PitLoss, ev, cfg) < ours {
			pos++
		}
	}
	return pos
}
