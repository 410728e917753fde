package montecarlo

// compareMinRemaining is the distance above which staying out still means
// one stop at half distance.
const compareMinRemaining = 20

// Comparison holds the outcomes of pitting now and of staying out.
type Comparison struct {
	PitNow  Outcome `json:"pit_now"`
	StayOut Outcome `json:"stay_out"`
	// LaterLap is the stay-out stop lap, or NoStop.
	LaterLap int `json:"later_lap"`
}

// Gain is how many places better pitting now is expected to finish.
func (c Comparison) Gain() float64 {
	return c.StayOut.ExpectedPosition - c.PitNow.ExpectedPosition
}

// CompareStrategies simulates a stop on the next lap against staying out
// until half distance, or to the flag when 20 or fewer laps remain. Both
// runs share a base seed so they see the same random events.
func (s *Simulator) CompareStrategies(p Params) Comparison {
	seed := s.baseSeed(p.Seed)

	now := p
	now.PitLap = 0
	now.Seed = seed

	later := p
	later.PitLap = NoStop
	if p.RemainingLaps > compareMinRemaining {
		later.PitLap = p.RemainingLaps / 2
	}
	later.Seed = seed

	return Comparison{
		PitNow:   s.SimulateRace(now),
		StayOut:  s.SimulateRace(later),
		LaterLap: later.PitLap,
	}
}
