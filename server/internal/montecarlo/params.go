package montecarlo

import "github.com/pitwall/pitwall/server/internal/state"

// fallbackPace is the lap time used for a car with no timed lap.
const fallbackPace = 90.0

// ParamsFor builds SimulateRace parameters for one driver from a race
// state. Retired drivers are left out of the field. Rival slopes default to
// rivalDeg when not estimated. Starting offsets come from the gaps to the
// leader when both are known. It reports false for an unknown driver.
func ParamsFor(rs *state.RaceState, number int, pitLoss, rivalDeg float64) (Params, bool) {
	if rs == nil {
		return Params{}, false
	}
	d, ok := rs.Driver(number)
	if !ok {
		return Params{}, false
	}

	p := Params{
		DriverNumber:  number,
		Pace:          lapPace(d, fallbackPace),
		Deg:           d.DegSlope,
		Position:      d.Position,
		RemainingLaps: rs.RemainingLaps(),
		PitLoss:       pitLoss,
		PitLap:        NoStop,
	}
	for _, c := range rs.SortedDrivers() {
		if c.DriverNumber == number || c.Retired {
			continue
		}
		deg := c.DegSlope
		if deg == 0 {
			deg = rivalDeg
		}
		comp := Competitor{
			DriverNumber: c.DriverNumber,
			Pace:         lapPace(c, p.Pace),
			Deg:          deg,
		}
		if c.GapToLeader != nil && d.GapToLeader != nil {
			comp.Offset = *c.GapToLeader - *d.GapToLeader
		}
		p.Competitors = append(p.Competitors, comp)
	}
	return p, true
}

func lapPace(d state.DriverState, fallback float64) float64 {
	if d.LastLapTime != nil && *d.LastLapTime > 0 {
		return *d.LastLapTime
	}
	if d.BestLapTime != nil && *d.BestLapTime > 0 {
		return *d.BestLapTime
	}
	return fallback
}
