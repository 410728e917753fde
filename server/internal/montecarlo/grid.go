package montecarlo

import (
	"math/rand"
	"sort"

	"github.com/pitwall/pitwall/server/internal/state"
)

const (
	defaultGridGap = 1.0
	gridBasePace   = 90.0
)

// GridCar is one car's starting point in a whole-field simulation.
type GridCar struct {
	DriverNumber int
	Position     int
	TyreAge      int
	Compound     string
	// BasePace is the car's fuel-corrected lap time on fresh softs;
	// 0 uses the grid default.
	BasePace   float64
	GapToAhead *float64
}

// GridFromState returns the running order of rs as grid cars. Retired cars
// are dropped. BasePace comes from each car's last (or best) lap with the
// tyre's compound delta and wear taken out; a car without a timed lap gets
// the grid default.
func GridFromState(rs *state.RaceState) []GridCar {
	if rs == nil {
		return nil
	}
	var cars []GridCar
	for _, d := range rs.SortedDrivers() {
		if d.Retired {
			continue
		}
		cars = append(cars, GridCar{
			DriverNumber: d.DriverNumber,
			Position:     d.Position,
			TyreAge:      d.TyreAge,
			Compound:     d.Compound,
			BasePace:     basePace(d),
			GapToAhead:   d.GapToAhead,
		})
	}
	return cars
}

func basePace(d state.DriverState) float64 {
	lt := lapPace(d, 0)
	if lt <= 0 {
		return 0
	}
	tyre := Tyre(d.Compound)
	return lt - tyre.PaceDelta() - tyre.Penalty(d.TyreAge)
}

type gridCar struct {
	idx      int
	pace     float64
	age      int
	compound string
	total    float64
}

// SimulateGrid runs the whole field forward to the flag n times. Each lap
// every car runs the physics model, rivals decide stops with DecidePit, and
// the order is re-sorted on total time. It returns one Outcome per driver.
func (s *Simulator) SimulateGrid(cars []GridCar, startLap, remaining, n int, pitLoss float64, seed int64) map[int]Outcome {
	if n <= 0 {
		n = s.cfg.Simulations
	}
	base := s.baseSeed(seed)

	ordered := append([]GridCar(nil), cars...)
	sort.SliceStable(ordered, func(i, j int) bool { return gridRank(ordered[i]) < gridRank(ordered[j]) })

	results := make([][]int, n)
	failed := s.forEach(n, base, func(i int, rng *rand.Rand) {
		results[i] = s.gridTrial(ordered, startLap, remaining, pitLoss, rng)
	})
	if len(failed) > 0 {
		kept := results[:0]
		for i, r := range results {
			if !failed[i] {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	out := make(map[int]Outcome, len(ordered))
	positions := make([]int, len(results))
	for idx, c := range ordered {
		for i := range results {
			positions[i] = results[i][idx]
		}
		o := summarize(c.DriverNumber, positions, len(ordered))
		o.Seed = base
		o.PitLap = NoStop
		out[c.DriverNumber] = o
	}
	return out
}

func gridRank(c GridCar) int {
	if c.Position > 0 {
		return c.Position
	}
	return 999
}

// gridTrial returns the finishing position of each car, indexed like cars.
func (s *Simulator) gridTrial(cars []GridCar, startLap, remaining int, pitLoss float64, rng *rand.Rand) []int {
	field := make([]*gridCar, len(cars))
	offset := 0.0
	for i, c := range cars {
		if i > 0 {
			gap := defaultGridGap
			if c.GapToAhead != nil && *c.GapToAhead > 0 {
				gap = *c.GapToAhead
			}
			offset += gap
		}
		pace := c.BasePace
		if pace <= 0 {
			pace = gridBasePace
		}
		compound := c.Compound
		if compound == "" {
			compound = "MEDIUM"
		}
		field[i] = &gridCar{idx: i, pace: pace, age: c.TyreAge, compound: compound, total: offset}
	}

	ph := s.physics
	scPerLap := 0.0
	if remaining > 0 {
		scPerLap = s.cfg.SCProbability / float64(remaining)
	}
	order := append([]*gridCar(nil), field...)
	totals := make([]float64, len(order))
	for lap := 0; lap < remaining; lap++ {
		raceLap := startLap + lap
		sc := rng.Float64() < scPerLap

		// Gaps are taken at the start of the lap.
		for pos, c := range order {
			totals[pos] = c.total
		}
		for pos, c := range order {
			var gapAhead, gapBehind *float64
			if pos > 0 {
				g := totals[pos] - totals[pos-1]
				gapAhead = &g
			}
			if pos+1 < len(order) {
				g := totals[pos+1] - totals[pos]
				gapBehind = &g
			}

			tyre := Tyre(c.compound)
			call := DecidePit(RivalSituation{
				TyreAge:   c.age,
				Compound:  c.compound,
				Position:  pos + 1,
				GapBehind: gapBehind,
				CliffLap:  tyre.CliffLap,
				SafetyCar: sc,
			})

			lapTime := c.pace + tyre.PaceDelta() + tyre.Penalty(c.age) +
				ph.FuelPenalty(raceLap) - ph.TrackEvolution(raceLap) + ph.DirtyAir(gapAhead) +
				rng.NormFloat64()*s.cfg.NoiseSigma
			if call.Pit {
				loss := pitLoss
				if sc {
					loss *= 1 - scPitRefund
				}
				lapTime += loss
				c.age = 0
				c.compound = call.Compound
			} else {
				c.age++
			}
			c.total += lapTime
		}
		sort.SliceStable(order, func(i, j int) bool { return order[i].total < order[j].total })
	}

	finish := make([]int, len(cars))
	for pos, c := range order {
		finish[c.idx] = pos + 1
	}
	return finish
}
