package montecarlo

import "math"

// points awarded for P1..P10.
var points = [...]float64{25, 18, 15, 12, 10, 8, 6, 4, 2, 1}

// Points returns the championship points for a finishing position.
func Points(position int) float64 {
	if position < 1 || position > len(points) {
		return 0
	}
	return points[position-1]
}

// Outcome is the distribution of one driver's finishing positions.
type Outcome struct {
	DriverNumber int   `json:"driver_number"`
	Simulations  int   `json:"n_simulations"`
	FieldSize    int   `json:"field_size"`
	Seed         int64 `json:"seed"`
	PitLap       int   `json:"pit_lap"`

	// PositionProbabilities holds the observed share of each position;
	// positions never reached are omitted.
	PositionProbabilities map[int]float64 `json:"position_probabilities"`
	ExpectedPosition      float64         `json:"expected_position"`
	PositionStd           float64         `json:"position_std"`
	// PositionStdErr is the standard error of ExpectedPosition. It shrinks
	// as the number of simulations grows.
	PositionStdErr float64 `json:"position_std_err"`

	ExpectedPoints float64 `json:"expected_points"`
	PointsStd      float64 `json:"points_std"`

	ProbWin    float64 `json:"prob_win"`
	ProbPodium float64 `json:"prob_podium"`
	ProbPoints float64 `json:"prob_points"`

	BestCase  int `json:"best_case"`
	WorstCase int `json:"worst_case"`
}

func summarize(driver int, positions []int, field int) Outcome {
	out := Outcome{
		DriverNumber:          driver,
		Simulations:           len(positions),
		FieldSize:             field,
		PositionProbabilities: make(map[int]float64),
	}
	n := len(positions)
	if n == 0 {
		return out
	}

	counts := make(map[int]int)
	var sumPos, sumPts float64
	var wins, podiums, scoring int
	out.BestCase, out.WorstCase = positions[0], positions[0]
	for _, p := range positions {
		counts[p]++
		sumPos += float64(p)
		sumPts += Points(p)
		if p == 1 {
			wins++
		}
		if p <= 3 {
			podiums++
		}
		if p <= len(points) {
			scoring++
		}
		if p < out.BestCase {
			out.BestCase = p
		}
		if p > out.WorstCase {
			out.WorstCase = p
		}
	}

	total := float64(n)
	for p, c := range counts {
		out.PositionProbabilities[p] = float64(c) / total
	}
	out.ExpectedPosition = sumPos / total
	out.ExpectedPoints = sumPts / total

	var varPos, varPts float64
	for _, p := range positions {
		d := float64(p) - out.ExpectedPosition
		varPos += d * d
		e := Points(p) - out.ExpectedPoints
		varPts += e * e
	}
	out.PositionStd = math.Sqrt(varPos / total)
	out.PointsStd = math.Sqrt(varPts / total)
	out.PositionStdErr = out.PositionStd / math.Sqrt(total)

	out.ProbWin = float64(wins) / total
	out.ProbPodium = float64(podiums) / total
	out.ProbPoints = float64(scoring) / total
	return out
}
