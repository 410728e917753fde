package montecarlo

import (
	"math"
	"strings"
)

// Physics holds the lap-time model constants. They are calibration values,
// not derived quantities, and are all overridable from configuration.
type Physics struct {
	FuelStartKg          float64
	FuelBurnKgPerLap     float64
	FuelTimePerKg        float64
	TrackEvolutionPerLap float64
	TrackEvolutionMax    float64
	DirtyAirThreshold    float64
	DirtyAirMaxPenalty   float64
}

// DefaultPhysics returns the standard calibration.
func DefaultPhysics() Physics {
	return Physics{
		FuelStartKg:          110,
		FuelBurnKgPerLap:     1.7,
		FuelTimePerKg:        0.035,
		TrackEvolutionPerLap: 0.03,
		TrackEvolutionMax:    2.0,
		DirtyAirThreshold:    3.0,
		DirtyAirMaxPenalty:   0.5,
	}
}

// FuelMass is the fuel on board at the start of lap.
func (ph Physics) FuelMass(lap int) float64 {
	return math.Max(0, ph.FuelStartKg-float64(lap)*ph.FuelBurnKgPerLap)
}

// FuelPenalty is the lap-time cost of the fuel load relative to an empty tank.
func (ph Physics) FuelPenalty(lap int) float64 {
	return ph.FuelMass(lap) * ph.FuelTimePerKg
}

// TrackEvolution is the lap-time gain from the track rubbering in.
func (ph Physics) TrackEvolution(lap int) float64 {
	return math.Min(ph.TrackEvolutionMax, float64(lap)*ph.TrackEvolutionPerLap)
}

// DirtyAir is the time lost following a car gapAhead seconds in front. It
// grows with the square of proximity and is zero in clean air.
func (ph Physics) DirtyAir(gapAhead *float64) float64 {
	if gapAhead == nil || *gapAhead <= 0 || *gapAhead > ph.DirtyAirThreshold || ph.DirtyAirThreshold <= 0 {
		return 0
	}
	proximity := 1 - *gapAhead/ph.DirtyAirThreshold
	return ph.DirtyAirMaxPenalty * proximity * proximity
}

// TyreParams describes a compound's three-phase wear curve.
type TyreParams struct {
	BaseGrip      float64
	DegRate       float64
	WarmupLaps    int
	CliffLap      int
	CliffSeverity float64
}

var compoundParams = map[string]TyreParams{
	"SOFT":         {BaseGrip: 1.2, DegRate: 0.08, WarmupLaps: 1, CliffLap: 15, CliffSeverity: 0.2},
	"MEDIUM":       {BaseGrip: 0.6, DegRate: 0.05, WarmupLaps: 2, CliffLap: 25, CliffSeverity: 0.15},
	"HARD":         {BaseGrip: 0.0, DegRate: 0.03, WarmupLaps: 3, CliffLap: 40, CliffSeverity: 0.1},
	"INTERMEDIATE": {BaseGrip: -2.0, DegRate: 0.05, WarmupLaps: 1, CliffLap: 30, CliffSeverity: 0.1},
	"WET":          {BaseGrip: -5.0, DegRate: 0.05, WarmupLaps: 1, CliffLap: 30, CliffSeverity: 0.1},
}

// Tyre returns the parameters for compound. Unknown compounds use MEDIUM.
func Tyre(compound string) TyreParams {
	if p, ok := compoundParams[strings.ToUpper(compound)]; ok {
		return p
	}
	return compoundParams["MEDIUM"]
}

// Penalty is the time lost to a set of tyres aged age laps: a cold-tyre
// penalty during warmup, then linear wear plus an exponential cliff.
func (t TyreParams) Penalty(age int) float64 {
	if age < t.WarmupLaps {
		return 0.5 * float64(t.WarmupLaps-age)
	}
	wear := float64(age-t.WarmupLaps) * t.DegRate
	if age > t.CliffLap {
		wear += 0.1 * (math.Exp(t.CliffSeverity*float64(age-t.CliffLap)) - 1)
	}
	return wear
}

// PaceDelta is the compound's base pace deficit to the soft.
func (t TyreParams) PaceDelta() float64 {
	return compoundParams["SOFT"].BaseGrip - t.BaseGrip
}
