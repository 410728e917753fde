package montecarlo

import (
	"testing"

	"github.com/pitwall/pitwall/server/internal/state"
)

func TestDecidePit(t *testing.T) {
	near := 1.2
	far := 4.0
	tests := []struct {
		name string
		in   RivalSituation
		pit  bool
	}{
		{"safety car on worn tyres", RivalSituation{TyreAge: 11, CliffLap: 25, Position: 12, SafetyCar: true}, true},
		{"safety car on fresh tyres", RivalSituation{TyreAge: 10, CliffLap: 25, Position: 12, SafetyCar: true}, false},
		{"past the cliff", RivalSituation{TyreAge: 26, CliffLap: 25, Position: 15}, true},
		{"cover a close car", RivalSituation{TyreAge: 16, CliffLap: 25, Position: 8, GapBehind: &near}, true},
		{"car behind too far", RivalSituation{TyreAge: 16, CliffLap: 25, Position: 8, GapBehind: &far}, false},
		{"outside the points", RivalSituation{TyreAge: 16, CliffLap: 25, Position: 11, GapBehind: &near}, false},
		{"stint ongoing", RivalSituation{TyreAge: 5, CliffLap: 25, Position: 3, Compound: "SOFT"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			call := DecidePit(tc.in)
			if call.Pit != tc.pit {
				t.Fatalf("Pit: got %v (%s), want %v", call.Pit, call.Reason, tc.pit)
			}
			if call.Pit && call.Compound != "HARD" {
				t.Errorf("Compound: got %s, want HARD", call.Compound)
			}
			if !call.Pit && call.Compound != tc.in.Compound {
				t.Errorf("Compound changed without a stop: %s", call.Compound)
			}
		})
	}
}

func TestSimulateGrid(t *testing.T) {
	gap := 1.5
	cars := []GridCar{
		{DriverNumber: 16, Position: 3, TyreAge: 20, Compound: "SOFT", GapToAhead: &gap},
		{DriverNumber: 1, Position: 1, TyreAge: 10, Compound: "MEDIUM"},
		{DriverNumber: 44, Position: 2, TyreAge: 5, Compound: "HARD", GapToAhead: &gap},
		{DriverNumber: 4, Position: 4, TyreAge: 30, Compound: "MEDIUM"},
	}
	sim := newSim(DefaultConfig())
	out := sim.SimulateGrid(cars, 20, 30, 200, 22, 11)

	if len(out) != 4 {
		t.Fatalf("outcomes: got %d, want 4", len(out))
	}
	// Every trial is a permutation, so expected positions sum to 1+2+3+4.
	sum := 0.0
	for num, o := range out {
		if o.DriverNumber != num || o.FieldSize != 4 || o.Simulations != 200 {
			t.Errorf("outcome %d: %+v", num, o)
		}
		sum += o.ExpectedPosition
	}
	if !almostEqual(sum, 10, 1e-9) {
		t.Errorf("expected positions sum to %v, want 10", sum)
	}

	again := sim.SimulateGrid(cars, 20, 30, 200, 22, 11)
	for num := range out {
		if out[num].ExpectedPosition != again[num].ExpectedPosition {
			t.Errorf("driver %d not reproducible: %v vs %v", num, out[num].ExpectedPosition, again[num].ExpectedPosition)
		}
	}
}

func TestGridFromStateAndParamsFor(t *testing.T) {
	rs := state.New("9472", 57)
	rs.CurrentLap = 27

	lead := state.NewDriver(1)
	lead.Position = 1
	lead.GapToLeader = ptr(0)
	lead.LastLapTime = ptr(91.2)
	lead.DegSlope = 0.07

	second := state.NewDriver(44)
	second.Position = 2
	second.GapToLeader = ptr(2.5)
	second.GapToAhead = ptr(2.5)
	second.LastLapTime = ptr(91.5)
	second.Compound = "HARD"
	second.TyreAge = 12

	out := state.NewDriver(18)
	out.Position = 3
	out.Retired = true

	rs = rs.WithDrivers([]state.DriverState{lead, second, out})

	grid := GridFromState(&rs)
	if len(grid) != 2 || grid[0].DriverNumber != 1 || grid[1].DriverNumber != 44 {
		t.Fatalf("GridFromState: got %+v", grid)
	}
	hard := Tyre("HARD")
	if want := 91.5 - hard.PaceDelta() - hard.Penalty(12); !almostEqual(grid[1].BasePace, want, 1e-12) {
		t.Errorf("BasePace 44: got %v, want %v", grid[1].BasePace, want)
	}
	if grid[0].BasePace <= 0 || grid[0].BasePace == gridBasePace {
		t.Errorf("BasePace 1: got %v, want taken from the last lap", grid[0].BasePace)
	}

	p, ok := ParamsFor(&rs, 44, 22, 0.05)
	if !ok {
		t.Fatal("ParamsFor: driver 44 not found")
	}
	if p.Pace != 91.5 || p.RemainingLaps != 30 || p.PitLap != NoStop {
		t.Errorf("params: %+v", p)
	}
	if len(p.Competitors) != 1 {
		t.Fatalf("competitors: got %d, want 1 (retired car dropped)", len(p.Competitors))
	}
	c := p.Competitors[0]
	if c.DriverNumber != 1 || c.Deg != 0.07 || !almostEqual(c.Offset, -2.5, 1e-12) {
		t.Errorf("leader as competitor: %+v", c)
	}

	if _, ok := ParamsFor(&rs, 99, 22, 0.05); ok {
		t.Error("ParamsFor(99): want not found")
	}
}

func TestSimulateGrid_PaceFromState(t *testing.T) {
	rs := state.New("9472", 57)
	rs.CurrentLap = 40

	// Same tyres and a one-second gap, but the second car is two seconds a
	// lap quicker: over 17 laps it should finish ahead nearly every time.
	slow := state.NewDriver(1)
	slow.Position = 1
	slow.LastLapTime = ptr(93)
	slow.Compound = "HARD"
	slow.TyreAge = 5

	fast := state.NewDriver(44)
	fast.Position = 2
	fast.GapToAhead = ptr(1)
	fast.LastLapTime = ptr(91)
	fast.Compound = "HARD"
	fast.TyreAge = 5

	rs = rs.WithDrivers([]state.DriverState{slow, fast})

	cfg := DefaultConfig()
	cfg.SCProbability = 0
	out := newSim(cfg).SimulateGrid(GridFromState(&rs), rs.CurrentLap, rs.RemainingLaps(), 200, 22, 5)
	if out[44].ExpectedPosition > 1.1 {
		t.Errorf("quicker car expected P%.2f, want close to P1", out[44].ExpectedPosition)
	}
}

func ptr(v float64) *float64 { return &v }
