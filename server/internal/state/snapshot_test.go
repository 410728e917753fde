package state

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/pitwall/pitwall/pkg/telemetry"
)

func TestNum(t *testing.T) {
	tests := []struct {
		in      float64
		wantNil bool
	}{
		{1.5, false},
		{0, false},
		{math.NaN(), true},
		{math.Inf(1), true},
		{math.Inf(-1), true},
	}
	for _, tc := range tests {
		got := Num(tc.in)
		if (got == nil) != tc.wantNil {
			t.Errorf("Num(%v): got %v, wantNil %v", tc.in, got, tc.wantNil)
		}
	}
	if NumPtr(nil) != nil {
		t.Error("NumPtr(nil): want nil")
	}
}

func TestToSnapshot_NonFiniteBecomesNull(t *testing.T) {
	rs := ApplyUpdateBatch(New("9472", 57), sampleBatch())
	d := rs.Drivers[1]
	d.DegSlope = math.NaN()
	d.CliffRisk = math.Inf(1)
	d.PredictedPace = []float64{91.0, math.NaN()}
	nan := math.NaN()
	d.LastLapTime = &nan
	rs = rs.WithDriver(d)

	data, err := json.Marshal(ToSnapshot(&rs))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	body := string(data)
	for _, want := range []string{`"deg_slope":null`, `"cliff_risk":null`, `"last_lap_time":null`, `"predicted_pace":[91,null]`} {
		if !strings.Contains(body, want) {
			t.Errorf("snapshot JSON missing %s", want)
		}
	}
	if strings.Contains(body, "NaN") || strings.Contains(body, "Inf") {
		t.Errorf("snapshot JSON contains a non-finite literal: %s", body)
	}
}

func TestToSnapshot_DriversSortedByPosition(t *testing.T) {
	rs := ApplyUpdateBatch(New("9472", 57), sampleBatch())
	rs = ApplyDrivers(rs, []telemetry.DriverInfo{{DriverNumber: 2}})

	snap := ToSnapshot(&rs)
	if len(snap.Drivers) != 3 {
		t.Fatalf("Drivers: got %d, want 3", len(snap.Drivers))
	}
	got := []int{snap.Drivers[0].DriverNumber, snap.Drivers[1].DriverNumber, snap.Drivers[2].DriverNumber}
	want := []int{1, 44, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}
	if snap.CurrentLap != 5 || snap.TotalLaps != 57 {
		t.Errorf("laps: got %d/%d, want 5/57", snap.CurrentLap, snap.TotalLaps)
	}
	if len(snap.RecentPits) != 1 || len(snap.RecentMessages) != 1 {
		t.Errorf("recent: got %d pits, %d messages", len(snap.RecentPits), len(snap.RecentMessages))
	}
}

func TestToSnapshot_Nil(t *testing.T) {
	data, err := json.Marshal(ToSnapshot(nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"drivers":[]`) {
		t.Errorf("nil snapshot: got %s", data)
	}
}
