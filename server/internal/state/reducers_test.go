package state

import (
	"reflect"
	"testing"
	"time"

	"github.com/pitwall/pitwall/pkg/telemetry"
)

var t0 = time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func lapRec(driver, lap int, dur float64) telemetry.LapRecord {
	return telemetry.LapRecord{
		DriverNumber: driver,
		LapNumber:    lap,
		LapDuration:  telemetry.Float(dur),
		Timestamp:    at(lap * 90),
	}
}

// sampleBatch touches every reducer.
func sampleBatch() telemetry.UpdateBatch {
	return telemetry.UpdateBatch{
		SessionKey: "9472",
		Timestamp:  at(450),
		CurrentLap: 5,
		Drivers: []telemetry.DriverInfo{
			{DriverNumber: 1, NameAcronym: "VER", TeamName: "Red Bull Racing"},
			{DriverNumber: 44, NameAcronym: "HAM", TeamName: "Mercedes"},
		},
		Positions: []telemetry.PositionRecord{
			{DriverNumber: 1, Position: 1, Timestamp: at(440)},
			{DriverNumber: 44, Position: 2, Timestamp: at(440)},
		},
		Intervals: []telemetry.IntervalRecord{
			{DriverNumber: 44, GapToLeader: telemetry.Float(2.1), Interval: telemetry.Float(2.1), Timestamp: at(441)},
		},
		Stints: []telemetry.StintRecord{
			{DriverNumber: 1, StintNumber: 1, Compound: "medium", LapStart: 1},
			{DriverNumber: 44, StintNumber: 1, Compound: "HARD", LapStart: 1, TyreAgeAtStart: 2},
		},
		Laps: []telemetry.LapRecord{lapRec(1, 5, 91.2), lapRec(44, 5, 91.9)},
		Pits: []telemetry.PitRecord{
			{DriverNumber: 44, LapNumber: 3, PitDuration: telemetry.Float(22.4), Timestamp: at(300)},
		},
		RaceControl: []telemetry.RaceControlRecord{
			{Category: "Flag", Flag: "YELLOW", Message: "YELLOW IN TRACK SECTOR 4", Timestamp: at(400)},
		},
	}
}

func TestApplyUpdateBatch_Idempotent(t *testing.T) {
	b := sampleBatch()
	once := ApplyUpdateBatch(New("", 57), b)
	twice := ApplyUpdateBatch(once, b)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("applying the same batch twice changed state:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestApplyUpdateBatch_EmptyBatchIsNoop(t *testing.T) {
	rs := ApplyUpdateBatch(New("9472", 57), sampleBatch())
	got := ApplyUpdateBatch(rs, telemetry.UpdateBatch{})
	if !reflect.DeepEqual(rs, got) {
		t.Error("empty batch changed state")
	}
}

func TestApplyUpdateBatch_Fields(t *testing.T) {
	rs := ApplyUpdateBatch(New("", 57), sampleBatch())

	if rs.SessionKey != "9472" {
		t.Errorf("SessionKey: got %q, want 9472", rs.SessionKey)
	}
	if rs.CurrentLap != 5 {
		t.Errorf("CurrentLap: got %d, want 5", rs.CurrentLap)
	}
	if !rs.Timestamp.Equal(at(450)) {
		t.Errorf("Timestamp: got %v, want %v", rs.Timestamp, at(450))
	}

	ver, ok := rs.Driver(1)
	if !ok {
		t.Fatal("driver 1 missing")
	}
	if ver.Compound != "MEDIUM" {
		t.Errorf("Compound: got %q, want MEDIUM", ver.Compound)
	}
	if ver.TyreAge != 4 {
		t.Errorf("TyreAge: got %d, want 4", ver.TyreAge)
	}
	if ver.LapInStint != 5 {
		t.Errorf("LapInStint: got %d, want 5", ver.LapInStint)
	}
	if ver.LastLapTime == nil || *ver.LastLapTime != 91.2 {
		t.Errorf("LastLapTime: got %v, want 91.2", ver.LastLapTime)
	}

	ham, _ := rs.Driver(44)
	if ham.TyreAge != 6 {
		t.Errorf("HAM TyreAge: got %d, want 6 (2 at start + 4 laps)", ham.TyreAge)
	}
	if ham.GapToAhead == nil || *ham.GapToAhead != 2.1 {
		t.Errorf("HAM GapToAhead: got %v, want 2.1", ham.GapToAhead)
	}
	if len(rs.RecentPits) != 1 {
		t.Errorf("RecentPits: got %d, want 1", len(rs.RecentPits))
	}
	if !rs.HasFlag(FlagYellow) {
		t.Errorf("Flags: got %v, want YELLOW present", rs.Flags)
	}
}

func TestApplyLaps_Monotonic(t *testing.T) {
	rs := New("s", 0)
	var prevLap, prevAge int
	// Out-of-order and duplicate laps must never move anything backwards.
	for _, lap := range []int{1, 2, 2, 4, 3, 1, 5, 5, 6} {
		rs = ApplyLaps(rs, []telemetry.LapRecord{lapRec(16, lap, 95)})
		d := rs.Drivers[16]
		if d.CurrentLap < prevLap {
			t.Fatalf("lap %d: CurrentLap went backwards %d -> %d", lap, prevLap, d.CurrentLap)
		}
		if d.TyreAge < prevAge {
			t.Fatalf("lap %d: TyreAge went backwards %d -> %d", lap, prevAge, d.TyreAge)
		}
		if rs.CurrentLap < prevLap {
			t.Fatalf("lap %d: race CurrentLap went backwards", lap)
		}
		prevLap, prevAge = d.CurrentLap, d.TyreAge
	}
	if prevLap != 6 {
		t.Errorf("final CurrentLap: got %d, want 6", prevLap)
	}
}

func TestApplyLaps_OlderLapIgnored(t *testing.T) {
	rs := ApplyLaps(New("s", 0), []telemetry.LapRecord{lapRec(4, 10, 92)})
	got := ApplyLaps(rs, []telemetry.LapRecord{lapRec(4, 9, 80)})
	if !reflect.DeepEqual(rs, got) {
		t.Error("older lap record modified state")
	}
}

func TestApplyLaps_BestLapIgnoresNil(t *testing.T) {
	rs := ApplyLaps(New("s", 0), []telemetry.LapRecord{lapRec(4, 1, 93.5)})
	rs = ApplyLaps(rs, []telemetry.LapRecord{{DriverNumber: 4, LapNumber: 2}})
	rs = ApplyLaps(rs, []telemetry.LapRecord{lapRec(4, 3, 94.0)})

	d := rs.Drivers[4]
	if d.BestLapTime == nil || *d.BestLapTime != 93.5 {
		t.Errorf("BestLapTime: got %v, want 93.5", d.BestLapTime)
	}
	if d.TyreAge != 3 {
		t.Errorf("TyreAge: got %d, want 3", d.TyreAge)
	}
}

func TestApplyLaps_SkipsMalformed(t *testing.T) {
	rs := New("s", 0)
	got := ApplyLaps(rs, []telemetry.LapRecord{
		{DriverNumber: 0, LapNumber: 3},
		{DriverNumber: 5, LapNumber: -1},
	})
	if len(got.Drivers) != 0 {
		t.Errorf("malformed laps created %d drivers", len(got.Drivers))
	}
}

func TestApplyPositions_LastWriteWins(t *testing.T) {
	rs := ApplyPositions(New("s", 0), []telemetry.PositionRecord{
		{DriverNumber: 81, Position: 3, Timestamp: at(20)},
	})
	rs = ApplyPositions(rs, []telemetry.PositionRecord{
		{DriverNumber: 81, Position: 7, Timestamp: at(10)}, // stale
	})
	if got := rs.Drivers[81].Position; got != 3 {
		t.Errorf("stale position applied: got %d, want 3", got)
	}
	rs = ApplyPositions(rs, []telemetry.PositionRecord{
		{DriverNumber: 81, Position: 2, Timestamp: at(30)},
	})
	if got := rs.Drivers[81].Position; got != 2 {
		t.Errorf("newer position ignored: got %d, want 2", got)
	}
}

func TestApplyIntervals_UnknownDriverSkipped(t *testing.T) {
	rs := ApplyIntervals(New("s", 0), []telemetry.IntervalRecord{
		{DriverNumber: 63, Interval: telemetry.Float(1.0), Timestamp: at(1)},
	})
	if len(rs.Drivers) != 0 {
		t.Errorf("interval for unknown driver created an entry")
	}
}

func TestApplyStints_NewStintResetsAge(t *testing.T) {
	rs := ApplyDrivers(New("s", 0), []telemetry.DriverInfo{{DriverNumber: 11}})
	for lap := 1; lap <= 20; lap++ {
		rs = ApplyLaps(rs, []telemetry.LapRecord{lapRec(11, lap, 95)})
	}
	rs = ApplyStints(rs, []telemetry.StintRecord{
		{DriverNumber: 11, StintNumber: 1, Compound: "SOFT", LapStart: 1},
		{DriverNumber: 11, StintNumber: 2, Compound: "hard", LapStart: 19},
	})

	d := rs.Drivers[11]
	if d.StintNumber != 2 || d.Compound != "HARD" {
		t.Errorf("stint: got %d/%s, want 2/HARD", d.StintNumber, d.Compound)
	}
	if d.StintStartLap != 19 {
		t.Errorf("StintStartLap: got %d, want 19", d.StintStartLap)
	}
	if d.TyreAge != 1 {
		t.Errorf("TyreAge: got %d, want 1", d.TyreAge)
	}
	if d.LapInStint != 2 {
		t.Errorf("LapInStint: got %d, want 2", d.LapInStint)
	}

	// An older stint arriving late is ignored.
	again := ApplyStints(rs, []telemetry.StintRecord{{DriverNumber: 11, StintNumber: 1, Compound: "SOFT", LapStart: 1}})
	if !reflect.DeepEqual(rs, again) {
		t.Error("older stint modified state")
	}
}

func TestApplyPits_DedupAndCap(t *testing.T) {
	var pits []telemetry.PitRecord
	for i := 1; i <= 12; i++ {
		pits = append(pits, telemetry.PitRecord{DriverNumber: i, LapNumber: 10, Timestamp: at(i)})
	}
	pits = append(pits, pits[0])

	rs := ApplyPits(New("s", 0), pits)
	if len(rs.RecentPits) != maxRecentPits {
		t.Fatalf("RecentPits: got %d, want %d", len(rs.RecentPits), maxRecentPits)
	}
	if rs.RecentPits[0].DriverNumber != 12 {
		t.Errorf("most recent pit first: got driver %d, want 12", rs.RecentPits[0].DriverNumber)
	}
}

func TestApplyRaceControl(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []telemetry.RaceControlRecord
		wantSC  bool
		wantVSC bool
		wantRed bool
		flag    string
	}{
		{
			name:   "safety car deployed",
			msgs:   []telemetry.RaceControlRecord{{Category: "SafetyCar", Message: "SAFETY CAR DEPLOYED", Timestamp: at(1)}},
			wantSC: true,
			flag:   FlagSafetyCar,
		},
		{
			name: "safety car in this lap",
			msgs: []telemetry.RaceControlRecord{
				{Category: "SafetyCar", Message: "SAFETY CAR DEPLOYED", Timestamp: at(1)},
				{Category: "SafetyCar", Message: "SAFETY CAR IN THIS LAP", Timestamp: at(2)},
			},
		},
		{
			name:    "vsc deployed",
			msgs:    []telemetry.RaceControlRecord{{Category: "SafetyCar", Message: "VIRTUAL SAFETY CAR DEPLOYED", Timestamp: at(1)}},
			wantSC:  true,
			wantVSC: true,
			flag:    FlagVSC,
		},
		{
			name: "vsc ending",
			msgs: []telemetry.RaceControlRecord{
				{Category: "Other", Message: "VSC DEPLOYED", Timestamp: at(1)},
				{Category: "Other", Message: "VSC ENDING", Timestamp: at(2)},
			},
		},
		{
			name:    "red flag",
			msgs:    []telemetry.RaceControlRecord{{Category: "Flag", Flag: "RED", Message: "RED FLAG", Timestamp: at(1)}},
			wantRed: true,
			flag:    FlagRed,
		},
		{
			name: "green clears everything",
			msgs: []telemetry.RaceControlRecord{
				{Category: "Flag", Flag: "RED", Message: "RED FLAG", Timestamp: at(1)},
				{Category: "SafetyCar", Message: "SAFETY CAR DEPLOYED", Timestamp: at(2)},
				{Category: "Flag", Flag: "GREEN", Message: "GREEN LIGHT - PIT EXIT OPEN", Timestamp: at(3)},
			},
			flag: FlagGreen,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rs := ApplyRaceControl(New("s", 0), tc.msgs)
			if rs.SafetyCar != tc.wantSC {
				t.Errorf("SafetyCar: got %v, want %v", rs.SafetyCar, tc.wantSC)
			}
			if rs.VirtualSafetyCar != tc.wantVSC {
				t.Errorf("VirtualSafetyCar: got %v, want %v", rs.VirtualSafetyCar, tc.wantVSC)
			}
			if rs.RedFlag != tc.wantRed {
				t.Errorf("RedFlag: got %v, want %v", rs.RedFlag, tc.wantRed)
			}
			if tc.flag != "" && !rs.HasFlag(tc.flag) {
				t.Errorf("Flags: got %v, want %s present", rs.Flags, tc.flag)
			}
		})
	}
}

func TestApplyRaceControl_KeepsTwentyNewest(t *testing.T) {
	var msgs []telemetry.RaceControlRecord
	for i := 0; i < 25; i++ {
		msgs = append(msgs, telemetry.RaceControlRecord{Category: "Other", Message: "TRACK LIMITS", Timestamp: at(i)})
	}
	rs := ApplyRaceControl(New("s", 0), msgs)
	if len(rs.RecentMessages) != maxRecentMessages {
		t.Fatalf("RecentMessages: got %d, want %d", len(rs.RecentMessages), maxRecentMessages)
	}
	if !rs.RecentMessages[0].Timestamp.Equal(at(24)) {
		t.Errorf("newest first: got %v", rs.RecentMessages[0].Timestamp)
	}
}

func TestApplyUpdateBatch_ClampsToTotalLaps(t *testing.T) {
	rs := ApplyUpdateBatch(New("s", 10), telemetry.UpdateBatch{CurrentLap: 12, Timestamp: at(1)})
	if rs.CurrentLap != 10 {
		t.Errorf("CurrentLap: got %d, want 10", rs.CurrentLap)
	}
	if rs.RemainingLaps() != 0 {
		t.Errorf("RemainingLaps: got %d, want 0", rs.RemainingLaps())
	}
}

func TestReducers_DoNotMutateInput(t *testing.T) {
	rs := ApplyUpdateBatch(New("s", 57), sampleBatch())
	before := rs.Drivers[1]
	_ = ApplyLaps(rs, []telemetry.LapRecord{lapRec(1, 6, 90.0)})
	if !reflect.DeepEqual(before, rs.Drivers[1]) {
		t.Error("ApplyLaps mutated the input drivers map")
	}
}

func TestSortedDriversAndNeighbours(t *testing.T) {
	rs := New("s", 0)
	rs = ApplyPositions(rs, []telemetry.PositionRecord{
		{DriverNumber: 44, Position: 2, Timestamp: at(1)},
		{DriverNumber: 1, Position: 1, Timestamp: at(1)},
		{DriverNumber: 16, Position: 3, Timestamp: at(1)},
	})
	rs = ApplyDrivers(rs, []telemetry.DriverInfo{{DriverNumber: 99}})

	order := rs.SortedDrivers()
	want := []int{1, 44, 16, 99}
	for i, d := range order {
		if d.DriverNumber != want[i] {
			t.Fatalf("order[%d]: got %d, want %d", i, d.DriverNumber, want[i])
		}
	}

	ahead, behind := rs.Neighbours(44)
	if ahead == nil || ahead.DriverNumber != 1 {
		t.Errorf("ahead of 44: got %v, want 1", ahead)
	}
	if behind == nil || behind.DriverNumber != 16 {
		t.Errorf("behind 44: got %v, want 16", behind)
	}
	if a, _ := rs.Neighbours(1); a != nil {
		t.Errorf("ahead of leader: got %v, want nil", a)
	}
}
