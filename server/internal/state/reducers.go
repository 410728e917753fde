package state

import (
	"sort"
	"strings"
	"time"

	"github.com/pitwall/pitwall/pkg/telemetry"
)

// driverSet clones the drivers map on first write so a reducer that accepts
// nothing returns the original map untouched.
type driverSet struct {
	base   map[int]DriverState
	out    map[int]DriverState
	cloned bool
}

func newDriverSet(m map[int]DriverState) *driverSet {
	return &driverSet{base: m, out: m}
}

func (s *driverSet) get(n int) (DriverState, bool) {
	d, ok := s.out[n]
	return d, ok
}

func (s *driverSet) put(d DriverState) {
	if !s.cloned {
		s.out = make(map[int]DriverState, len(s.base)+1)
		for k, v := range s.base {
			s.out[k] = v
		}
		s.cloned = true
	}
	s.out[d.DriverNumber] = d
}

func (s *driverSet) result() map[int]DriverState {
	if s.out == nil {
		return make(map[int]DriverState)
	}
	return s.out
}

// ApplyDrivers upserts identity fields. Unknown driver numbers are created.
func ApplyDrivers(rs RaceState, drivers []telemetry.DriverInfo) RaceState {
	set := newDriverSet(rs.Drivers)
	for _, info := range drivers {
		if info.DriverNumber <= 0 {
			continue
		}
		d, ok := set.get(info.DriverNumber)
		if !ok {
			d = NewDriver(info.DriverNumber)
		}
		if info.NameAcronym != "" {
			d.NameAcronym = info.NameAcronym
		}
		if info.FullName != "" {
			d.FullName = info.FullName
		}
		if info.TeamName != "" {
			d.TeamName = info.TeamName
		}
		if info.TeamColour != "" {
			d.TeamColour = info.TeamColour
		}
		set.put(d)
	}
	rs.Drivers = set.result()
	return rs
}

// ApplyLaps folds completed laps into the drivers. A record older than the
// driver's current lap is ignored. Tyre age advances only when the lap number
// moves forward, and never falls behind the age implied by the current stint.
func ApplyLaps(rs RaceState, laps []telemetry.LapRecord) RaceState {
	set := newDriverSet(rs.Drivers)
	maxLap := rs.CurrentLap
	for _, lap := range laps {
		if lap.DriverNumber <= 0 || lap.LapNumber <= 0 {
			continue
		}
		d, ok := set.get(lap.DriverNumber)
		if !ok {
			d = NewDriver(lap.DriverNumber)
		}
		if lap.LapNumber < d.CurrentLap {
			continue
		}
		if lap.LapNumber > d.CurrentLap {
			d.TyreAge++
			if age := d.stintAge(lap.LapNumber); age > d.TyreAge {
				d.TyreAge = age
			}
		}
		d.CurrentLap = lap.LapNumber
		if lap.LapDuration != nil {
			d.LastLapTime = floatCopy(lap.LapDuration)
			d.BestLapTime = minTime(d.BestLapTime, lap.LapDuration)
		}
		if lap.Sector1 != nil {
			d.Sector1 = floatCopy(lap.Sector1)
		}
		if lap.Sector2 != nil {
			d.Sector2 = floatCopy(lap.Sector2)
		}
		if lap.Sector3 != nil {
			d.Sector3 = floatCopy(lap.Sector3)
		}
		d.IsPitOutLap = lap.IsPitOutLap
		d.LapInStint = lapInStint(lap.LapNumber, d.StintStartLap)
		if !lap.Timestamp.IsZero() {
			d.LastUpdate = lap.Timestamp
		}
		set.put(d)
		if lap.LapNumber > maxLap {
			maxLap = lap.LapNumber
		}
	}
	rs.Drivers = set.result()
	rs.CurrentLap = maxLap
	return rs
}

// ApplyPositions applies classification changes, last write wins per driver.
// Unknown drivers are created.
func ApplyPositions(rs RaceState, positions []telemetry.PositionRecord) RaceState {
	set := newDriverSet(rs.Drivers)
	for _, p := range positions {
		if p.DriverNumber <= 0 || p.Position <= 0 {
			continue
		}
		d, ok := set.get(p.DriverNumber)
		if !ok {
			d = NewDriver(p.DriverNumber)
		}
		if !newer(p.Timestamp, d.positionAt) {
			continue
		}
		d.Position = p.Position
		d.positionAt = p.Timestamp
		if !p.Timestamp.IsZero() {
			d.LastUpdate = p.Timestamp
		}
		set.put(d)
	}
	rs.Drivers = set.result()
	return rs
}

// ApplyIntervals applies gap updates, last write wins per driver. Records for
// unknown drivers are skipped.
func ApplyIntervals(rs RaceState, intervals []telemetry.IntervalRecord) RaceState {
	set := newDriverSet(rs.Drivers)
	for _, iv := range intervals {
		d, ok := set.get(iv.DriverNumber)
		if !ok {
			continue
		}
		if !newer(iv.Timestamp, d.intervalAt) {
			continue
		}
		d.GapToLeader = floatCopy(iv.GapToLeader)
		d.GapToAhead = floatCopy(iv.Interval)
		d.intervalAt = iv.Timestamp
		if !iv.Timestamp.IsZero() {
			d.LastUpdate = iv.Timestamp
		}
		set.put(d)
	}
	rs.Drivers = set.result()
	return rs
}

// ApplyStints selects the highest stint per driver and recomputes tyre age and
// lap-in-stint relative to that stint's start lap.
func ApplyStints(rs RaceState, stints []telemetry.StintRecord) RaceState {
	latest := make(map[int]telemetry.StintRecord)
	for _, s := range stints {
		if s.DriverNumber <= 0 || s.StintNumber <= 0 {
			continue
		}
		if cur, ok := latest[s.DriverNumber]; !ok || s.StintNumber > cur.StintNumber {
			latest[s.DriverNumber] = s
		}
	}

	set := newDriverSet(rs.Drivers)
	for num, s := range latest {
		d, ok := set.get(num)
		if !ok || s.StintNumber < d.StintNumber {
			continue
		}
		lapStart := s.LapStart
		if lapStart <= 0 {
			lapStart = 1
		}
		age := s.TyreAgeAtStart + max0(d.CurrentLap-lapStart)
		if s.StintNumber == d.StintNumber && age < d.TyreAge {
			age = d.TyreAge
		}
		d.StintNumber = s.StintNumber
		if s.Compound != "" {
			d.Compound = strings.ToUpper(s.Compound)
		}
		d.StintStartLap = lapStart
		d.ageAtStart = s.TyreAgeAtStart
		d.TyreAge = age
		d.LapInStint = lapInStint(d.CurrentLap, lapStart)
		set.put(d)
	}
	rs.Drivers = set.result()
	return rs
}

// ApplyPits records pit stops, de-duplicated by driver and lap, keeping the
// most recent by timestamp.
func ApplyPits(rs RaceState, pits []telemetry.PitRecord) RaceState {
	if len(pits) == 0 {
		return rs
	}
	type key struct{ driver, lap int }
	seen := make(map[key]bool, len(rs.RecentPits)+len(pits))
	out := make([]PitEvent, 0, len(rs.RecentPits)+len(pits))
	for _, p := range rs.RecentPits {
		seen[key{p.DriverNumber, p.LapNumber}] = true
		out = append(out, p)
	}
	added := false
	for _, p := range pits {
		if p.DriverNumber <= 0 || p.LapNumber <= 0 {
			continue
		}
		k := key{p.DriverNumber, p.LapNumber}
		if seen[k] {
			continue
		}
		seen[k] = true
		added = true
		out = append(out, PitEvent{
			DriverNumber: p.DriverNumber,
			LapNumber:    p.LapNumber,
			PitDuration:  floatCopy(p.PitDuration),
			Timestamp:    p.Timestamp,
		})
	}
	if !added {
		return rs
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > maxRecentPits {
		out = out[:maxRecentPits]
	}
	rs.RecentPits = out
	return rs
}

// ApplyRaceControl runs the flag state machine over race-control messages.
//
// Safety-car and VSC transitions are inferred from keywords in the message
// text: DEPLOYED turns them on, ENDING (or IN, for the safety car) turns them
// off. Substring matching on free text is fragile; it is kept for
// compatibility with the providers' message wording.
func ApplyRaceControl(rs RaceState, messages []telemetry.RaceControlRecord) RaceState {
	if len(messages) == 0 {
		return rs
	}
	flags := append([]string(nil), rs.Flags...)
	sc, vsc, red := rs.SafetyCar, rs.VirtualSafetyCar, rs.RedFlag
	recent := append(make([]ControlMessage, 0, len(rs.RecentMessages)+len(messages)), rs.RecentMessages...)

	// A message already retained has been applied; replaying it is a no-op.
	type key struct {
		category, message string
		ts                int64
	}
	seen := make(map[key]bool, len(recent))
	for _, m := range recent {
		seen[key{m.Category, m.Message, m.Timestamp.UnixNano()}] = true
	}

	added := false
	for _, m := range messages {
		k := key{m.Category, m.Message, m.Timestamp.UnixNano()}
		if seen[k] {
			continue
		}
		seen[k] = true
		added = true

		switch strings.ToUpper(m.Flag) {
		case "GREEN", "CLEAR":
			flags = []string{FlagGreen}
			sc, vsc, red = false, false, false
		case "RED":
			flags = []string{FlagRed}
			red = true
		case "YELLOW", "DOUBLE YELLOW":
			flags = addFlag(flags, FlagYellow)
		}

		text := strings.ToUpper(m.Message)
		if m.Category == "SafetyCar" {
			if strings.Contains(text, "DEPLOYED") {
				sc = true
				flags = addFlag(flags, FlagSafetyCar)
			} else if strings.Contains(text, "ENDING") || strings.Contains(text, "IN") {
				sc = false
				flags = removeFlag(flags, FlagSafetyCar)
			}
		}
		if strings.Contains(text, "VSC") || strings.Contains(text, "VIRTUAL SAFETY CAR") {
			if strings.Contains(text, "DEPLOYED") {
				vsc = true
				flags = addFlag(flags, FlagVSC)
			} else if strings.Contains(text, "ENDING") {
				vsc = false
				flags = removeFlag(flags, FlagVSC)
			}
		}

		var lap *int
		if m.LapNumber != nil {
			n := *m.LapNumber
			lap = &n
		}
		recent = append(recent, ControlMessage{
			Category:  m.Category,
			Flag:      m.Flag,
			Message:   m.Message,
			LapNumber: lap,
			Timestamp: m.Timestamp,
		})
	}
	if !added {
		return rs
	}

	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Timestamp.After(recent[j].Timestamp) })
	if len(recent) > maxRecentMessages {
		recent = recent[:maxRecentMessages]
	}

	rs.Flags = flags
	rs.SafetyCar = sc
	rs.VirtualSafetyCar = vsc
	rs.RedFlag = red
	rs.RecentMessages = recent
	return rs
}

// ApplyUpdateBatch applies the non-empty parts of b in dependency order:
// drivers, positions, intervals, stints, laps, pits, race control. Stint and
// position updates must be visible before laps recompute tyre age.
func ApplyUpdateBatch(rs RaceState, b telemetry.UpdateBatch) RaceState {
	if rs.Drivers == nil {
		rs.Drivers = make(map[int]DriverState)
	}
	if rs.SessionKey == "" && b.SessionKey != "" {
		rs.SessionKey = b.SessionKey
	}
	if len(b.Drivers) > 0 {
		rs = ApplyDrivers(rs, b.Drivers)
	}
	if len(b.Positions) > 0 {
		rs = ApplyPositions(rs, b.Positions)
	}
	if len(b.Intervals) > 0 {
		rs = ApplyIntervals(rs, b.Intervals)
	}
	if len(b.Stints) > 0 {
		rs = ApplyStints(rs, b.Stints)
	}
	if len(b.Laps) > 0 {
		rs = ApplyLaps(rs, b.Laps)
	}
	if len(b.Pits) > 0 {
		rs = ApplyPits(rs, b.Pits)
	}
	if len(b.RaceControl) > 0 {
		rs = ApplyRaceControl(rs, b.RaceControl)
	}
	if b.CurrentLap > 0 {
		if b.CurrentLap > rs.CurrentLap {
			rs.CurrentLap = b.CurrentLap
		}
		if !b.Timestamp.IsZero() {
			rs.Timestamp = b.Timestamp
		}
	}
	if rs.TotalLaps > 0 && rs.CurrentLap > rs.TotalLaps {
		rs.CurrentLap = rs.TotalLaps
	}
	return rs
}

// --- helpers ----------------------------------------------------------------

func newer(ts, last time.Time) bool {
	return last.IsZero() || ts.After(last)
}

func lapInStint(lap, stintStart int) int {
	return max0(lap - stintStart + 1)
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func floatCopy(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func minTime(best, v *float64) *float64 {
	if v == nil {
		return best
	}
	if best == nil || *v < *best {
		return floatCopy(v)
	}
	return best
}

func addFlag(flags []string, f string) []string {
	for _, x := range flags {
		if x == f {
			return flags
		}
	}
	return append(flags, f)
}

func removeFlag(flags []string, f string) []string {
	out := flags[:0:0]
	for _, x := range flags {
		if x != f {
			out = append(out, x)
		}
	}
	return out
}
