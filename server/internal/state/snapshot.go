package state

import (
	"math"
	"time"
)

// Snapshot is the JSON view of a RaceState served over HTTP and WebSocket.
type Snapshot struct {
	SessionKey       string        `json:"session_key"`
	SessionName      string        `json:"session_name,omitempty"`
	TrackID          string        `json:"track_id,omitempty"`
	RunID            string        `json:"run_id,omitempty"`
	CurrentLap       int           `json:"current_lap"`
	TotalLaps        int           `json:"total_laps"`
	Timestamp        *time.Time    `json:"timestamp"`
	Flags            []string      `json:"flags"`
	SafetyCar        bool          `json:"safety_car"`
	VirtualSafetyCar bool          `json:"virtual_safety_car"`
	RedFlag          bool          `json:"red_flag"`
	Drivers          []DriverJSON  `json:"drivers"`
	RecentPits       []PitJSON     `json:"recent_pits"`
	RecentMessages   []MessageJSON `json:"recent_messages"`
}

// DriverJSON is the JSON view of a DriverState. Every float is a pointer so
// that absent and non-finite values both encode as null.
type DriverJSON struct {
	DriverNumber int    `json:"driver_number"`
	NameAcronym  string `json:"name_acronym"`
	FullName     string `json:"full_name"`
	TeamName     string `json:"team_name"`
	TeamColour   string `json:"team_colour"`

	Position    int      `json:"position"`
	GapToLeader *float64 `json:"gap_to_leader"`
	GapToAhead  *float64 `json:"gap_to_ahead"`

	CurrentLap  int      `json:"current_lap"`
	LastLapTime *float64 `json:"last_lap_time"`
	BestLapTime *float64 `json:"best_lap_time"`
	Sector1     *float64 `json:"sector_1"`
	Sector2     *float64 `json:"sector_2"`
	Sector3     *float64 `json:"sector_3"`

	StintNumber   int    `json:"stint_number"`
	Compound      string `json:"compound"`
	StintStartLap int    `json:"stint_start_lap"`
	LapInStint    int    `json:"lap_in_stint"`
	TyreAge       int    `json:"tyre_age"`

	DegSlope        *float64   `json:"deg_slope"`
	CliffRisk       *float64   `json:"cliff_risk"`
	PredictedPace   []*float64 `json:"predicted_pace"`
	ModelConfidence *float64   `json:"model_confidence"`

	PitWindowMin       int      `json:"pit_window_min"`
	PitWindowMax       int      `json:"pit_window_max"`
	PitWindowIdeal     int      `json:"pit_window_ideal"`
	PitRecommendation  string   `json:"pit_recommendation"`
	PitConfidence      *float64 `json:"pit_confidence"`
	PitReason          string   `json:"pit_reason"`
	PitCompound        string   `json:"pit_compound,omitempty"`
	UndercutThreat     bool     `json:"undercut_threat"`
	OvercutOpportunity bool     `json:"overcut_opportunity"`

	IsPitOutLap bool       `json:"is_pit_out_lap"`
	Retired     bool       `json:"retired"`
	LastUpdate  *time.Time `json:"last_update"`
}

// PitJSON is the JSON view of a PitEvent.
type PitJSON struct {
	DriverNumber int        `json:"driver_number"`
	LapNumber    int        `json:"lap_number"`
	PitDuration  *float64   `json:"pit_duration"`
	Timestamp    *time.Time `json:"timestamp"`
}

// MessageJSON is the JSON view of a ControlMessage.
type MessageJSON struct {
	Category  string     `json:"category"`
	Flag      string     `json:"flag,omitempty"`
	Message   string     `json:"message"`
	LapNumber *int       `json:"lap_number"`
	Timestamp *time.Time `json:"timestamp"`
}

// Num returns a pointer to v, or nil when v is NaN or infinite.
func Num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NumPtr is Num for optional values.
func NumPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Num(*p)
}

// ToSnapshot converts rs into its JSON view. A nil state yields an empty
// snapshot.
func ToSnapshot(rs *RaceState) Snapshot {
	if rs == nil {
		return Snapshot{
			Flags:          []string{},
			Drivers:        []DriverJSON{},
			RecentPits:     []PitJSON{},
			RecentMessages: []MessageJSON{},
		}
	}

	snap := Snapshot{
		SessionKey:       rs.SessionKey,
		SessionName:      rs.SessionName,
		TrackID:          rs.TrackID,
		RunID:            rs.RunID,
		CurrentLap:       rs.CurrentLap,
		TotalLaps:        rs.TotalLaps,
		Timestamp:        timePtr(rs.Timestamp),
		Flags:            append([]string{}, rs.Flags...),
		SafetyCar:        rs.SafetyCar,
		VirtualSafetyCar: rs.VirtualSafetyCar,
		RedFlag:          rs.RedFlag,
		Drivers:          make([]DriverJSON, 0, len(rs.Drivers)),
		RecentPits:       make([]PitJSON, 0, len(rs.RecentPits)),
		RecentMessages:   make([]MessageJSON, 0, len(rs.RecentMessages)),
	}
	for _, d := range rs.SortedDrivers() {
		snap.Drivers = append(snap.Drivers, DriverToJSON(d))
	}
	for _, p := range rs.RecentPits {
		snap.RecentPits = append(snap.RecentPits, PitJSON{
			DriverNumber: p.DriverNumber,
			LapNumber:    p.LapNumber,
			PitDuration:  NumPtr(p.PitDuration),
			Timestamp:    timePtr(p.Timestamp),
		})
	}
	for _, m := range rs.RecentMessages {
		snap.RecentMessages = append(snap.RecentMessages, MessageJSON{
			Category:  m.Category,
			Flag:      m.Flag,
			Message:   m.Message,
			LapNumber: m.LapNumber,
			Timestamp: timePtr(m.Timestamp),
		})
	}
	return snap
}

// DriverToJSON converts one DriverState.
func DriverToJSON(d DriverState) DriverJSON {
	pace := make([]*float64, len(d.PredictedPace))
	for i, v := range d.PredictedPace {
		pace[i] = Num(v)
	}
	return DriverJSON{
		DriverNumber:       d.DriverNumber,
		NameAcronym:        d.NameAcronym,
		FullName:           d.FullName,
		TeamName:           d.TeamName,
		TeamColour:         d.TeamColour,
		Position:           d.Position,
		GapToLeader:        NumPtr(d.GapToLeader),
		GapToAhead:         NumPtr(d.GapToAhead),
		CurrentLap:         d.CurrentLap,
		LastLapTime:        NumPtr(d.LastLapTime),
		BestLapTime:        NumPtr(d.BestLapTime),
		Sector1:            NumPtr(d.Sector1),
		Sector2:            NumPtr(d.Sector2),
		Sector3:            NumPtr(d.Sector3),
		StintNumber:        d.StintNumber,
		Compound:           d.Compound,
		StintStartLap:      d.StintStartLap,
		LapInStint:         d.LapInStint,
		TyreAge:            d.TyreAge,
		DegSlope:           Num(d.DegSlope),
		CliffRisk:          Num(d.CliffRisk),
		PredictedPace:      pace,
		ModelConfidence:    Num(d.ModelConfidence),
		PitWindowMin:       d.PitWindowMin,
		PitWindowMax:       d.PitWindowMax,
		PitWindowIdeal:     d.PitWindowIdeal,
		PitRecommendation:  d.PitRecommendation,
		PitConfidence:      Num(d.PitConfidence),
		PitReason:          d.PitReason,
		PitCompound:        d.PitCompound,
		UndercutThreat:     d.UndercutThreat,
		OvercutOpportunity: d.OvercutOpportunity,
		IsPitOutLap:        d.IsPitOutLap,
		Retired:            d.Retired,
		LastUpdate:         timePtr(d.LastUpdate),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
