package degradation

import "sort"

// Observation is one completed lap handed to the Manager.
type Observation struct {
	DriverNumber int
	Lap          int // race lap
	LapInStint   int
	LapTime      float64
	StintNumber  int
	Compound     string
	Valid        bool
}

// startLap is the race lap the observation's stint began on.
func (o Observation) startLap() int {
	if o.Lap <= 0 || o.LapInStint <= 0 {
		return 1
	}
	if s := o.Lap - o.LapInStint + 1; s > 0 {
		return s
	}
	return 1
}

// Manager is the per-session registry of driver models. It is not safe for
// concurrent use.
type Manager struct {
	cfg    ModelConfig
	priors *Priors
	models map[int]*DriverModel
}

// NewManager returns an empty registry. A nil priors table selects the
// defaults.
func NewManager(cfg ModelConfig, priors *Priors) *Manager {
	if priors == nil {
		priors = MustDefaultPriors()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		priors: priors,
		models: make(map[int]*DriverModel),
	}
}

// Priors returns the compound table in use.
func (m *Manager) Priors() *Priors { return m.priors }

// Model returns the driver's model, creating it when absent.
func (m *Manager) Model(number int) *DriverModel {
	dm, ok := m.models[number]
	if !ok {
		dm = NewDriverModel(number, m.cfg, m.priors)
		m.models[number] = dm
	}
	return dm
}

// Lookup returns the driver's model without creating one.
func (m *Manager) Lookup(number int) (*DriverModel, bool) {
	dm, ok := m.models[number]
	return dm, ok
}

// UpdateDriver feeds one lap to the driver's model. A new stint number
// starts a new estimator before the lap is applied. It returns the residual.
func (m *Manager) UpdateDriver(o Observation) float64 {
	dm := m.Model(o.DriverNumber)
	if cur := dm.Current(); cur == nil || cur.StintNumber != o.StintNumber {
		dm.NewStint(o.StintNumber, o.Compound, o.startLap(), 0)
	}
	return dm.Update(o.LapInStint, o.LapTime, o.Valid)
}

// IsOutlier reports whether lapTime is an outlier against the valid laps of
// the driver's current stint. A lap starting a new stint is never an outlier.
func (m *Manager) IsOutlier(number, stintNumber int, lapTime, sigma float64) bool {
	dm, ok := m.models[number]
	if !ok {
		return false
	}
	cur := dm.Current()
	if cur == nil || cur.StintNumber != stintNumber {
		return false
	}
	return IsOutlier(cur.ValidLapTimes, lapTime, sigma)
}

// Prediction returns the driver's prediction over k laps.
func (m *Manager) Prediction(number, k int) (Prediction, bool) {
	dm, ok := m.models[number]
	if !ok {
		return Prediction{}, false
	}
	return dm.Prediction(k)
}

// Predictions returns a prediction for every driver with an active stint.
func (m *Manager) Predictions(k int) map[int]Prediction {
	out := make(map[int]Prediction, len(m.models))
	for n, dm := range m.models {
		if p, ok := dm.Prediction(k); ok {
			out[n] = p
		}
	}
	return out
}

// Drivers returns the modelled driver numbers in ascending order.
func (m *Manager) Drivers() []int {
	out := make([]int, 0, len(m.models))
	for n := range m.models {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Reset drops every model.
func (m *Manager) Reset() {
	m.models = make(map[int]*DriverModel)
}
