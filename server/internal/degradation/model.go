package degradation

import "strings"

// baseEMAWeight is the weight of the running base-pace estimate against a new
// valid lap.
const baseEMAWeight = 0.9

// ModelConfig tunes the per-driver models.
type ModelConfig struct {
	ForgettingFactor     float64
	InitialCovariance    float64
	Regularization       float64
	WarmStartUncertainty float64
	MinObservations      int
	DefaultBasePace      float64
}

// DefaultModelConfig returns the production defaults.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ForgettingFactor:     DefaultForgettingFactor,
		InitialCovariance:    DefaultInitialCovariance,
		Regularization:       DefaultRegularization,
		WarmStartUncertainty: 50,
		MinObservations:      3,
		DefaultBasePace:      90,
	}
}

func (c ModelConfig) withDefaults() ModelConfig {
	d := DefaultModelConfig()
	if c.ForgettingFactor <= 0 {
		c.ForgettingFactor = d.ForgettingFactor
	}
	if c.InitialCovariance <= 0 {
		c.InitialCovariance = d.InitialCovariance
	}
	if c.Regularization <= 0 {
		c.Regularization = d.Regularization
	}
	if c.WarmStartUncertainty <= 0 {
		c.WarmStartUncertainty = d.WarmStartUncertainty
	}
	if c.MinObservations <= 0 {
		c.MinObservations = d.MinObservations
	}
	if c.DefaultBasePace <= 0 {
		c.DefaultBasePace = d.DefaultBasePace
	}
	return c
}

// StintModel is the estimator state for one stint.
type StintModel struct {
	StintNumber int
	Compound    string
	StartLap    int
	RLS         *RLS

	// LapTimes holds every lap seen in the stint; ValidLapTimes only those fed
	// to the estimator.
	LapTimes      []float64
	ValidLapTimes []float64

	LastLapInStint int
	Active         bool
}

// currentLap is the lap-in-stint that predictions are indexed from.
func (s *StintModel) currentLap() int {
	if s.LastLapInStint > 0 {
		return s.LastLapInStint
	}
	return len(s.LapTimes)
}

// Prediction is the estimator output for one driver.
type Prediction struct {
	DriverNumber     int
	StintNumber      int
	Compound         string
	BasePace         float64
	DegSlope         float64
	PredictedCurrent float64
	PredictedNext    []float64
	CliffRisk        float64
	ModelConfidence  float64
	Observations     int
}

// DriverModel tracks one driver across stints.
type DriverModel struct {
	number int
	cfg    ModelConfig
	priors *Priors

	current *StintModel
	history []*StintModel

	basePace    float64
	hasBasePace bool
}

// NewDriverModel returns a model with no stint. A nil priors table selects
// the defaults.
func NewDriverModel(number int, cfg ModelConfig, priors *Priors) *DriverModel {
	if priors == nil {
		priors = MustDefaultPriors()
	}
	return &DriverModel{number: number, cfg: cfg.withDefaults(), priors: priors}
}

// DriverNumber returns the driver this model belongs to.
func (m *DriverModel) DriverNumber() int { return m.number }

// NewStint archives the current stint and starts a fresh estimator,
// warm-started from the compound prior. basePace <= 0 means unknown: the
// driver's running estimate is used, else the configured default.
func (m *DriverModel) NewStint(stintNumber int, compound string, startLap int, basePace float64) {
	if m.current != nil {
		m.current.Active = false
		m.history = append(m.history, m.current)
	}

	compound = strings.ToUpper(compound)
	if compound == "" {
		compound = FallbackCompound
	}

	base := basePace
	if base <= 0 {
		if m.hasBasePace {
			base = m.basePace
		} else {
			base = m.cfg.DefaultBasePace
		}
	}

	rls := NewRLS(m.cfg.ForgettingFactor, m.cfg.InitialCovariance, m.cfg.Regularization)
	rls.WarmStart(base, m.priors.Lookup(compound).DegPerLap, m.cfg.WarmStartUncertainty)

	m.current = &StintModel{
		StintNumber: stintNumber,
		Compound:    compound,
		StartLap:    startLap,
		RLS:         rls,
		Active:      true,
	}
}

// Update records a lap. Only valid laps with a positive time reach the
// estimator; the residual is 0 otherwise. A driver with no stint gets stint 1
// on MEDIUM.
func (m *DriverModel) Update(lapInStint int, lapTime float64, valid bool) float64 {
	if m.current == nil {
		m.NewStint(1, FallbackCompound, 1, 0)
	}
	s := m.current
	s.LapTimes = append(s.LapTimes, lapTime)
	if lapInStint > s.LastLapInStint {
		s.LastLapInStint = lapInStint
	}

	if !valid || !(lapTime > 0) {
		return 0
	}

	err := s.RLS.Update(Features(lapInStint), lapTime)
	s.ValidLapTimes = append(s.ValidLapTimes, lapTime)

	if !m.hasBasePace {
		m.basePace = lapTime
		m.hasBasePace = true
	} else {
		m.basePace = baseEMAWeight*m.basePace + (1-baseEMAWeight)*lapTime
	}
	return err
}

// PredictNext returns predicted lap times for the k laps after the last
// observed lap-in-stint.
func (m *DriverModel) PredictNext(k int) []float64 {
	if m.current == nil || k <= 0 {
		return nil
	}
	cur := m.current.currentLap()
	out := make([]float64, k)
	for i := range out {
		out[i] = m.current.RLS.Predict(Features(cur + i + 1))
	}
	return out
}

// Prediction returns the full estimator output, or false when the driver has
// no stint yet.
func (m *DriverModel) Prediction(k int) (Prediction, bool) {
	if m.current == nil {
		return Prediction{}, false
	}
	s := m.current
	slope := s.RLS.DegSlope()
	return Prediction{
		DriverNumber:     m.number,
		StintNumber:      s.StintNumber,
		Compound:         s.Compound,
		BasePace:         s.RLS.BasePace(),
		DegSlope:         slope,
		PredictedCurrent: s.RLS.Predict(Features(s.currentLap())),
		PredictedNext:    m.PredictNext(k),
		CliffRisk:        m.priors.CliffRisk(s.Compound, slope),
		ModelConfidence:  m.confidence(),
		Observations:     s.RLS.Updates(),
	}, true
}

// confidence ramps to 0.3 while observations are below the minimum, then
// falls with RMSE, floored at 0.3.
func (m *DriverModel) confidence() float64 {
	rls := m.current.RLS
	n, need := rls.Updates(), m.cfg.MinObservations
	if n < need {
		return 0.3 * float64(n) / float64(need)
	}
	c := 1 - minf(1, rls.RMSE()/2)
	if c < 0.3 {
		return 0.3
	}
	return c
}

// DegSlope returns the current stint's slope, 0 without a stint.
func (m *DriverModel) DegSlope() float64 {
	if m.current == nil {
		return 0
	}
	return m.current.RLS.DegSlope()
}

// CliffRisk returns the current stint's cliff risk in [0, 1].
func (m *DriverModel) CliffRisk() float64 {
	if m.current == nil {
		return 0
	}
	return m.priors.CliffRisk(m.current.Compound, m.current.RLS.DegSlope())
}

// Current returns the active stint, or nil.
func (m *DriverModel) Current() *StintModel { return m.current }

// Stints returns archived stints followed by the active one.
func (m *DriverModel) Stints() []*StintModel {
	out := append([]*StintModel(nil), m.history...)
	if m.current != nil {
		out = append(out, m.current)
	}
	return out
}

// EstimatedBasePace is the running average of valid lap times.
func (m *DriverModel) EstimatedBasePace() (float64, bool) {
	return m.basePace, m.hasBasePace
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
