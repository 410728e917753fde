package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/pitwall/pitwall/server/internal/degradation"
	"github.com/pitwall/pitwall/server/internal/montecarlo"
	"github.com/pitwall/pitwall/server/internal/session"
	"github.com/pitwall/pitwall/server/internal/strategy"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultBroadcastInterval = 5 * time.Second
	DefaultTotalLaps         = 57
	DefaultOutlierSigma      = 3.0
	DefaultAlertCooldown     = 15 * time.Minute
	DefaultSpeed             = 1.0
)

// Config is the root of config.yaml.
type Config struct {
	Server      ServerConfig             `yaml:"server"`
	Session     SessionConfig            `yaml:"session"`
	Strategy    StrategyConfig           `yaml:"strategy"`
	Degradation DegradationConfig        `yaml:"degradation"`
	MonteCarlo  MonteCarloConfig         `yaml:"monte_carlo"`
	Physics     PhysicsConfig            `yaml:"physics"`
	Traffic     TrafficConfig            `yaml:"traffic"`
	Tracks      map[string]TrackOverride `yaml:"tracks"`
	Alerts      AlertsConfig             `yaml:"alerts"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval re-sends the current snapshot to WebSocket clients
	// when no new state arrives (default 5s).
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// GRPCPort accepts pushed telemetry when no replay is configured.
	// 0 disables the ingest server.
	GRPCPort int `yaml:"grpc_port"`

	// GRPCKeyEnv names the environment variable holding the API key pushers
	// must send. Unset or empty leaves the ingest server open.
	GRPCKeyEnv string `yaml:"grpc_key_env"`
}

// GRPCKey returns the ingest API key resolved from the environment.
func (s ServerConfig) GRPCKey() string {
	if s.GRPCKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.GRPCKeyEnv)
}

// SessionConfig describes the race being followed.
type SessionConfig struct {
	SessionKey  string `yaml:"session_key"`
	SessionName string `yaml:"session_name"`
	TrackID     string `yaml:"track_id"`
	TotalLaps   int    `yaml:"total_laps"`

	// ReplayPath is a JSON-lines file of telemetry batches.
	ReplayPath string `yaml:"replay_path"`

	// LapInterval paces the replay; 0 runs as fast as batches are read.
	LapInterval time.Duration `yaml:"lap_interval"`

	// Speed scales LapInterval: 2 plays twice as fast. Defaults to 1.
	Speed float64 `yaml:"speed"`

	// ReportPath receives the backtest report when the replay ends.
	ReportPath string `yaml:"report_path"`

	// History keeps the last 100 published states in the store.
	History bool `yaml:"history"`

	// FocusDriver gets a Monte Carlo comparison every lap. 0 disables it.
	FocusDriver int `yaml:"focus_driver"`
}

// StrategyConfig holds the decision-engine heuristics.
type StrategyConfig struct {
	PitLoss           float64 `yaml:"pit_loss"`
	MinStintLaps      int     `yaml:"min_stint_laps"`
	RivalDefaultDeg   float64 `yaml:"rival_default_deg"`
	PredictionHorizon int     `yaml:"prediction_horizon"`
}

// DegradationConfig holds the estimator settings.
type DegradationConfig struct {
	ForgettingFactor     float64                `yaml:"forgetting_factor"`
	InitialCovariance    float64                `yaml:"initial_covariance"`
	Regularization       float64                `yaml:"regularization"`
	WarmStartUncertainty float64                `yaml:"warm_start_uncertainty"`
	MinObservations      int                    `yaml:"min_observations"`
	DefaultBasePace      float64                `yaml:"default_base_pace"`
	OutlierSigma         float64                `yaml:"outlier_sigma"`
	Priors               map[string]PriorConfig `yaml:"priors"`
}

// PriorConfig overrides the expected behaviour of one compound.
type PriorConfig struct {
	DegPerLap          float64 `yaml:"deg_per_lap"`
	DegStd             float64 `yaml:"deg_std"`
	CliffLap           int     `yaml:"cliff_lap"`
	CliffRiskThreshold float64 `yaml:"cliff_risk_threshold"`
}

// MonteCarloConfig controls the outcome simulator.
type MonteCarloConfig struct {
	Simulations       int     `yaml:"simulations"`
	ParallelThreshold int     `yaml:"parallel_threshold"`
	Workers           int     `yaml:"workers"`
	Seed              int64   `yaml:"seed"`
	SCProbability     float64 `yaml:"sc_probability"`
	VSCProbability    float64 `yaml:"vsc_probability"`
	VSCPitDiscount    float64 `yaml:"vsc_pit_discount"`
	NoiseSigma        float64 `yaml:"noise_sigma"`
}

// PhysicsConfig holds the lap-time model constants.
type PhysicsConfig struct {
	FuelStartKg          float64 `yaml:"fuel_start_kg"`
	FuelBurnKgPerLap     float64 `yaml:"fuel_burn_kg_per_lap"`
	FuelTimePerKg        float64 `yaml:"fuel_time_per_kg"`
	TrackEvolutionPerLap float64 `yaml:"track_evolution_per_lap"`
	TrackEvolutionMax    float64 `yaml:"track_evolution_max"`
	DirtyAirThreshold    float64 `yaml:"dirty_air_threshold"`
	DirtyAirMaxPenalty   float64 `yaml:"dirty_air_max_penalty"`
}

// TrafficConfig holds the dirty-air detection thresholds.
type TrafficConfig struct {
	CloseGap       float64 `yaml:"close_gap"`
	SustainedLaps  int     `yaml:"sustained_laps"`
	SustainedBoost float64 `yaml:"sustained_boost"`
}

// TrackOverride replaces selected values for one circuit. Zero fields keep
// the base value.
type TrackOverride struct {
	PitLoss       float64 `yaml:"pit_loss"`
	MinStintLaps  int     `yaml:"min_stint_laps"`
	SCProbability float64 `yaml:"sc_probability"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one per-driver alert condition.
type AlertRule struct {
	// Name identifies the rule; with the driver number it is the
	// deduplication key.
	Name string `yaml:"name"`

	// Condition is "field op value", e.g. "cliff_risk > 0.7",
	// "action == PIT_NOW", "undercut == true".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration. Defaults to 15 minutes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with the production defaults.
func Defaults() *Config {
	st := strategy.DefaultTuning()
	mc := montecarlo.DefaultConfig()
	ph := montecarlo.DefaultPhysics()
	md := degradation.DefaultModelConfig()
	tr := degradation.DefaultTrafficConfig()
	return &Config{
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Session: SessionConfig{
			TotalLaps: DefaultTotalLaps,
			Speed:     DefaultSpeed,
			History:   true,
		},
		Strategy: StrategyConfig{
			PitLoss:           st.PitLoss,
			MinStintLaps:      st.MinStintLaps,
			RivalDefaultDeg:   st.RivalDefaultDeg,
			PredictionHorizon: st.PredictionHorizon,
		},
		Degradation: DegradationConfig{
			ForgettingFactor:     md.ForgettingFactor,
			InitialCovariance:    md.InitialCovariance,
			Regularization:       md.Regularization,
			WarmStartUncertainty: md.WarmStartUncertainty,
			MinObservations:      md.MinObservations,
			DefaultBasePace:      md.DefaultBasePace,
			OutlierSigma:         DefaultOutlierSigma,
		},
		MonteCarlo: MonteCarloConfig{
			Simulations:       mc.Simulations,
			ParallelThreshold: mc.ParallelThreshold,
			SCProbability:     mc.SCProbability,
			VSCProbability:    mc.VSCProbability,
			VSCPitDiscount:    mc.VSCPitDiscount,
			NoiseSigma:        mc.NoiseSigma,
		},
		Physics: PhysicsConfig(ph),
		Traffic: TrafficConfig(tr),
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.GRPCPort != 0 && cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port are both %d", cfg.Server.GRPCPort)
	}
	if cfg.Session.TotalLaps <= 0 {
		return fmt.Errorf("session.total_laps must be positive, got %d", cfg.Session.TotalLaps)
	}
	if cfg.Session.LapInterval < 0 {
		return fmt.Errorf("session.lap_interval must not be negative")
	}
	if sp := cfg.Session.Speed; sp < session.MinSpeed || sp > session.MaxSpeed {
		return fmt.Errorf("session.speed %v is out of range [%v, %v]", sp, session.MinSpeed, session.MaxSpeed)
	}
	if cfg.Strategy.PitLoss <= 0 {
		return fmt.Errorf("strategy.pit_loss must be positive, got %v", cfg.Strategy.PitLoss)
	}
	if cfg.Strategy.MinStintLaps < 1 {
		return fmt.Errorf("strategy.min_stint_laps must be at least 1, got %d", cfg.Strategy.MinStintLaps)
	}
	if cfg.Strategy.PredictionHorizon < 1 {
		return fmt.Errorf("strategy.prediction_horizon must be at least 1")
	}
	if f := cfg.Degradation.ForgettingFactor; f <= 0 || f > 1 {
		return fmt.Errorf("degradation.forgetting_factor %v is out of range (0, 1]", f)
	}
	if cfg.Degradation.OutlierSigma <= 0 {
		return fmt.Errorf("degradation.outlier_sigma must be positive")
	}
	if _, err := cfg.Priors(); err != nil {
		return fmt.Errorf("degradation.priors: %w", err)
	}
	if cfg.MonteCarlo.Simulations < 1 {
		return fmt.Errorf("monte_carlo.simulations must be at least 1, got %d", cfg.MonteCarlo.Simulations)
	}
	if cfg.MonteCarlo.Workers < 0 {
		return fmt.Errorf("monte_carlo.workers must not be negative")
	}
	for name, p := range map[string]float64{
		"sc_probability":   cfg.MonteCarlo.SCProbability,
		"vsc_probability":  cfg.MonteCarlo.VSCProbability,
		"vsc_pit_discount": cfg.MonteCarlo.VSCPitDiscount,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("monte_carlo.%s %v is out of range [0, 1]", name, p)
		}
	}
	for id, o := range cfg.Tracks {
		if o.PitLoss < 0 || o.MinStintLaps < 0 || o.SCProbability < 0 || o.SCProbability > 1 {
			return fmt.Errorf("tracks.%s: override values out of range", id)
		}
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d]: name and condition are required", i)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d].severity %q unknown: want critical|warning|info", i, r.Severity)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
	}
	return nil
}

// ForTrack returns a copy of the configuration with the override for id
// merged over the base and validated. An unknown id returns an unchanged copy.
func (c *Config) ForTrack(id string) (*Config, error) {
	out := *c
	o, ok := c.Tracks[strings.ToLower(id)]
	if !ok {
		o, ok = c.Tracks[id]
	}
	if !ok {
		return &out, nil
	}
	st := StrategyConfig{PitLoss: o.PitLoss, MinStintLaps: o.MinStintLaps}
	if err := mergo.Merge(&out.Strategy, st, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge track %q: %w", id, err)
	}
	mc := MonteCarloConfig{SCProbability: o.SCProbability}
	if err := mergo.Merge(&out.MonteCarlo, mc, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge track %q: %w", id, err)
	}
	if err := validate(&out); err != nil {
		return nil, fmt.Errorf("config: track %q: %w", id, err)
	}
	return &out, nil
}

// Tuning returns the strategy parameters.
func (c *Config) Tuning() strategy.Tuning {
	return strategy.Tuning{
		PitLoss:           c.Strategy.PitLoss,
		MinStintLaps:      c.Strategy.MinStintLaps,
		RivalDefaultDeg:   c.Strategy.RivalDefaultDeg,
		PredictionHorizon: c.Strategy.PredictionHorizon,
	}
}

// ModelConfig returns the estimator settings.
func (c *Config) ModelConfig() degradation.ModelConfig {
	d := c.Degradation
	return degradation.ModelConfig{
		ForgettingFactor:     d.ForgettingFactor,
		InitialCovariance:    d.InitialCovariance,
		Regularization:       d.Regularization,
		WarmStartUncertainty: d.WarmStartUncertainty,
		MinObservations:      d.MinObservations,
		DefaultBasePace:      d.DefaultBasePace,
	}
}

// Priors builds the compound table. An empty table selects the built-in one.
func (c *Config) Priors() (*degradation.Priors, error) {
	if len(c.Degradation.Priors) == 0 {
		return degradation.NewPriors(nil)
	}
	table := make(map[string]degradation.Prior, len(c.Degradation.Priors))
	for name, p := range c.Degradation.Priors {
		table[name] = degradation.Prior(p)
	}
	return degradation.NewPriors(table)
}

// SimulatorConfig returns the Monte Carlo settings.
func (c *Config) SimulatorConfig() montecarlo.Config {
	return montecarlo.Config(c.MonteCarlo)
}

// PhysicsModel returns the lap-time model constants.
func (c *Config) PhysicsModel() montecarlo.Physics {
	return montecarlo.Physics(c.Physics)
}

// TrafficModel returns the traffic thresholds.
func (c *Config) TrafficModel() degradation.TrafficConfig {
	return degradation.TrafficConfig(c.Traffic)
}
