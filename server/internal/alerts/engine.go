package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/pitwall/pitwall/server/internal/config"
	"github.com/pitwall/pitwall/server/internal/state"
)

const (
	defaultCooldown = config.DefaultAlertCooldown
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one fired (or recently resolved) rule for one driver.
type Alert struct {
	ID           string     `json:"id"`
	RuleName     string     `json:"rule_name"`
	DriverNumber int        `json:"driver_number"`
	Driver       string     `json:"driver,omitempty"`
	Severity     string     `json:"severity"`
	Message      string     `json:"message"`
	Value        float64    `json:"value"`
	Lap          int        `json:"lap"`
	FiredAt      time.Time  `json:"fired_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedLap  int        `json:"resolved_lap,omitempty"`
	State        string     `json:"state"`
	// Strategy is the driver's strategy picture when the alert last changed
	// state.
	Strategy Strategy `json:"strategy"`
}

// Strategy is the part of a driver's state that webhook receivers act on.
type Strategy struct {
	Position     int     `json:"position,omitempty"`
	Action       string  `json:"action,omitempty"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason,omitempty"`
	WindowMin    int     `json:"window_min,omitempty"`
	WindowIdeal  int     `json:"window_ideal,omitempty"`
	WindowMax    int     `json:"window_max,omitempty"`
	Compound     string  `json:"compound,omitempty"`
	TyreAge      int     `json:"tyre_age"`
	NextCompound string  `json:"next_compound,omitempty"`
	CliffRisk    float64 `json:"cliff_risk"`
}

func strategyOf(d state.DriverState) Strategy {
	return Strategy{
		Position:     d.Position,
		Action:       d.PitRecommendation,
		Confidence:   d.PitConfidence,
		Reason:       d.PitReason,
		WindowMin:    d.PitWindowMin,
		WindowIdeal:  d.PitWindowIdeal,
		WindowMax:    d.PitWindowMax,
		Compound:     d.Compound,
		TyreAge:      d.TyreAge,
		NextCompound: d.PitCompound,
		CliffRisk:    d.CliffRisk,
	}
}

// Engine evaluates rules against race states. All methods are safe for
// concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time
	send     func(*Alert)

	mu       sync.Mutex
	active   map[string]*Alert    // key: "rule:driver"
	lastFire map[string]time.Time // cooldown per key
	history  []*Alert             // recently resolved
}

// New creates an Engine for the configured rules and webhooks.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	e.send = func(a *Alert) { go e.deliver(a) }
	return e
}

// Attach subscribes the engine to st. The returned function detaches it.
func (e *Engine) Attach(st *state.Store) (detach func()) {
	return st.Subscribe(func(rs *state.RaceState) error {
		e.Evaluate(rs)
		return nil
	})
}

// Evaluate runs every rule against every driver in rs. Retired drivers only
// resolve.
func (e *Engine) Evaluate(rs *state.RaceState) {
	if len(e.rules) == 0 || rs == nil {
		return
	}
	now := e.now()

	for _, d := range rs.SortedDrivers() {
		for _, rule := range e.rules {
			fires, value := evalCondition(rule.Condition, d)
			if d.Retired {
				fires = false
			}
			key := fmt.Sprintf("%s:%d", rule.Name, d.DriverNumber)

			if fires {
				e.fire(key, rule, d, value, rs.CurrentLap, now)
			} else {
				e.resolve(key, d, rs.CurrentLap, now)
			}
		}
	}
}

func (e *Engine) fire(key string, rule config.AlertRule, d state.DriverState, value float64, lap int, now time.Time) {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	e.mu.Lock()
	if _, firing := e.active[key]; firing {
		e.mu.Unlock()
		return
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
		e.mu.Unlock()
		return
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	name := d.NameAcronym
	if name == "" {
		name = fmt.Sprintf("#%d", d.DriverNumber)
	}
	a := &Alert{
		ID:           ksuid.New().String(),
		RuleName:     rule.Name,
		DriverNumber: d.DriverNumber,
		Driver:       d.NameAcronym,
		Severity:     sev,
		Value:        value,
		Lap:          lap,
		Message:      fmt.Sprintf("[%s] %s fired for %s on lap %d: %s (value %.2f)", sev, rule.Name, name, lap, rule.Condition, value),
		FiredAt:      now,
		State:        StateFiring,
		Strategy:     strategyOf(d),
	}
	e.active[key] = a
	e.lastFire[key] = now
	cp := *a
	e.mu.Unlock()

	slog.Warn("alerts: fired", "rule", rule.Name, "driver", d.DriverNumber, "lap", lap, "value", value, "severity", sev)
	e.send(&cp)
}

// resolve closes the alert under key with d's strategy as of lap.
func (e *Engine) resolve(key string, d state.DriverState, lap int, now time.Time) {
	e.mu.Lock()
	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	a.ResolvedLap = lap
	a.Strategy = strategyOf(d)
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	e.mu.Unlock()

	slog.Info("alerts: resolved", "rule", a.RuleName, "driver", a.DriverNumber)
	e.send(&cp)
}

// Active returns the firing alerts plus those resolved within the last hour,
// newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
