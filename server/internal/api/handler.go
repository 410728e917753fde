package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pitwall/pitwall/server/internal/alerts"
	"github.com/pitwall/pitwall/server/internal/backtest"
	"github.com/pitwall/pitwall/server/internal/montecarlo"
	"github.com/pitwall/pitwall/server/internal/session"
	"github.com/pitwall/pitwall/server/internal/state"
	"github.com/pitwall/pitwall/server/internal/strategy"
)

const (
	// maxSimulations caps the n query parameter.
	maxSimulations = 10000
	// defaultGridSimulations is used by /api/v1/grid when n is absent.
	defaultGridSimulations = 200
)

// Runner is the part of session.Runner the API reads.
type Runner interface {
	Recommendations() *session.Recommendations
	Tuning() session.Tuning
}

// AlertSource lists active alerts.
type AlertSource interface {
	Active() []alerts.Alert
}

// Player controls replay playback.
type Player interface {
	Playback() session.Playback
	Pause() error
	Resume() error
	Seek(lap int) error
	SetSpeed(x float64) float64
}

// Backtester scores the recommendations made so far.
type Backtester interface {
	Report() backtest.Report
}

// Deps are the optional collaborators of the handler. A nil field disables
// the routes that need it (they answer 503).
type Deps struct {
	Runner   Runner
	Alerts   AlertSource
	Player   Player
	Backtest Backtester
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store *state.Store
	deps  Deps
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a Handler reading from st and registers all routes.
func New(st *state.Store, deps Deps) http.Handler {
	h := &Handler{store: st, deps: deps, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/drivers/", h.driver) // subtree, extracts {n}
	h.mux.HandleFunc("/api/v1/recommendations", h.recommendations)
	h.mux.HandleFunc("/api/v1/simulate/", h.simulate)
	h.mux.HandleFunc("/api/v1/compare/", h.compare)
	h.mux.HandleFunc("/api/v1/grid", h.grid)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/replay", h.replay)
	h.mux.HandleFunc("/api/v1/replay/", h.replayControl) // play|pause|seek|speed
	h.mux.HandleFunc("/api/v1/backtest", h.backtest)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// BuildSnapshot renders rs for the API and the WebSocket hub.
func BuildSnapshot(rs *state.RaceState, now time.Time) SnapshotResponse {
	return SnapshotResponse{
		Snapshot:    state.ToSnapshot(rs),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rs := h.store.Get()
	resp := HealthResponse{
		Status:      "ok",
		SessionKey:  rs.SessionKey,
		RunID:       rs.RunID,
		CurrentLap:  rs.CurrentLap,
		TotalLaps:   rs.TotalLaps,
		DriverCount: len(rs.Drivers),
		UpdateCount: h.store.UpdateCount(),
	}
	if rs.CurrentLap == 0 {
		resp.Status = "waiting"
	}
	if h.deps.Alerts != nil {
		for _, a := range h.deps.Alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store.Get(), h.now()))
}

// driver returns GET /api/v1/drivers/{n}.
func (h *Handler) driver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n, ok := driverNumber(w, r.URL.Path, "/api/v1/drivers/")
	if !ok {
		return
	}
	d, ok := h.store.Get().Driver(n)
	if !ok {
		jsonErr(w, http.StatusNotFound, "driver not found")
		return
	}
	jsonResp(w, http.StatusOK, state.DriverToJSON(d))
}

// recommendations returns GET /api/v1/recommendations.
func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Runner == nil {
		jsonErr(w, http.StatusServiceUnavailable, "no session running")
		return
	}

	recs := h.deps.Runner.Recommendations()
	resp := RecommendationsResponse{Recommendations: []strategy.Summary{}}
	if recs != nil {
		resp.Lap = recs.Lap
		resp.GeneratedAt = recs.Generated.UTC().Format(time.RFC3339)
		for _, rec := range recs.Sorted() {
			resp.Recommendations = append(resp.Recommendations, rec.Summary())
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// simulate returns GET /api/v1/simulate/{n}. pit_lap is the race lap of the
// stop; absent means no stop. n overrides the trial count.
func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	number, ok := driverNumber(w, r.URL.Path, "/api/v1/simulate/")
	if !ok {
		return
	}
	rs, p, sim, ok := h.params(w, number)
	if !ok {
		return
	}

	q := r.URL.Query()
	p.PitLap = montecarlo.NoStop
	if v := q.Get("pit_lap"); v != "" {
		lap, err := strconv.Atoi(v)
		if err != nil || lap <= rs.CurrentLap || lap > rs.TotalLaps {
			jsonErr(w, http.StatusBadRequest, "pit_lap must be a future lap of the race")
			return
		}
		p.PitLap = lap - rs.CurrentLap - 1
	}
	n, ok := queryCount(w, q.Get("n"))
	if !ok {
		return
	}
	if n > 0 {
		p.Simulations = n
	}

	jsonResp(w, http.StatusOK, sim.SimulateRace(p))
}

// compare returns GET /api/v1/compare/{n}.
func (h *Handler) compare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	number, ok := driverNumber(w, r.URL.Path, "/api/v1/compare/")
	if !ok {
		return
	}
	rs, p, sim, ok := h.params(w, number)
	if !ok {
		return
	}

	c := sim.CompareStrategies(p)
	resp := CompareResponse{
		DriverNumber: number,
		Lap:          rs.CurrentLap,
		PitNow:       c.PitNow,
		StayOut:      c.StayOut,
		Gain:         c.Gain(),
		Better:       "stay_out",
	}
	if c.LaterLap != montecarlo.NoStop {
		resp.LaterLap = rs.CurrentLap + c.LaterLap + 1
	}
	if resp.Gain > 0 {
		resp.Better = "pit_now"
	}
	jsonResp(w, http.StatusOK, resp)
}

// grid returns GET /api/v1/grid, a whole-field simulation from the current
// lap to the flag.
func (h *Handler) grid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Runner == nil || h.deps.Runner.Tuning().Simulator == nil {
		jsonErr(w, http.StatusServiceUnavailable, "simulator not configured")
		return
	}
	n, ok := queryCount(w, r.URL.Query().Get("n"))
	if !ok {
		return
	}
	if n == 0 {
		n = defaultGridSimulations
	}

	t := h.deps.Runner.Tuning()
	rs := h.store.Get()
	cars := montecarlo.GridFromState(rs)
	if len(cars) == 0 || rs.RemainingLaps() <= 0 {
		jsonErr(w, http.StatusConflict, "no race in progress")
		return
	}

	outcomes := t.Simulator.SimulateGrid(cars, rs.CurrentLap, rs.RemainingLaps(), n, t.Strategy.PitLoss, 0)
	resp := GridResponse{Lap: rs.CurrentLap, Drivers: make([]montecarlo.Outcome, 0, len(outcomes))}
	for _, o := range outcomes {
		resp.Drivers = append(resp.Drivers, o)
	}
	sort.Slice(resp.Drivers, func(i, j int) bool {
		return resp.Drivers[i].ExpectedPosition < resp.Drivers[j].ExpectedPosition
	})
	jsonResp(w, http.StatusOK, resp)
}

// alerts returns GET /api/v1/alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []alerts.Alert{}
	if h.deps.Alerts != nil {
		out = append(out, h.deps.Alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

// params builds simulation inputs for a driver, writing the error response
// replay returns GET /api/v1/replay.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Player == nil {
		jsonErr(w, http.StatusServiceUnavailable, "playback control not available")
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Player.Playback())
}

// replayControl handles POST /api/v1/replay/{play|pause|seek|speed}. seek
// takes ?lap= and speed takes ?x=. Every action answers with the playback
// state after it.
func (h *Handler) replayControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p := h.deps.Player
	if p == nil {
		jsonErr(w, http.StatusServiceUnavailable, "playback control not available")
		return
	}

	var err error
	q := r.URL.Query()
	switch strings.TrimPrefix(r.URL.Path, "/api/v1/replay/") {
	case "play":
		err = p.Resume()
	case "pause":
		err = p.Pause()
	case "seek":
		lap, perr := strconv.Atoi(q.Get("lap"))
		if perr != nil {
			jsonErr(w, http.StatusBadRequest, "lap must be an integer")
			return
		}
		err = p.Seek(lap)
	case "speed":
		x, perr := strconv.ParseFloat(q.Get("x"), 64)
		if perr != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			jsonErr(w, http.StatusBadRequest, "x must be a number")
			return
		}
		p.SetSpeed(x)
	default:
		jsonErr(w, http.StatusNotFound, "unknown playback action")
		return
	}

	switch {
	case errors.Is(err, session.ErrSeekRange):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrCannotRewind), errors.Is(err, session.ErrFinished):
		jsonErr(w, http.StatusConflict, err.Error())
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	default:
		jsonResp(w, http.StatusOK, p.Playback())
	}
}

// backtest returns GET /api/v1/backtest. format=text renders the plain-text
// report instead of JSON.
func (h *Handler) backtest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Backtest == nil {
		jsonErr(w, http.StatusServiceUnavailable, "backtest not enabled")
		return
	}
	rep := h.deps.Backtest.Report()
	switch r.URL.Query().Get("format") {
	case "", "json":
		jsonResp(w, http.StatusOK, rep)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = backtest.Write(w, rep)
	default:
		jsonErr(w, http.StatusBadRequest, "format must be json or text")
	}
}

// itself when that is not possible.
func (h *Handler) params(w http.ResponseWriter, number int) (*state.RaceState, montecarlo.Params, *montecarlo.Simulator, bool) {
	if h.deps.Runner == nil || h.deps.Runner.Tuning().Simulator == nil {
		jsonErr(w, http.StatusServiceUnavailable, "simulator not configured")
		return nil, montecarlo.Params{}, nil, false
	}
	t := h.deps.Runner.Tuning()
	rs := h.store.Get()
	p, ok := montecarlo.ParamsFor(rs, number, t.Strategy.PitLoss, t.Strategy.RivalDefaultDeg)
	if !ok {
		jsonErr(w, http.StatusNotFound, "driver not found")
		return nil, montecarlo.Params{}, nil, false
	}
	if p.RemainingLaps <= 0 {
		jsonErr(w, http.StatusConflict, "race is finished")
		return nil, montecarlo.Params{}, nil, false
	}
	return rs, p, t.Simulator, true
}

func driverNumber(w http.ResponseWriter, path, prefix string) (int, bool) {
	raw := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		jsonErr(w, http.StatusBadRequest, "invalid driver number")
		return 0, false
	}
	return n, true
}

// queryCount parses an optional trial count. 0 means absent.
func queryCount(w http.ResponseWriter, v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxSimulations {
		jsonErr(w, http.StatusBadRequest, "n must be between 1 and "+strconv.Itoa(maxSimulations))
		return 0, false
	}
	return n, true
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
