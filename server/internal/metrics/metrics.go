package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const namespace = "pitwall"

// Counter is a monotonically increasing count.
type Counter struct{ v atomic.Uint64 }

// Inc adds one.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds n.
func (c *Counter) Add(n uint64) { c.v.Add(n) }

// Value returns the current count.
func (c *Counter) Value() uint64 { return c.v.Load() }

// Gauge is a value that can go up and down.
type Gauge struct{ v atomic.Int64 }

// Set replaces the value.
func (g *Gauge) Set(n int64) { g.v.Store(n) }

// Add adds n, which may be negative.
func (g *Gauge) Add(n int64) { g.v.Add(n) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.v.Load() }

// Registry is the set of pipeline metrics.
type Registry struct {
	BatchesApplied     Counter
	BatchesReceived    Counter
	BatchesRejected    Counter
	SubscriberDrops    Counter
	LapsModelled       Counter
	LapsRejected       Counter
	MonteCarloTrials   Counter
	MonteCarloFallback Counter
	CurrentLap         Gauge
	WSClients          Gauge

	mu              sync.Mutex
	recommendations map[string]uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{recommendations: make(map[string]uint64)}
}

// Recommendation counts one recommendation with the given action label.
func (r *Registry) Recommendation(action string) {
	r.mu.Lock()
	r.recommendations[action]++
	r.mu.Unlock()
}

// Recommendations returns the per-action recommendation counts.
func (r *Registry) Recommendations() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.recommendations))
	for k, v := range r.recommendations {
		out[k] = v
	}
	return out
}

// Families renders the registry as metric families sorted by name.
func (r *Registry) Families() []*dto.MetricFamily {
	fams := []*dto.MetricFamily{
		counterFamily("batches_applied_total", "Telemetry batches applied to the race state.", r.BatchesApplied.Value()),
		counterFamily("batches_received_total", "Telemetry batches accepted from ingest streams.", r.BatchesReceived.Value()),
		counterFamily("batches_rejected_total", "Ingest streams ended by an invalid batch.", r.BatchesRejected.Value()),
		counterFamily("subscriber_drops_total", "Race states dropped from full subscriber queues.", r.SubscriberDrops.Value()),
		counterFamily("laps_modelled_total", "Laps fed to the degradation models.", r.LapsModelled.Value()),
		counterFamily("laps_rejected_total", "Laps excluded from estimator updates.", r.LapsRejected.Value()),
		counterFamily("montecarlo_trials_total", "Monte Carlo trials run.", r.MonteCarloTrials.Value()),
		counterFamily("montecarlo_fallbacks_total", "Parallel Monte Carlo runs repeated sequentially.", r.MonteCarloFallback.Value()),
		gaugeFamily("current_lap", "Current race lap.", r.CurrentLap.Value()),
		gaugeFamily("ws_clients", "Connected WebSocket clients.", r.WSClients.Value()),
		r.recommendationFamily(),
	}
	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

func (r *Registry) recommendationFamily() *dto.MetricFamily {
	counts := r.Recommendations()
	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	mf := &dto.MetricFamily{
		Name: proto.String(namespace + "_recommendations_total"),
		Help: proto.String("Strategy recommendations issued, by action."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, a := range actions {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String("action"), Value: proto.String(a)}},
			Counter: &dto.Counter{Value: proto.Float64(float64(counts[a]))},
		})
	}
	return mf
}

func counterFamily(name, help string, v uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(float64(v))}}},
	}
}

func gaugeFamily(name, help string, v int64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(float64(v))}}},
	}
}

// WriteText writes the registry in the Prometheus text format.
func (r *Registry) WriteText(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range r.Families() {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the registry at a scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := r.WriteText(w); err != nil {
			slog.Warn("metrics: write failed", "err", err)
		}
	})
}
