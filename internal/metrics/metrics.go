package metrics

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// namespace prefixes every exposed metric name.
const namespace = "streamgate"

// Source supplies a point-in-time view of one component's stats. Keys
// must be valid metric name fragments ([a-z0-9_]); values are exposed as
// gauges under streamgate_<component>_<key>.
type Source func() map[string]float64

// Collector aggregates component stat sources into Prometheus metric
// families and serves them in text exposition format.
type Collector struct {
	instanceID string
	logger     *slog.Logger

	mu      sync.Mutex
	sources map[string]Source
}

// NewCollector creates a Collector labeling every metric with instanceID.
func NewCollector(instanceID string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		instanceID: instanceID,
		logger:     logger,
		sources:    make(map[string]Source),
	}
}

// Register adds a named component source. Registering a component twice
// replaces the previous source.
func (c *Collector) Register(component string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[component] = src
}

// Gather snapshots every source into metric families in deterministic
// order.
func (c *Collector) Gather() []*dto.MetricFamily {
	c.mu.Lock()
	components := make([]string, 0, len(c.sources))
	sources := make(map[string]Source, len(c.sources))
	for name, src := range c.sources {
		components = append(components, name)
		sources[name] = src
	}
	c.mu.Unlock()
	slices.Sort(components)

	// Sources are called outside the collector lock; they take their own
	// component locks.
	var families []*dto.MetricFamily
	for _, component := range components {
		values := sources[component]()
		if len(values) == 0 {
			continue
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		for _, k := range keys {
			families = append(families, &dto.MetricFamily{
				Name: strPtr(namespace + "_" + component + "_" + k),
				Type: typePtr(dto.MetricType_GAUGE),
				Metric: []*dto.Metric{{
					Label: []*dto.LabelPair{{
						Name:  strPtr("instance"),
						Value: strPtr(c.instanceID),
					}},
					Gauge: &dto.Gauge{Value: float64Ptr(values[k])},
				}},
			})
		}
	}
	return families
}

// Handler returns an http.Handler serving the text exposition.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))

		enc := expfmt.NewEncoder(w, format)
		for _, mf := range c.Gather() {
			if err := enc.Encode(mf); err != nil {
				c.logger.Error("encode metric family failed",
					"family", mf.GetName(), "error", err)
				return
			}
		}
	})
}

func strPtr(s string) *string { return &s }

func float64Ptr(f float64) *float64 { return &f }

func typePtr(t dto.MetricType) *dto.MetricType { return &t }
