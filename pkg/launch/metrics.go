package launch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// MetricsFileName is the textfile written into the log dir.
const MetricsFileName = "launch.prom"

// Metrics records one launch in a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	spawned        *prometheus.CounterVec
	readinessWait  *prometheus.HistogramVec
	launchDuration prometheus.Gauge
	launchSuccess  prometheus.Gauge
}

// NewMetrics creates the launch metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		spawned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_spawned_total",
			Help:      "Processes started, by role",
		}, []string{"role"}),
		readinessWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for an endpoint to accept connections",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		launchDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Wall time of the launch sequence",
		}),
		launchSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "launch_success",
			Help:      "1 if the batch reached running, 0 otherwise",
		}),
	}
}

func (m *Metrics) spawnedRole(role launchconfig.Role) {
	if m == nil {
		return
	}
	m.spawned.WithLabelValues(role.String()).Inc()
}

func (m *Metrics) observeReadiness(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.readinessWait.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) finish(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.launchDuration.Set(d.Seconds())
	if ok {
		m.launchSuccess.Set(1)
	} else {
		m.launchSuccess.Set(0)
	}
}

// WriteTextfile writes the registry in node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
