package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes the submission buffer. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	buffered  prometheus.Gauge
	dropped   prometheus.Counter
	submitted prometheus.Counter
	failures  prometheus.Counter
	latency   prometheus.Observer
}

// NewMetrics creates the buffer collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motionboard_agent_buffered_records",
			Help: "Records waiting in the submission buffer.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motionboard_agent_dropped_records_total",
			Help: "Oldest records evicted because the buffer was full.",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motionboard_agent_submitted_records_total",
			Help: "Records accepted by the ingest gateway.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motionboard_agent_submit_failures_total",
			Help: "Submissions that failed and were requeued.",
		}),
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "motionboard_agent_submit_seconds",
		Help:    "Duration of one buffer submission round trip.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
	m.latency = latency
	reg.MustRegister(m.buffered, m.dropped, m.submitted, m.failures, latency)
	return m
}

func (m *Metrics) setBuffered(n int) {
	if m != nil {
		m.buffered.Set(float64(n))
	}
}

func (m *Metrics) addDropped(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}

func (m *Metrics) observeSubmit(records int, seconds float64, err error) {
	if m == nil {
		return
	}
	m.latency.Observe(seconds)
	if err != nil {
		m.failures.Inc()
		return
	}
	m.submitted.Add(float64(records))
}
