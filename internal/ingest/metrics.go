package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts gateway ingestion outcomes.
type Metrics struct {
	records  *prometheus.CounterVec
	batches  *prometheus.CounterVec
	latency  prometheus.Observer
	register prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "motionboard_ingest_records_total",
			Help: "Records written to the sink, by sink and movement.",
		}, []string{"sink", "movement"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "motionboard_ingest_batches_total",
			Help: "Ingest requests by outcome (ok, empty, denied, invalid, failed).",
		}, []string{"outcome"}),
		register: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motionboard_devices_registered_total",
			Help: "Devices registered through the gateway.",
		}),
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "motionboard_ingest_sink_seconds",
		Help:    "Sink write latency per batch.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.latency = latency
	reg.MustRegister(m.records, m.batches, m.register, latency)
	return m
}
