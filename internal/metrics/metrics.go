// Package metrics exposes Prometheus collectors that count uploads.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gcspub"

// Upload result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics counts upload outcomes. It implements publish.Observer.
type Metrics struct {
	uploads *prometheus.CounterVec
	bytes   prometheus.Counter
}

// New registers the upload collectors with reg. Registration errors panic,
// mirroring the promauto helpers.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Number of object uploads by result.",
			},
			[]string{"result"},
		),
		bytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Bytes written by successful uploads.",
			},
		),
	}
	reg.MustRegister(m.uploads, m.bytes)

	// Expose both result series from the start.
	m.uploads.WithLabelValues(ResultSuccess)
	m.uploads.WithLabelValues(ResultFailure)

	return m
}

func (m *Metrics) Uploaded(_ context.Context, _ string, size int64) {
	m.uploads.WithLabelValues(ResultSuccess).Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) Failed(context.Context, string, error) {
	m.uploads.WithLabelValues(ResultFailure).Inc()
}
