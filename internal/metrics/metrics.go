// Package metrics records Prometheus metrics for credential store operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusInvalid = "invalid"
	StatusFailure = "failure"
)

// Recorder provides methods to record store and connect metrics.
// A nil *Recorder records nothing.
type Recorder struct {
	storeTotal    *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	connectTotal  *prometheus.CounterVec
}

// NewRecorder registers the credstore metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		storeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credstore_store_total",
				Help: "Total number of credential store operations",
			},
			[]string{"backend", "status"},
		),
		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credstore_store_duration_seconds",
				Help:    "Duration of credential store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"backend"},
		),
		connectTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credstore_connect_total",
				Help: "Total number of backing store connection attempts",
			},
			[]string{"backend", "status"},
		),
	}
}

// RecordStore records the outcome of one StoreValue call.
func (r *Recorder) RecordStore(backend, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.storeTotal.WithLabelValues(backend, status).Inc()
	if status != StatusInvalid {
		r.storeDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	}
}

// RecordConnect records one connection attempt.
func (r *Recorder) RecordConnect(backend string, err error) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	r.connectTotal.WithLabelValues(backend, status).Inc()
}

// StoreTotal returns the store counter for testing.
func (r *Recorder) StoreTotal() *prometheus.CounterVec {
	return r.storeTotal
}

// ConnectTotal returns the connect counter for testing.
func (r *Recorder) ConnectTotal() *prometheus.CounterVec {
	return r.connectTotal
}

// StoreDuration returns the store duration histogram for testing.
func (r *Recorder) StoreDuration() *prometheus.HistogramVec {
	return r.storeDuration
}
