// Package metrics exposes prometheus counters for recording and validation passes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the recorder counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BytesWritten prometheus.Counter
	BytesRead    *prometheus.CounterVec
	Divergences  prometheus.Counter
	Passes       *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the counters and registers them with reg. A nil reg uses a fresh
// private registry, which keeps tests from colliding on the default one.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronostate_bytes_written_total",
			Help: "Total number of state bytes written by recorders",
		}),
		BytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronostate_bytes_read_total",
			Help: "Total number of state bytes read by recorders",
		}, []string{"mode"}),
		Divergences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronostate_divergences_total",
			Help: "Number of byte ranges that differed from the recording during validation",
		}),
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronostate_passes_total",
			Help: "Number of completed capture, restore and validate passes",
		}, []string{"kind"}),
		gatherer: gatherer,
	}

	for _, c := range []prometheus.Collector{m.BytesWritten, m.BytesRead, m.Divergences, m.Passes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddWritten counts n written bytes.
func (m *Metrics) AddWritten(n int) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(n))
}

// AddRead counts n read bytes under the plain or validating mode label.
func (m *Metrics) AddRead(n int, validating bool) {
	if m == nil {
		return
	}
	mode := "restore"
	if validating {
		mode = "validate"
	}
	m.BytesRead.WithLabelValues(mode).Add(float64(n))
}

// IncDivergence counts one divergent byte range.
func (m *Metrics) IncDivergence() {
	if m == nil {
		return
	}
	m.Divergences.Inc()
}

// IncPass counts one finished pass of the given kind.
func (m *Metrics) IncPass(kind string) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
