// Package metrics exposes Prometheus counters for digest runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch kinds.
const (
	KindSchool   = "school"
	KindCalendar = "calendar"
)

// Recorder is what the pipeline reports to.
type Recorder interface {
	RecordFetch(kind string, ok bool)
	RecordRun(mode, outcome string, d time.Duration)
	RecordChanges(n int)
	RecordCompositionFallback()
}

// Collector is the Prometheus Recorder.
type Collector struct {
	fetches     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	changes     prometheus.Counter
	fallbacks   prometheus.Counter
	runDuration *prometheus.HistogramVec
}

// NewCollector registers the famdigest metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famdigest_fetch_total",
			Help: "Source fetches by kind and result.",
		}, []string{"kind", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famdigest_runs_total",
			Help: "Pipeline runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "famdigest_changes_detected_total",
			Help: "Changed entities found by update checks.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "famdigest_composition_fallback_total",
			Help: "Composition calls that fell back to the rule-based digest.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "famdigest_run_duration_seconds",
			Help:    "Pipeline run duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	reg.MustRegister(
		c.fetches,
		c.runs,
		c.changes,
		c.fallbacks,
		c.runDuration,
	)
	return c
}

func (c *Collector) RecordFetch(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.fetches.WithLabelValues(kind, result).Inc()
}

func (c *Collector) RecordRun(mode, outcome string, d time.Duration) {
	c.runs.WithLabelValues(mode, outcome).Inc()
	c.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (c *Collector) RecordChanges(n int) {
	c.changes.Add(float64(n))
}

func (c *Collector) RecordCompositionFallback() {
	c.fallbacks.Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordFetch(string, bool)                {}
func (Nop) RecordRun(string, string, time.Duration) {}
func (Nop) RecordChanges(int)                       {}
func (Nop) RecordCompositionFallback()              {}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// WriteTextfile dumps gatherer to path for the node-exporter textfile
// collector, which one-shot runs use instead of being scraped.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, gatherer)
}
