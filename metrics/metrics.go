// Package metrics holds the counters a redaction run reports, on a registry
// private to the process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used with ObserveStage.
const (
	StageResize = "resize"
	StageInfer  = "infer"
	StageRedact = "redact"
	StageWrite  = "write"
)

type Metrics struct {
	Registry *prometheus.Registry

	Frames            prometheus.Counter
	Instances         *prometheus.CounterVec
	RedactedInstances prometheus.Counter
	RedactedPixels    prometheus.Counter
	StageDuration     *prometheus.HistogramVec
	Runs              *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "standmask_frames_total",
			Help: "Frames processed and emitted to every sink",
		}),
		Instances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "standmask_instances_total",
			Help: "Instances detected above the confidence threshold, by class",
		}, []string{"class"}),
		RedactedInstances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "standmask_redacted_instances_total",
			Help: "Instances of the masked class blacked out",
		}),
		RedactedPixels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "standmask_redacted_pixels_total",
			Help: "Mask pixels blacked out, overlaps counted once per instance",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "standmask_stage_duration_seconds",
			Help:    "Per frame duration of each pipeline stage",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "standmask_runs_total",
			Help: "Pipeline runs by final state",
		}, []string{"state"}),
	}
	m.Registry.MustRegister(
		m.Frames,
		m.Instances,
		m.RedactedInstances,
		m.RedactedPixels,
		m.StageDuration,
		m.Runs,
	)
	return m
}

// ObserveStage records the time elapsed since start for stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteFile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
