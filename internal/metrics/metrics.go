// Package metrics records sync run results in a Prometheus registry that is
// flushed to a node-exporter textfile or a Pushgateway at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
)

const namespace = "altsource"

// Recorder owns the run's metrics
type Recorder struct {
	registry *prometheus.Registry

	packages  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	apps      *prometheus.GaugeVec
	retention *prometheus.CounterVec
	lastRun   prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		packages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_total",
				Help:      "Package sync outcomes",
			},
			[]string{"source", "outcome", "reason"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "package_sync_duration_seconds",
				Help:      "Duration of one package sync",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"source", "outcome"},
		),
		apps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_apps",
				Help:      "Number of apps in the written catalog",
			},
			[]string{"source"},
		),
		retention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Cache objects deleted by retention",
			},
			[]string{"kind"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last run",
		}),
	}

	r.registry.MustRegister(r.packages, r.duration, r.apps, r.retention, r.lastRun)
	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObservePackage records one package outcome
func (r *Recorder) ObservePackage(source, outcome, reason string, d time.Duration) {
	r.packages.WithLabelValues(source, outcome, reason).Inc()
	r.duration.WithLabelValues(source, outcome).Observe(d.Seconds())
}

// SetCatalogSize records the number of apps written for source
func (r *Recorder) SetCatalogSize(source string, n int) {
	r.apps.WithLabelValues(source).Set(float64(n))
}

// ObserveRetention records the buckets and assets a prune deleted
func (r *Recorder) ObserveRetention(buckets, assets int) {
	r.retention.WithLabelValues("bucket").Add(float64(buckets))
	r.retention.WithLabelValues("asset").Add(float64(assets))
}

// Flush stamps the run time and writes the metrics to the configured sinks.
// Empty destinations are skipped.
func (r *Recorder) Flush(textfile, gateway, job string) error {
	r.lastRun.SetToCurrentTime()

	if textfile != "" {
		if err := prometheus.WriteToTextfile(textfile, r.registry); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
		logrus.Debugf("Metrics written to %s", textfile)
	}

	if gateway != "" {
		if job == "" {
			job = namespace
		}
		if err := push.New(gateway, job).Gatherer(r.registry).Push(); err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
		logrus.Debugf("Metrics pushed to %s", gateway)
	}
	return nil
}
