// Package metrics holds the Prometheus collectors for contract installs.
//
// A CLI process is too short-lived to be scraped, so collectors live on a
// private registry that can be dumped in text exposition format for the
// node_exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder owns the install collectors and the registry they live on
type Recorder struct {
	registry *prometheus.Registry

	// Throughput metrics - Track install volume
	InstallsTotal *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec

	// Performance metrics - Track install latency
	InstallDuration *prometheus.HistogramVec
	ContractSize    prometheus.Histogram

	// State metrics - Track the last install
	LastInstallTimestamp *prometheus.GaugeVec
	LedgerEntries        prometheus.Gauge
}

// New creates a Recorder with its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		InstallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroban_installs_total",
				Help: "Total number of contract install attempts by mode and result",
			},
			[]string{"mode", "result"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroban_install_errors_total",
				Help: "Total number of failed installs by error kind",
			},
			[]string{"kind"},
		),

		InstallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "soroban_install_duration_seconds",
				Help:    "Time taken by a single install",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		ContractSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "soroban_contract_size_bytes",
			Help:    "Size of installed contract code",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
		}),

		LastInstallTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "soroban_last_install_timestamp_seconds",
				Help: "Unix time of the last successful install by mode",
			},
			[]string{"mode"},
		),

		LedgerEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soroban_local_ledger_entries",
			Help: "Number of entries in the local ledger after the last local install",
		}),
	}
}

// Registry exposes the registry for gathering
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveSuccess records a completed install
func (r *Recorder) ObserveSuccess(mode string, elapsed time.Duration, codeSize int, at time.Time) {
	r.InstallsTotal.WithLabelValues(mode, ResultSuccess).Inc()
	r.InstallDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	r.ContractSize.Observe(float64(codeSize))
	r.LastInstallTimestamp.WithLabelValues(mode).Set(float64(at.Unix()))
}

// ObserveFailure records a failed install and its error kind
func (r *Recorder) ObserveFailure(mode, kind string, elapsed time.Duration) {
	r.InstallsTotal.WithLabelValues(mode, ResultFailure).Inc()
	r.ErrorsTotal.WithLabelValues(kind).Inc()
	r.InstallDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// WriteTextfile writes every collected metric to path in text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
