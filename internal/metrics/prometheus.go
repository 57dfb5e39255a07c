// Package metrics exposes Prometheus metrics for the benchmarker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the benchmarker.
type Metrics struct {
	// Histograms
	RPCLatency *prometheus.HistogramVec

	// Counters
	CallsTotal  *prometheus.CounterVec
	ErrorsTotal *prometheus.CounterVec

	// Gauges
	JobsActive     prometheus.Gauge
	JobsTotal      *prometheus.CounterVec
	LoadThroughput *prometheus.GaugeVec
}

// New creates and registers all benchmarker metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcbench_rpc_latency_seconds",
				Help:    "Benchmark RPC call latency by method and provider",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "provider", "status"},
		),

		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcbench_calls_total",
				Help: "Benchmark RPC calls by method and status",
			},
			[]string{"method", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcbench_errors_total",
				Help: "Classified call failures by category and provider",
			},
			[]string{"category", "provider"},
		),

		JobsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpcbench_jobs_active",
				Help: "Benchmark jobs currently executing",
			},
		),

		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcbench_jobs_total",
				Help: "Finished benchmark jobs by terminal status",
			},
			[]string{"status"},
		),

		LoadThroughput: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rpcbench_load_throughput_rps",
				Help: "Most recent load burst throughput by provider and method",
			},
			[]string{"provider", "method"},
		),
	}
}

// knownMethods is the fixed benchmark battery; anything else buckets
// into "other" to prevent cardinality explosion.
var knownMethods = map[string]bool{
	"eth_blockNumber":      true,
	"eth_chainId":          true,
	"eth_gasPrice":         true,
	"eth_getBalance":       true,
	"eth_getBlockByNumber": true,
	"eth_getLogs":          true,
}

// RecordCall records one measured benchmark call.
func (m *Metrics) RecordCall(method, provider string, success bool, latencySeconds float64) {
	bucketed := method
	if !knownMethods[method] {
		bucketed = "other"
	}

	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketed, provider, status).Observe(latencySeconds)
	m.CallsTotal.WithLabelValues(bucketed, status).Inc()
}

// RecordError records a classified failure.
func (m *Metrics) RecordError(category, provider string) {
	m.ErrorsTotal.WithLabelValues(category, provider).Inc()
}

// JobStarted marks a job as executing.
func (m *Metrics) JobStarted() {
	m.JobsActive.Inc()
}

// JobFinished marks a job's terminal state.
func (m *Metrics) JobFinished(status string) {
	m.JobsActive.Dec()
	m.JobsTotal.WithLabelValues(status).Inc()
}

// RecordLoadThroughput publishes a finished burst's throughput.
func (m *Metrics) RecordLoadThroughput(provider, method string, rps float64) {
	m.LoadThroughput.WithLabelValues(provider, method).Set(rps)
}
