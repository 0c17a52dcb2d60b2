package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	initOnce sync.Once

	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdrtb_pipeline_runs_total",
			Help: "Risk assessments by outcome",
		},
		[]string{"outcome"},
	)

	pipelineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdrtb_pipeline_duration_seconds",
			Help:    "End-to-end risk assessment latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	inferenceCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mdrtb_inference_calls_total",
			Help: "Forward passes run by the inference engine, importance shuffles included",
		},
	)

	unseenCategories = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mdrtb_unseen_categories_total",
			Help: "Categorical values absent from the label encoder, encoded as 0",
		},
	)

	parseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mdrtb_numeric_parse_failures_total",
			Help: "Numeric values that failed to parse and were treated as 0",
		},
	)

	artifactLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdrtb_artifact_loads_total",
			Help: "Artifact loads by artifact, source and result",
		},
		[]string{"artifact", "source", "result"},
	)

	upstreamRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdrtb_dhis2_request_duration_seconds",
			Help:    "DHIS2 API request latency by endpoint and status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)
)

// Init registers all collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			pipelineRuns,
			pipelineLatency,
			inferenceCalls,
			unseenCategories,
			parseFailures,
			artifactLoads,
			upstreamRequests,
		)
	})
}

func ObservePipeline(outcome string, elapsed time.Duration) {
	pipelineRuns.WithLabelValues(outcome).Inc()
	pipelineLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func ObserveInference(calls int) {
	inferenceCalls.Add(float64(calls))
}

func ObserveDiagnostics(unseen, failures int) {
	unseenCategories.Add(float64(unseen))
	parseFailures.Add(float64(failures))
}

func ObserveArtifactLoad(artifact, source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	artifactLoads.WithLabelValues(artifact, source, result).Inc()
}

func ObserveUpstream(endpoint, status string, elapsed time.Duration) {
	upstreamRequests.WithLabelValues(endpoint, status).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry to tests.
func Gatherer() prometheus.Gatherer {
	return registry
}
