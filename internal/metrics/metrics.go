// Package metrics exposes the Prometheus instruments shared by the model
// pipelines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels for the pipeline instruments.
const (
	OpCodegen          = "codegen"
	OpCodegenPlaybook  = "codegen_playbook"
	OpCodegenRole      = "codegen_role"
	OpExplainPlaybook  = "explain_playbook"
	OpCodematch        = "codematch"
	OpToken            = "token"
	OpOllamaCompletion = "ollama_completion"
	OpOllamaGeneration = "ollama_generation"
	OpOllamaExplain    = "ollama_explain"
)

var (
	// PipelineHist records call latency per operation. Observed on both the
	// success and the error path so slow failures stay visible.
	PipelineHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "model_pipeline_call_duration_seconds",
		Help:    "Histogram of model pipeline call durations.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"operation"})

	// RetryCounter counts retryable errors caught per operation.
	RetryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "model_pipeline_retries_total",
		Help: "Count of retryable model pipeline errors.",
	}, []string{"operation"})

	// ErrorCounter counts terminal pipeline failures per operation.
	ErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "model_pipeline_errors_total",
		Help: "Count of model pipeline calls that ended in an error.",
	}, []string{"operation"})
)

// ObserveDuration records the elapsed time since start for operation.
func ObserveDuration(operation string, start time.Time) {
	PipelineHist.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// CountRetry increments the retry counter for operation.
func CountRetry(operation string) {
	RetryCounter.WithLabelValues(operation).Inc()
}

// CountError increments the error counter for operation.
func CountError(operation string) {
	ErrorCounter.WithLabelValues(operation).Inc()
}
