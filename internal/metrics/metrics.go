// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "factoura",
		Subsystem: "pipeline",
		Name:      "tasks_total",
		Help:      "Pipeline tasks processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	PipelineTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "factoura",
		Subsystem: "pipeline",
		Name:      "task_duration_seconds",
		Help:      "Time spent running a pipeline task, including artificial delays.",
		Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	AnalysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "factoura",
		Subsystem: "analysis",
		Name:      "requests_total",
		Help:      "Calls to the content analysis service, by operation and outcome.",
	}, []string{"operation", "outcome"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "factoura",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Generation requests sent to the language model server, by task, model and outcome.",
	}, []string{"task", "model", "outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "factoura",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by method, route and status.",
	}, []string{"method", "route", "status"})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveLLM counts one generation request.
func ObserveLLM(task, model string, err error) {
	LLMRequests.WithLabelValues(task, model, outcome(err)).Inc()
}

// ObserveAnalysis counts one call to the analysis service.
func ObserveAnalysis(operation string, err error) {
	AnalysisRequests.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveTask records one finished pipeline task.
func ObserveTask(kind, result string, started time.Time) {
	PipelineTasks.WithLabelValues(kind, result).Inc()
	PipelineTaskDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// ObserveHTTP counts one served request.
func ObserveHTTP(method, route string, status int) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
