package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer(`github.com/amacal/etl0/internal/runner`)
}

var (
	metricLabels = []string{"outcome"}
	taskTimer    = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "etl0",
		Subsystem: "runner",
		Name:      "task_duration_seconds",
		Help:      "Wall-clock duration of one task run, container lifecycle included.",
	}, metricLabels)
	taskCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etl0",
		Subsystem: "runner",
		Name:      "task_total",
		Help:      "Task run count by outcome.",
	}, metricLabels)
)

func observeTask(outcome string, seconds float64) {
	taskTimer.WithLabelValues(outcome).Observe(seconds)
	taskCounter.WithLabelValues(outcome).Inc()
}
