package docker

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics singletons.
var (
	tracer trace.Tracer
	meter  metric.Meter
)

// requestCounter counts engine API calls by endpoint.
var requestCounter metric.Int64Counter

func init() {
	const pkgname = `github.com/amacal/etl0/docker`
	tracer = otel.Tracer(pkgname)
	meter = otel.Meter(pkgname)

	var err error
	requestCounter, err = meter.Int64Counter("engine.request.count",
		metric.WithDescription("total number of engine API requests issued"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		panic(err)
	}
}
