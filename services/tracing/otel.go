// Package tracingsvc configures the global opentelemetry tracer provider.
package tracingsvc

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a tracer provider when tracing is enabled. Spans go to stdout when
// conf.Tracing.Stdout is set, and are dropped otherwise.
func Setup(conf *core.Config, logger core.Logger) (ShutdownFunc, error) {
	if !conf.Tracing.Enabled {
		return noopShutdown, nil
	}
	var w io.Writer = io.Discard
	if conf.Tracing.Stdout {
		w = os.Stdout
	}
	return setup(conf, w, logger)
}

func setup(conf *core.Config, w io.Writer, logger core.Logger) (ShutdownFunc, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, errors.Wrap(err, "creating trace exporter")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(conf.AppName),
		semconv.ServiceVersion(conf.Build),
		attribute.String("deployment.environment", conf.Env),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("tracing enabled")
	return tp.Shutdown, nil
}
