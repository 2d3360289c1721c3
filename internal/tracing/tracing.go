package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/maestro-run/maestro"

var (
	initOnce sync.Once
	initErr  error
)

// Init installs a global tracer provider backed by the stdout exporter.
// When outputFile is empty, spans go to os.Stderr. Safe to call multiple
// times; the first successful initialisation wins. Callers that never
// Init get no-op spans.
func Init(serviceName, serviceVersion, outputFile string) error {
	initOnce.Do(func() {
		var w io.Writer = os.Stderr
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				initErr = err
				return
			}
			w = f
		}

		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			initErr = err
			return
		}

		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	return initErr
}

// StartSpan begins a span on the global tracer. Without a prior Init the
// span is a no-op, so library code can call this unconditionally.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
