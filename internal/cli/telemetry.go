package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/flowsim/internal/ir"
)

const tracerName = "github.com/roach88/flowsim/cli"

// newTracer returns the tracer for a run and a shutdown func that flushes
// it. Without --trace spans go nowhere; with it they are written to w as
// JSON once the run ends.
func newTracer(enabled bool, w io.Writer) (trace.Tracer, func(context.Context), error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer(tracerName), func(context.Context) {}, nil
	}
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "flowsim"),
			attribute.String("service.version", ir.EngineVersion),
		)),
	)
	shutdown := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}
	return tp.Tracer(tracerName), shutdown, nil
}
