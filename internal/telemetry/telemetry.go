// Package telemetry sets up OpenTelemetry tracing and metrics for the
// rule engine. Spans and metric snapshots are written to a writer (stdout by
// default) through the stdout exporters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config controls telemetry setup.
type Config struct {
	Enabled     bool
	ServiceName string
	// SampleRatio is the fraction of event passes traced (0 < r <= 1).
	SampleRatio float64
	// MetricInterval is how often metric snapshots are exported.
	MetricInterval time.Duration
	// Output receives exported spans and metrics. Defaults to os.Stdout.
	Output io.Writer
}

// ShutdownFunc flushes and stops the providers.
type ShutdownFunc func(context.Context) error

// Setup installs global tracer and meter providers. When cfg.Enabled is
// false it installs nothing and returns a no-op shutdown.
func Setup(cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	name := cfg.ServiceName
	if name == "" {
		name = "complyflow"
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = time.Minute
	}

	res := resource.NewSchemaless(attribute.String("service.name", name))

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// BusStats is the part of the event bus observed by ObserveBus.
type BusStats interface {
	QueueDepth() int
	QueueCapacity() int
	DroppedEvents() int64
}

// ObserveBus registers asynchronous gauges for the event bus queue on meter.
func ObserveBus(meter metric.Meter, bus BusStats) error {
	depth, err := meter.Int64ObservableGauge("complyflow.bus.queue_depth",
		metric.WithDescription("Events waiting in the bus queue"))
	if err != nil {
		return fmt.Errorf("queue depth gauge: %w", err)
	}
	capacity, err := meter.Int64ObservableGauge("complyflow.bus.queue_capacity",
		metric.WithDescription("Capacity of the bus queue"))
	if err != nil {
		return fmt.Errorf("queue capacity gauge: %w", err)
	}
	dropped, err := meter.Int64ObservableCounter("complyflow.bus.dropped",
		metric.WithDescription("Events dropped because the queue was full"))
	if err != nil {
		return fmt.Errorf("dropped counter: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(depth, int64(bus.QueueDepth()))
		o.ObserveInt64(capacity, int64(bus.QueueCapacity()))
		o.ObserveInt64(dropped, bus.DroppedEvents())
		return nil
	}, depth, capacity, dropped)
	if err != nil {
		return fmt.Errorf("register bus callback: %w", err)
	}
	return nil
}
