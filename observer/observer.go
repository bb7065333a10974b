// Package observer provides OTEL-based observability for oxy dispatch
// pipelines.
//
// It configures trace, metric, and log providers with OTLP HTTP
// exporters and exposes the instruments the registry and transports
// record into. Users export to any OTEL-compatible backend by setting
// standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/oxyrun/oxy/observer"

// Instruments holds all OTEL instruments recorded by the runtime.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	Dispatches        metric.Int64Counter
	DispatchFailures  metric.Int64Counter
	Messages          metric.Int64Counter
	TransportRetries  metric.Int64Counter
	SemaphoreTimeouts metric.Int64Counter

	// Histograms
	DispatchDuration metric.Float64Histogram
	AdmissionWait    metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function
// that must be called on application exit.
func Init(ctx context.Context, service string) (*Instruments, func(context.Context) error, error) {
	if service == "" {
		service = "oxy"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(service)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	dispatches, err := meter.Int64Counter("dispatch.count",
		metric.WithDescription("Dispatch pipeline runs"),
		metric.WithUnit("{dispatch}"))
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("dispatch.failures",
		metric.WithDescription("Dispatches that produced a FAILED response"),
		metric.WithUnit("{dispatch}"))
	if err != nil {
		return nil, err
	}

	messages, err := meter.Int64Counter("message.count",
		metric.WithDescription("Messages emitted to the bus or store"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("transport.retries",
		metric.WithDescription("Transport attempt retries"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}

	semTimeouts, err := meter.Int64Counter("semaphore.timeouts",
		metric.WithDescription("Admission waits that exceeded their limit"),
		metric.WithUnit("{timeout}"))
	if err != nil {
		return nil, err
	}

	dispatchDuration, err := meter.Float64Histogram("dispatch.duration",
		metric.WithDescription("Dispatch pipeline duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	admissionWait, err := meter.Float64Histogram("semaphore.wait",
		metric.WithDescription("Time spent waiting for a component permit"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:            tracer,
		Meter:             meter,
		Logger:            logger,
		Dispatches:        dispatches,
		DispatchFailures:  failures,
		Messages:          messages,
		TransportRetries:  retries,
		SemaphoreTimeouts: semTimeouts,
		DispatchDuration:  dispatchDuration,
		AdmissionWait:     admissionWait,
	}, nil
}
