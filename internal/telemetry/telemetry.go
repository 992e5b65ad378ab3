package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

type telemetry struct {
	tracerProvider *sdktrace.TracerProvider

	scanCounter    metric.Int64Counter
	scanDuration   metric.Float64Histogram
	findingCounter metric.Int64Counter
	failureCounter metric.Int64Counter
}

func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp", "":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return newTelemetry(tp, otel.Meter(cfg.ServiceName))
}

func newTelemetry(tp *sdktrace.TracerProvider, meter metric.Meter) (*telemetry, error) {
	scanCounter, err := meter.Int64Counter("websentry.scans.total",
		metric.WithDescription("Total number of scans"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram("websentry.scan.duration",
		metric.WithDescription("Scan duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	findingCounter, err := meter.Int64Counter("websentry.findings.total",
		metric.WithDescription("Total number of findings"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	failureCounter, err := meter.Int64Counter("websentry.detector_failures.total",
		metric.WithDescription("Detectors that could not complete"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracerProvider: tp,
		scanCounter:    scanCounter,
		scanDuration:   scanDuration,
		findingCounter: findingCounter,
		failureCounter: failureCounter,
	}, nil
}

func (t *telemetry) RecordScan(profile types.ScanProfile, duration float64, status types.ScanStatus) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("scan.profile", string(profile)),
		attribute.String("scan.status", string(status)),
	}

	t.scanCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.scanDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordFinding(finding types.Finding) {
	t.findingCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("finding.severity", string(finding.Severity)),
		attribute.String("finding.category", string(finding.Category)),
	))
}

func (t *telemetry) RecordDetectorFailure(detector string) {
	t.failureCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("detector", detector),
	))
}

func (t *telemetry) Close() error {
	if t.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

// Noop returns a Telemetry that records nothing.
func Noop() core.Telemetry {
	return noopTelemetry{}
}

type noopTelemetry struct{}

func (noopTelemetry) RecordScan(types.ScanProfile, float64, types.ScanStatus) {}
func (noopTelemetry) RecordFinding(types.Finding)                             {}
func (noopTelemetry) RecordDetectorFailure(string)                            {}
func (noopTelemetry) Close() error                                            { return nil }
