// Package telemetry wires OpenTelemetry into the store and the build loop.
//
// Nothing is exported unless FORGE_OTEL_ENABLED=true. The remaining knobs:
//
//	FORGE_OTEL_STDOUT=true                  print spans and metrics to stdout
//	FORGE_OTEL_INTERVAL=30s                 metric export interval
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT     OTLP/HTTP metrics endpoint
//	OTEL_EXPORTER_OTLP_ENDPOINT             used when the metrics endpoint is unset
package telemetry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	rootScope             = "github.com/beadforge/forge"
	defaultExportInterval = 30 * time.Second
)

// Options selects exporters. OptionsFromEnv fills it from the environment.
type Options struct {
	Enabled        bool
	Stdout         bool
	OTLPEndpoint   string
	ExportInterval time.Duration
}

// OptionsFromEnv reads the FORGE_OTEL_* and OTEL_EXPORTER_OTLP_* variables.
// An unparsable interval falls back to the default.
func OptionsFromEnv() Options {
	interval, err := time.ParseDuration(os.Getenv("FORGE_OTEL_INTERVAL"))
	if err != nil || interval <= 0 {
		interval = defaultExportInterval
	}
	return Options{
		Enabled: Enabled(),
		Stdout:  os.Getenv("FORGE_OTEL_STDOUT") == "true",
		OTLPEndpoint: cmp.Or(
			os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
			os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		),
		ExportInterval: interval,
	}
}

// Enabled reports whether FORGE_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv("FORGE_OTEL_ENABLED") == "true"
}

var (
	mu        sync.Mutex
	providers []interface{ Shutdown(context.Context) error }
)

// Init installs global providers using OptionsFromEnv.
func Init(ctx context.Context, service, version string) error {
	return InitWith(ctx, service, version, OptionsFromEnv())
}

// InitWith installs global providers for opts. Disabled options install
// no-op providers.
func InitWith(ctx context.Context, service, version string, opts Options) error {
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := newTracerProvider(res, opts)
	if err != nil {
		return fmt.Errorf("telemetry: tracer provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, res, opts)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: meter provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	mu.Lock()
	providers = append(providers, tp, mp)
	mu.Unlock()
	return nil
}

// Traces are only ever printed; the build carries no OTLP trace exporter.
func newTracerProvider(res *resource.Resource, opts Options) (*sdktrace.TracerProvider, error) {
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(tpOpts...), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, opts Options) (*sdkmetric.MeterProvider, error) {
	interval := cmp.Or(opts.ExportInterval, defaultExportInterval)
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	}
	if opts.OTLPEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, opts.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	}
	return sdkmetric.NewMeterProvider(mpOpts...), nil
}

// Tracer returns a tracer for scope, or the module scope when empty.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(cmp.Or(scope, rootScope))
}

// Meter returns a meter for scope, or the module scope when empty.
func Meter(scope string) metric.Meter {
	return otel.Meter(cmp.Or(scope, rootScope))
}

// Shutdown flushes and stops every provider installed by Init.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	ps := providers
	providers = nil
	mu.Unlock()

	var errs []error
	for _, p := range ps {
		errs = append(errs, p.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
