package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "mcp-authserver"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/giantswarm/mcp-pkce-authserver/"
)

// Exporter names accepted by Config.MetricsExporter and Config.TracingExporter.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service reported in the resource
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// LogClientIPs controls whether client IP addresses are attached to spans.
	LogClientIPs bool

	// MetricsExporter selects the metric exporter: prometheus (default), otlp, stdout or none.
	MetricsExporter string

	// TracingExporter selects the span exporter: none (default), otlp or stdout.
	TracingExporter string

	// OTLPEndpoint is the host:port of the OTLP HTTP collector
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the OTLP exporters
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based ratio sampler rate (0.0 - 1.0). Default: 1.0
	TraceSamplingRate float64

	// MetricReader, when set, replaces the reader built from MetricsExporter.
	MetricReader sdkmetric.Reader

	// Resource allows custom resource attributes
	Resource *resource.Resource

	// Logger receives exporter warnings. Default: slog.Default()
	Logger *slog.Logger
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// registry is only set when metrics are exported for Prometheus scraping
	registry *prometheus.Registry

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = ExporterPrometheus
	}
	if config.TracingExporter == "" {
		config.TracingExporter = ExporterNone
	}
	if config.TraceSamplingRate <= 0 || config.TraceSamplingRate > 1 {
		config.TraceSamplingRate = 1.0
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(context.Background()); err != nil {
			_ = inst.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

func (i *Instrumentation) initializeProviders(ctx context.Context) error {
	if err := i.initMeterProvider(ctx); err != nil {
		return err
	}
	return i.initTracerProvider(ctx)
}

func (i *Instrumentation) initMeterProvider(ctx context.Context) error {
	reader := i.config.MetricReader

	if reader == nil {
		switch i.config.MetricsExporter {
		case ExporterNone:
			i.meterProvider = noop.NewMeterProvider()
			return nil

		case ExporterPrometheus:
			// a private registry keeps repeated New calls (tests, reloads) from colliding
			i.registry = prometheus.NewRegistry()
			exporter, err := otelprom.New(otelprom.WithRegisterer(i.registry))
			if err != nil {
				return fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			reader = exporter

		case ExporterOTLP:
			if i.config.OTLPEndpoint == "" {
				return fmt.Errorf("OTLP endpoint is required for the otlp metrics exporter")
			}
			opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(i.config.OTLPEndpoint)}
			if i.config.OTLPInsecure {
				opts = append(opts, otlpmetrichttp.WithInsecure())
			}
			exporter, err := otlpmetrichttp.New(ctx, opts...)
			if err != nil {
				return fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
			}
			reader = sdkmetric.NewPeriodicReader(exporter)

		case ExporterStdout:
			i.config.Logger.Warn("stdout metrics exporter enabled - for development only",
				"component", "instrumentation")
			exporter, err := stdoutmetric.New()
			if err != nil {
				return fmt.Errorf("failed to create stdout metrics exporter: %w", err)
			}
			reader = sdkmetric.NewPeriodicReader(exporter)

		default:
			return fmt.Errorf("unsupported metrics exporter: %s", i.config.MetricsExporter)
		}
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(i.resource),
		sdkmetric.WithReader(reader),
	)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	return nil
}

func (i *Instrumentation) initTracerProvider(ctx context.Context) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch i.config.TracingExporter {
	case ExporterNone:
		i.tracerProvider = tracenoop.NewTracerProvider()
		return nil

	case ExporterOTLP:
		if i.config.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required for the otlp tracing exporter")
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(i.config.OTLPEndpoint)}
		if i.config.OTLPInsecure {
			i.config.Logger.Warn("OTLP insecure transport enabled - use only for development",
				"component", "instrumentation",
				"endpoint", i.config.OTLPEndpoint)
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}

	case ExporterStdout:
		i.config.Logger.Warn("stdout trace exporter enabled - for development only",
			"component", "instrumentation")
		exporter, err = stdouttrace.New()
		if err != nil {
			return fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

	default:
		return fmt.Errorf("unsupported tracing exporter: %s", i.config.TracingExporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(i.resource),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(i.config.TraceSamplingRate))),
	)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	return nil
}

// Shutdown flushes and stops the exporters. It is safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	if i == nil {
		return nil
	}

	var errs []error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Meter returns a named meter for the given scope ("http", "server", "storage", "security", "gateway").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	if i == nil {
		return noop.NewMeterProvider().Meter(scopePrefix + scope)
	}
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	if i == nil {
		return tracenoop.NewTracerProvider().Tracer(scopePrefix + scope)
	}
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder. Returns nil for a nil receiver;
// every Record method accepts a nil *Metrics.
func (i *Instrumentation) Metrics() *Metrics {
	if i == nil {
		return nil
	}
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs returns whether client IP addresses should be recorded
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i != nil && i.config.LogClientIPs
}

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics
// are not exported for Prometheus.
func (i *Instrumentation) MetricsHandler() http.Handler {
	if i == nil || i.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// StorageSizes is a point-in-time count of the entities held by a store.
type StorageSizes struct {
	Clients       int64
	Users         int64
	Codes         int64
	AccessTokens  int64
	RefreshTokens int64
}

// RegisterStorageSizeCallback registers an observable callback reporting the
// store size on every collection.
func (i *Instrumentation) RegisterStorageSizeCallback(sizes func() StorageSizes) error {
	if i == nil || sizes == nil {
		return nil
	}
	m := i.metrics

	_, err := i.Meter("storage").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			s := sizes()
			observer.ObserveInt64(m.StorageClientsCount, s.Clients)
			observer.ObserveInt64(m.StorageUsersCount, s.Users)
			observer.ObserveInt64(m.StorageCodesCount, s.Codes)
			observer.ObserveInt64(m.StorageAccessTokensCount, s.AccessTokens)
			observer.ObserveInt64(m.StorageRefreshTokensCount, s.RefreshTokens)
			return nil
		},
		m.StorageClientsCount,
		m.StorageUsersCount,
		m.StorageCodesCount,
		m.StorageAccessTokensCount,
		m.StorageRefreshTokensCount,
	)
	return err
}
