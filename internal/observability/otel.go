package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hostclick/kapi/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Config selects the collector and the service identity attached to spans.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is host:port or a URL; http:// implies an insecure exporter.
	Endpoint string
	Insecure bool
}

// SetupOTel installs a batching OTLP/HTTP tracer provider and the W3C
// propagators. Without an endpoint tracing stays off and the returned
// shutdown does nothing.
func SetupOTel(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return noopShutdown, nil
	}
	opts, err := exporterOptions(cfg)
	if err != nil {
		return noopShutdown, err
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noopShutdown, fmt.Errorf("otlp trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(serviceResource(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	logging.L.Info("otel_configured", zap.String("endpoint", cfg.Endpoint))
	return tp.Shutdown, nil
}

func exporterOptions(cfg Config) ([]otlptracehttp.Option, error) {
	hostPort, path, insecure, err := normalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("otel endpoint: %w", err)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(hostPort)}
	if path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(path))
	}
	if insecure || cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts, nil
}

// serviceResource names the service; empty name and version fall back to
// "kapi" and "dev".
func serviceResource(cfg Config) *resource.Resource {
	name, version := cfg.ServiceName, strings.TrimSpace(cfg.ServiceVersion)
	if name == "" {
		name = "kapi"
	}
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name), semconv.ServiceVersion(version)}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// normalizeEndpoint splits a collector address into host:port and an optional
// URL path. A URL path of "/" is dropped so the exporter default applies.
func normalizeEndpoint(raw string) (hostPort, path string, insecure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", false, err
		}
		if u.Host == "" {
			return "", "", false, fmt.Errorf("missing host in %q", raw)
		}
		p := strings.TrimRight(u.Path, "/")
		return u.Host, p, u.Scheme == "http", nil
	}
	return raw, "", false, nil
}

func noopShutdown(context.Context) error { return nil }
