package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"trekmate/pkg/config"
)

const tracerName = "trekmate"

// 导出器类型
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Init 按配置安装全局TracerProvider，重复调用会先关闭旧的
func Init(ctx context.Context, serviceName, version string, cfg config.TelemetryConfig) error {
	exporter, err := newExporter(cfg.Exporter, os.Stdout)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	mu.Lock()
	old := provider
	provider = tp
	mu.Unlock()
	if old != nil {
		_ = old.Shutdown(ctx)
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func newExporter(kind string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch kind {
	case ExporterStdout, "":
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterNone:
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", kind)
	}
}

// sampler 采样率不在(0,1)内时按全采样或不采样处理，跟随上游决定
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// StartSpan 未Init时得到NoOp span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// Shutdown 刷新未导出的span
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
