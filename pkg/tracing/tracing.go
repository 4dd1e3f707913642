// Package tracing настраивает OpenTelemetry с экспортом в Jaeger по OTLP gRPC.
//
//	shutdown, err := tracing.InitTracer(tracing.Config{
//	    ServiceName: "payment-api",
//	    Endpoint:    "localhost:4317",
//	    Enabled:     true,
//	})
//	defer shutdown(context.Background())
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"example.com/payment-reconciler/pkg/logger"
)

// Config содержит настройки tracing.
type Config struct {
	ServiceName string
	Version     string
	Environment string
	Endpoint    string // OTLP gRPC endpoint, например "localhost:4317"
	Enabled     bool
	// SampleRatio - доля сэмплируемых корневых трасс (0..1). 0 трактуется как 1.
	SampleRatio float64
}

// ShutdownFunc завершает трейсер и сбрасывает накопленные spans.
type ShutdownFunc func(ctx context.Context) error

// InitTracer инициализирует глобальный TracerProvider.
// При Enabled=false возвращает no-op shutdown, spans создаются no-op провайдером.
func InitTracer(cfg Config) (ShutdownFunc, error) {
	log := logger.With().Str("component", "tracing").Logger()

	if !cfg.Enabled || cfg.Endpoint == "" {
		log.Info().Msg("Tracing отключен")
		return func(ctx context.Context) error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.SampleRatio)))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Float64("sample_ratio", sampleRatio(cfg.SampleRatio)).
		Msg("Tracing инициализирован (Jaeger OTLP)")

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Ошибка завершения TracerProvider")
		}
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия соединения с Jaeger")
			return err
		}
		return nil
	}, nil
}

// Tracer возвращает именованный tracer глобального провайдера.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TraceID возвращает trace_id активного span или "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func sampleRatio(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}
