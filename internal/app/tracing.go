package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/vladislavdragonenkov/sales/internal/version"
)

// initTracer создаёт TracerProvider для otelgin и регистрирует его глобально.
// Без SALES_OTLP_ENDPOINT спаны создаются и сэмплируются, но не экспортируются.
func initTracer(ctx context.Context, cfg Config, logger *log.Entry, extra ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Current().Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	}

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.WithField("endpoint", endpoint).Info("OTLP экспорт трейсов включён")
	} else {
		logger.Info("otlp endpoint is not configured, spans are not exported")
	}

	tp := sdktrace.NewTracerProvider(append(opts, extra...)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// shutdownTracer сбрасывает буфер экспортёра и останавливает провайдер.
func shutdownTracer(tp *sdktrace.TracerProvider, logger *log.Entry) {
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("failed to shutdown tracer provider")
	}
}
