package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/httpapi"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/history"
	"github.com/vladislavdragonenkov/sales/internal/service/idempotency"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/registration"
	"github.com/vladislavdragonenkov/sales/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second
	serviceName     = "sales-service"
)

// Run поднимает HTTP API продаж, gRPC health, сервер метрик и фоновые воркеры
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.closeFn(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close storage")
		}
	}()

	summaryCache, cacheChecker, closeCache := initSummaryCache(ctx, cfg, logger.WithField("layer", "cache"))
	defer func() { _ = closeCache() }()

	tracerProvider, err := initTracer(ctx, cfg, logger.WithField("layer", "tracing"))
	if err != nil {
		return err
	}
	defer shutdownTracer(tracerProvider, logger)

	saleMetrics := metrics.NewSaleMetrics()
	registrar := registration.NewRegistrar(deps.saleStore,
		registration.WithLogger(log.WithField("component", "sale-registrar")),
		registration.WithMetrics(saleMetrics),
		registration.WithTimeout(cfg.RegistrationTimeout),
		registration.WithDocumentNumberWidth(cfg.DocumentNumberWidth),
	)
	historyService := history.NewService(deps.saleReader, deps.productReader,
		history.WithLogger(log.WithField("component", "sale-history")),
		history.WithCache(summaryCache),
		history.WithSummaryTTL(cfg.SummaryCacheTTL),
	)

	httpLogger := log.WithField("component", "http-api")
	handler := httpapi.NewHandler(registrar, historyService, deps.productReader, httpLogger)
	router := httpapi.NewRouter(handler, httpapi.RouterOptions{
		Idempotency:    deps.idempotencyRepo,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         httpLogger,
		ServiceName:    serviceName,
		TracerProvider: tracerProvider,
	})

	// Ошибка уже залогирована: сервис работает без публикации событий.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger.WithField("layer", "kafka"))
	defer closeKafkaProducer(kafkaProducer, logger)

	var (
		outboxCancel context.CancelFunc
		outboxDone   chan struct{}
	)
	if kafkaProducer != nil {
		publisher, dlqPublisher := newOutboxPublishers(kafkaProducer, cfg)
		worker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics()),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		var workerCtx context.Context
		workerCtx, outboxCancel = context.WithCancel(ctx)
		outboxDone = make(chan struct{})
		go func() {
			defer close(outboxDone)
			worker.Run(workerCtx)
		}()
	} else {
		logger.Info("kafka brokers are not configured, outbox events stay pending")
	}

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	cleanupDone := make(chan struct{})
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics()),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go func() {
		defer close(cleanupDone)
		cleanupWorker.Run(cleanupCtx)
	}()

	healthHandler := healthcheck.NewHandler(version.Current().Version)
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if cacheChecker != nil {
		healthHandler.RegisterChecker("cache", cacheChecker)
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopWorker(outboxCancel, outboxDone, logger)
		stopWorker(cleanupCancel, cleanupDone, logger)
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		stopWorker(outboxCancel, outboxDone, logger)
		stopWorker(cleanupCancel, cleanupDone, logger)
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen http: %w", err)
	}
	apiSrv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервисы")
		runErr = ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	stopWorker(outboxCancel, outboxDone, logger)
	stopWorker(cleanupCancel, cleanupDone, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// newGRPCServer создаёт gRPC сервер со стандартным health-сервисом,
// reflection и prometheus-интерсепторами.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// stopWorker отменяет контекст фонового воркера и ждёт его завершения.
func stopWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background worker did not stop in time")
	}
}

// startMetricsServer запускает /metrics, /healthz, /livez и /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
