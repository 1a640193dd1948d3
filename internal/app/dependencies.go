package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/cache"
	"github.com/vladislavdragonenkov/sales/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

const checkTimeout = 2 * time.Second

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	saleStore       domain.SaleStore
	saleReader      domain.SaleReader
	productReader   domain.ProductReader
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// productCatalog — запись и подсчёт товаров для начального наполнения.
type productCatalog interface {
	CountProducts(ctx context.Context) (int, error)
	UpsertProduct(ctx context.Context, p domain.Product) error
}

// demoProducts — каталог для локального запуска.
func demoProducts() []domain.Product {
	return []domain.Product{
		{ID: 1, Name: "Espresso", Stock: 500, Price: decimal.RequireFromString("2.50")},
		{ID: 2, Name: "Cappuccino", Stock: 500, Price: decimal.RequireFromString("3.20")},
		{ID: 3, Name: "Croissant", Stock: 200, Price: decimal.RequireFromString("1.80")},
		{ID: 4, Name: "Orange juice", Stock: 150, Price: decimal.RequireFromString("4.00")},
		{ID: 5, Name: "Sandwich", Stock: 100, Price: decimal.RequireFromString("6.75")},
	}
}

// seedProducts заполняет пустой каталог демо-товарами; непустой не трогает.
func seedProducts(ctx context.Context, catalog productCatalog, products []domain.Product, logger *log.Entry) error {
	count, err := catalog.CountProducts(ctx)
	if err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, p := range products {
		if err := catalog.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %d: %w", p.ID, err)
		}
	}
	logger.WithField("products", len(products)).Info("demo products seeded")
	return nil
}

// initRuntimeDependencies создаёт хранилища для выбранного драйвера.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		if cfg.SeedDemoProducts {
			if err := seedProducts(ctx, store, demoProducts(), logger); err != nil {
				return nil, err
			}
		}
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			saleStore:       store,
			saleReader:      store,
			productReader:   store,
			outboxRepo:      store.Outbox(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewSimpleChecker("storage", func() error { return nil }),
			closeFn:         func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires %s", envPostgresDSN)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		if cfg.SeedDemoProducts {
			if err := seedProducts(ctx, store, demoProducts(), logger); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return &runtimeDependencies{
			saleStore:       store,
			saleReader:      store,
			productReader:   store,
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewPingChecker("postgres", checkTimeout, store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initSummaryCache подключает Redis для сводки dashboard.
// Без адреса или при недоступном Redis используется NoopSummaryCache.
func initSummaryCache(ctx context.Context, cfg Config, logger *log.Entry) (cache.SummaryCache, healthcheck.Checker, func() error) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		return cache.NoopSummaryCache{}, nil, noop
	}

	redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		logger.WithError(err).WithField("redis_addr", cfg.RedisAddr).Warn("redis is unavailable, dashboard summary cache disabled")
		_ = redisCache.Close()
		return cache.NoopSummaryCache{}, nil, noop
	}

	logger.WithField("redis_addr", cfg.RedisAddr).Info("redis summary cache initialized")
	checker := healthcheck.NewOptionalPingChecker("redis", checkTimeout, redisCache.Ping)
	return redisCache, checker, redisCache.Close
}
