package cache

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// SummaryKey — ключ сводки dashboard.
const SummaryKey = "sales:dashboard:summary"

// SummaryCache кэширует сводку dashboard.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.DashboardSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.DashboardSummary, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NoopSummaryCache используется, когда Redis не настроен.
type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.DashboardSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.DashboardSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Delete(_ context.Context, _ string) error {
	return nil
}
