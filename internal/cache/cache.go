package cache

import (
	"context"
	"time"

	"waralabaku/backend/internal/domain"
)

type StatsCache interface {
	Get(ctx context.Context, key string) (*domain.FinanceStatistics, bool, error)
	Set(ctx context.Context, key string, value *domain.FinanceStatistics, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.FinanceStatistics, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.FinanceStatistics, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Delete(_ context.Context, _ string) error {
	return nil
}
