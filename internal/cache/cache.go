package cache

import (
	"context"
	"time"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

// ReportCache holds derived, recomputable reports. Losing an entry is never
// an error.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ReorderReport, bool, error)
	Set(ctx context.Context, key string, value *domain.ReorderReport, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ReorderReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ReorderReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
