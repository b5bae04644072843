package reorder

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/diopweb/Sofalia-v7/internal/cache"
	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/stock"
)

const cacheKeyPrefix = "pos:reorder:"

// Loader returns the current catalog.
type Loader func(ctx context.Context) ([]domain.Product, error)

// Engine builds the "products to reorder" report. Results are cached for a
// short TTL and concurrent misses share one computation.
type Engine struct {
	cache    cache.ReportCache
	cacheTTL time.Duration
	policy   stock.PackPolicy
	logger   *zap.Logger
	group    singleflight.Group
}

func NewEngine(cacheStore cache.ReportCache, cacheTTL time.Duration, policy stock.PackPolicy, logger *zap.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	if policy == "" {
		policy = stock.PackPolicyEither
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		policy:   policy,
		logger:   logger,
	}
}

func (e *Engine) Policy() stock.PackPolicy {
	return e.policy
}

func (e *Engine) cacheKey() string {
	return cacheKeyPrefix + string(e.policy)
}

func (e *Engine) Report(ctx context.Context, load Loader) (domain.ReorderReport, error) {
	key := e.cacheKey()
	if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		e.logger.Warn("reorder cache read failed", zap.Error(err))
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		products, err := load(ctx)
		if err != nil {
			return nil, err
		}
		report := Build(products, e.policy, time.Now().UTC())
		if err := e.cache.Set(ctx, key, &report, e.cacheTTL); err != nil {
			e.logger.Warn("reorder cache write failed", zap.Error(err))
		}
		return report, nil
	})
	if err != nil {
		return domain.ReorderReport{}, err
	}
	return v.(domain.ReorderReport), nil
}

// Invalidate drops the cached report after stock moved.
func (e *Engine) Invalidate(ctx context.Context) {
	if err := e.cache.Delete(ctx, e.cacheKey()); err != nil {
		e.logger.Warn("reorder cache invalidation failed", zap.Error(err))
	}
}

// Build lists every low-stock sellable unit, emptiest first.
func Build(products []domain.Product, policy stock.PackPolicy, at time.Time) domain.ReorderReport {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	lookup := stock.MapLookup(byID)

	items := make([]domain.StockView, 0, 16)
	for _, p := range products {
		views, err := stock.Views(p, lookup, policy)
		if err != nil {
			continue
		}
		for _, v := range views {
			if v.LowStock {
				items = append(items, v)
			}
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Available == items[j].Available {
			return items[i].Name < items[j].Name
		}
		return items[i].Available < items[j].Available
	})

	return domain.ReorderReport{
		Policy:      string(policy),
		GeneratedAt: at.Format(time.RFC3339),
		Items:       items,
	}
}
