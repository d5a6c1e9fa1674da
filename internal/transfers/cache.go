package transfers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	globalVersionKey = "transfers:ver"
	shopVersionKey   = "transfers:ver:shop:%d"
	detailKey        = "transfers:detail:%d"
)

// MetricsPort records cache hits, misses and invalidations.
type MetricsPort interface {
	ObserveCache(op string)
}

// Cache serves recent read results keyed by a canonical serialization of the
// request shape. Invalidation is targeted: every write bumps the version
// counters of the two shops involved plus a global counter, rotating exactly
// the keys that could reference the mutated state. The TTL is a backstop.
//
// The cache is advisory. Every failure degrades to a direct load and is
// logged; it never aborts the underlying operation.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics MetricsPort
}

// NewCache instantiates the cache helper. A nil client yields a no-op cache.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// SetMetrics attaches an optional metrics sink.
func (c *Cache) SetMetrics(m MetricsPort) {
	if c != nil {
		c.metrics = m
	}
}

func (c *Cache) observe(op string) {
	if c != nil && c.metrics != nil {
		c.metrics.ObserveCache(op)
	}
}

func (c *Cache) warn(msg string, err error) {
	if c != nil && c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}

func (c *Cache) version(ctx context.Context, key string) (int64, error) {
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildListKey composes the canonical cache key for a listing request. Keys
// that reference shops embed those shops' version counters; unscoped keys
// embed the global counter, so any write rotates them.
func (c *Cache) BuildListKey(ctx context.Context, filter ListFilter) (string, error) {
	canonical := fmt.Sprintf("p=%d|n=%d|st=%s|shop=%d|src=%d|dst=%d|from=%s|to=%s|q=%s",
		filter.Page, filter.PerPage, filter.Status, filter.ShopID, filter.SourceShopID, filter.DestinationShopID,
		formatTime(filter.From), formatTime(filter.To), filter.Search)
	if c == nil || c.client == nil {
		return "transfers:list:" + canonical, nil
	}

	shops := filterShops(filter)
	var versionToken string
	if len(shops) == 0 {
		ver, err := c.version(ctx, globalVersionKey)
		if err != nil {
			return "", err
		}
		versionToken = fmt.Sprintf("g=%d", ver)
	} else {
		parts := make([]string, 0, len(shops))
		for _, shopID := range shops {
			ver, err := c.version(ctx, fmt.Sprintf(shopVersionKey, shopID))
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("s%d=%d", shopID, ver))
		}
		versionToken = strings.Join(parts, ",")
	}
	return "transfers:list:" + canonical + ":" + versionToken, nil
}

// FetchList loads a cached listing or populates it via the loader.
func (c *Cache) FetchList(ctx context.Context, key string, loader func(context.Context) (ListResult, error)) (ListResult, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var result ListResult
		if err := json.Unmarshal(payload, &result); err == nil {
			c.observe("hit")
			return result, nil
		}
		c.warn("cache: corrupt list payload", err)
	} else if !errors.Is(err, redis.Nil) {
		c.warn("cache: get list", err)
	}
	c.observe("miss")
	result, err := loader(ctx)
	if err != nil {
		return ListResult{}, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return result, nil
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.warn("cache: set list", err)
	}
	return result, nil
}

// FetchDetail loads a cached transfer detail or populates it via the loader.
func (c *Cache) FetchDetail(ctx context.Context, transferID int64, loader func(context.Context) (WithItems, error)) (WithItems, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := fmt.Sprintf(detailKey, transferID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var result WithItems
		if err := json.Unmarshal(payload, &result); err == nil {
			c.observe("hit")
			return result, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn("cache: get detail", err)
	}
	c.observe("miss")
	result, err := loader(ctx)
	if err != nil {
		return WithItems{}, err
	}
	if raw, err := json.Marshal(result); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.warn("cache: set detail", err)
		}
	}
	return result, nil
}

// Invalidate rotates every cached listing referencing the given shops, drops
// the transfer's cached detail and bumps the global counter for unscoped
// listings. Failures are logged only; the write already committed.
func (c *Cache) Invalidate(ctx context.Context, transferID int64, shopIDs ...int64) {
	if c == nil || c.client == nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, globalVersionKey)
	seen := map[int64]struct{}{}
	for _, shopID := range shopIDs {
		if _, ok := seen[shopID]; ok || shopID == 0 {
			continue
		}
		seen[shopID] = struct{}{}
		pipe.Incr(ctx, fmt.Sprintf(shopVersionKey, shopID))
	}
	if transferID != 0 {
		pipe.Del(ctx, fmt.Sprintf(detailKey, transferID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.warn("cache: invalidate", err)
		return
	}
	c.observe("invalidate")
}

func filterShops(filter ListFilter) []int64 {
	seen := map[int64]struct{}{}
	var shops []int64
	for _, id := range []int64{filter.ShopID, filter.SourceShopID, filter.DestinationShopID} {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		shops = append(shops, id)
	}
	sort.Slice(shops, func(i, j int) bool { return shops[i] < shops[j] })
	return shops
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
