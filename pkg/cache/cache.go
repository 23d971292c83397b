package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metrics"
	"github.com/finroute/finroute/pkg/models"
	"go.uber.org/zap"
)

// Engine is the tiered-TTL cache-aside layer over Redis. Every operation is
// fail-open: a backend error degrades to a miss (or a dropped write), never
// to a request failure.
type Engine struct {
	rdb *redis.Client
}

// New constructs an Engine from a Redis URL with pool sizing suited to
// request-scoped use.
func New(redisURL string) (*Engine, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.IdleTimeout = 5 * time.Minute
	return &Engine{rdb: redis.NewClient(opt)}, nil
}

// NewWithClient wraps an existing client; used by tests with redismock.
func NewWithClient(rdb *redis.Client) *Engine {
	return &Engine{rdb: rdb}
}

// Key derives the deterministic cache key for a normalized symbol and request
// shape. Bulk requests decompose into the same per-symbol keys as single
// requests, so either path can hit entries the other stored.
func Key(sym models.Symbol, shape string) string {
	return fmt.Sprintf("quotes:%s:%s:%s", sym.AssetType, safe(sym.Canonical), shape)
}

// Get returns the cached quote for key, or ok=false on miss, expiry, backend
// error, or a corrupt entry.
func (e *Engine) Get(ctx context.Context, key string) (models.Quote, bool) {
	start := time.Now()
	data, err := e.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			metrics.CacheErrors.WithLabelValues("get").Inc()
			metrics.CacheOperationDuration.WithLabelValues("get", "error").Observe(time.Since(start).Seconds())
			logger.Log.Warn("cache get failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		} else {
			metrics.CacheOperationDuration.WithLabelValues("get", "miss").Observe(time.Since(start).Seconds())
		}
		metrics.CacheMisses.Inc()
		return models.Quote{}, false
	}

	q, err := models.QuoteFromJSON(data)
	if err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = e.rdb.Del(ctx, key).Err()
		metrics.CacheMisses.Inc()
		logger.Log.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		return models.Quote{}, false
	}

	metrics.CacheHits.Inc()
	metrics.CacheOperationDuration.WithLabelValues("get", "hit").Observe(time.Since(start).Seconds())
	return q, true
}

// Set stores a quote under key for the lifetime of its TTL class. Callers
// only invoke this after a successful, validated fetch.
func (e *Engine) Set(ctx context.Context, key string, q models.Quote, class models.TTLClass) {
	data, err := q.ToJSON()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		return
	}

	start := time.Now()
	if err := e.rdb.Set(ctx, key, data, class.Duration()).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		metrics.CacheOperationDuration.WithLabelValues("set", "error").Observe(time.Since(start).Seconds())
		logger.Log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.CacheOperationDuration.WithLabelValues("set", "ok").Observe(time.Since(start).Seconds())
}

// Invalidate removes keys, best effort.
func (e *Engine) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := e.rdb.Del(ctx, keys...).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("del").Inc()
	}
}

// HealthCheck reports backend reachability for the status endpoint.
func (e *Engine) HealthCheck(ctx context.Context) bool {
	return e.rdb.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (e *Engine) Close() error {
	return e.rdb.Close()
}

// safe escapes characters that are problematic in Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
