package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/factors"
	"github.com/crucial-sub/stocklab/internal/metrics"
)

// Options tunes the two-tier cache.
type Options struct {
	TTL           time.Duration
	LRUCapacity   int
	OpTimeout     time.Duration
	DecodeWorkers int
}

// DefaultOptions matches production settings: 30d TTL, 500-entry LRU, 5s
// per-operation timeout.
func DefaultOptions() Options {
	return Options{
		TTL:           DefaultTTL,
		LRUCapacity:   DefaultLRUCapacity,
		OpTimeout:     5 * time.Second,
		DecodeWorkers: 8,
	}
}

// Cache is the two-tier factor and price cache. Every remote failure is
// logged, counted and treated as a miss; callers recompute and move on.
type Cache struct {
	rdb  redis.Cmdable
	mem  *lru
	opts Options
	log  zerolog.Logger
}

// New wires a cache over an existing redis client. rdb may be nil, which
// degrades to the in-process tier only.
func New(rdb redis.Cmdable, opts Options, log zerolog.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if opts.DecodeWorkers <= 0 {
		opts.DecodeWorkers = 8
	}
	return &Cache{
		rdb:  rdb,
		mem:  newLRU(opts.LRUCapacity),
		opts: opts,
		log:  log.With().Str("component", "cache").Logger(),
	}
}

// GetTables fetches factor tables for the given redis keys in one MGET.
// Returns the decoded tables keyed by redis key plus the list of misses.
// maskKey scopes the in-process tier so a masked table never satisfies a
// fuller request.
func (c *Cache) GetTables(ctx context.Context, keys []string, maskKey string) (map[string]*factors.Table, []string) {
	found := make(map[string]*factors.Table, len(keys))
	var remote []string
	for _, key := range keys {
		if table, ok := c.mem.Get(memoryKey(key, maskKey)); ok {
			metrics.CacheHits.WithLabelValues("memory").Inc()
			found[key] = table
			continue
		}
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		remote = append(remote, key)
	}
	if len(remote) == 0 || c.rdb == nil {
		return found, remote
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	vals, err := c.rdb.MGet(opCtx, remote...).Result()
	if err != nil {
		metrics.CacheErrors.Inc()
		c.log.Warn().Err(err).Int("keys", len(remote)).Msg("redis mget failed, treating as miss")
		return found, remote
	}

	type job struct {
		key  string
		blob []byte
	}
	jobs := make(chan job, len(remote))
	var mu sync.Mutex
	var missing []string
	var wg sync.WaitGroup
	workers := c.opts.DecodeWorkers
	if workers > len(remote) {
		workers = len(remote)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				var table factors.Table
				if err := Decode(j.blob, &table); err != nil {
					metrics.CacheErrors.Inc()
					c.log.Warn().Err(err).Str("key", j.key).Msg("cached table decode failed, treating as miss")
					mu.Lock()
					missing = append(missing, j.key)
					mu.Unlock()
					continue
				}
				mu.Lock()
				found[j.key] = &table
				mu.Unlock()
				c.mem.Put(memoryKey(j.key, maskKey), &table)
			}
		}()
	}
	for i, key := range remote {
		blob, ok := asBytes(vals[i])
		if !ok {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			mu.Lock()
			missing = append(missing, key)
			mu.Unlock()
			continue
		}
		metrics.CacheHits.WithLabelValues("redis").Inc()
		jobs <- job{key: key, blob: blob}
	}
	close(jobs)
	wg.Wait()
	return found, missing
}

// PutTables writes factor tables in one MSET followed by pipelined EXPIREs.
// Failures are logged and swallowed.
func (c *Cache) PutTables(ctx context.Context, tables map[string]*factors.Table, maskKey string) {
	for key, table := range tables {
		c.mem.Put(memoryKey(key, maskKey), table)
	}
	if c.rdb == nil || len(tables) == 0 {
		return
	}

	pairs := make([]interface{}, 0, len(tables)*2)
	keys := make([]string, 0, len(tables))
	for key, table := range tables {
		blob, err := Encode(table)
		if err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("table encode failed, skipping cache write")
			continue
		}
		pairs = append(pairs, key, blob)
		keys = append(keys, key)
	}
	if len(pairs) == 0 {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.rdb.MSet(opCtx, pairs...).Err(); err != nil {
		metrics.CacheErrors.Inc()
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("redis mset failed, skipping cache write")
		return
	}
	pipe := c.rdb.Pipeline()
	for _, key := range keys {
		pipe.Expire(opCtx, key, c.opts.TTL)
	}
	if _, err := pipe.Exec(opCtx); err != nil {
		metrics.CacheErrors.Inc()
		c.log.Warn().Err(err).Msg("redis expire pipeline failed")
	}
}

// GetPrices fetches a cached price window.
func (c *Cache) GetPrices(ctx context.Context, key string) ([]domain.PriceBar, bool) {
	if c.rdb == nil {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	blob, err := c.rdb.Get(opCtx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheErrors.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("redis get failed, treating as miss")
		return nil, false
	}
	var bars []domain.PriceBar
	if err := Decode(blob, &bars); err != nil {
		metrics.CacheErrors.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("cached price decode failed, treating as miss")
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return bars, true
}

// PutPrices caches a loaded price window.
func (c *Cache) PutPrices(ctx context.Context, key string, bars []domain.PriceBar) {
	if c.rdb == nil {
		return
	}
	blob, err := Encode(bars)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("price encode failed, skipping cache write")
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.rdb.Set(opCtx, key, blob, c.opts.TTL).Err(); err != nil {
		metrics.CacheErrors.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("redis set failed, skipping cache write")
	}
}

// Invalidate deletes every redis key matching the pattern via SCAN+DEL and
// purges the in-process tier.
func (c *Cache) Invalidate(ctx context.Context, pattern string) error {
	c.mem.Purge()
	if c.rdb == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.rdb.Scan(opCtx, cursor, pattern, 500).Result()
		if err != nil {
			metrics.CacheErrors.Inc()
			c.log.Warn().Err(err).Str("pattern", pattern).Msg("redis scan failed during invalidation")
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(opCtx, keys...).Err(); err != nil {
				metrics.CacheErrors.Inc()
				c.log.Warn().Err(err).Msg("redis del failed during invalidation")
				return err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.log.Info().Str("pattern", pattern).Int("deleted", deleted).Msg("cache invalidated")
	return nil
}

func asBytes(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return nil, false
	}
}
