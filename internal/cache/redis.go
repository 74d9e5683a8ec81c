package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MimeLyc/subrelay/pkg/log"
)

const defaultRedisPrefix = "subrelay:tr:"

func init() {
	Register("redis", newRedisCache)
}

// redisCache lets several processes share translations.
//
// Each value lives in its own string key {prefix}v:{key} with a PX expiry, so Redis
// itself enforces the TTL. {prefix}idx is a sorted set of keys scored by write time
// in microseconds; it bounds the entry count and drives eviction of the oldest writes.
type redisCache struct {
	client      *redis.Client
	ttl         time.Duration
	maxSize     int
	onEvict     EvictCallback
	logger      *log.Logger
	valuePrefix string
	indexKey    string
}

// KEYS[1] = value key, KEYS[2] = index
// ARGV[1] = value, ARGV[2] = ttl ms, ARGV[3] = now µs, ARGV[4] = member,
// ARGV[5] = expiry cutoff µs, ARGV[6] = max size, ARGV[7] = value key prefix
//
// Returns the members evicted for size.
var setAndTrim = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[5])

local maxSize = tonumber(ARGV[6])
local size = redis.call('ZCARD', KEYS[2])
local evicted = {}
while size > maxSize do
    local oldest = redis.call('ZPOPMIN', KEYS[2], 1)
    if #oldest == 0 then break end
    redis.call('DEL', ARGV[7] .. oldest[1])
    table.insert(evicted, oldest[1])
    size = size - 1
end
return evicted
`)

func newRedisCache(cfg ProviderConfig) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddress, err)
	}

	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisCache{
		client:      client,
		ttl:         cfg.TTL,
		maxSize:     cfg.Size,
		onEvict:     cfg.OnEvict,
		logger:      cfg.Logger,
		valuePrefix: prefix + "v:",
		indexKey:    prefix + "idx",
	}, nil
}

func (r *redisCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 2*time.Second)
}

func (r *redisCache) Get(ctx context.Context, key string) (string, bool) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, r.valuePrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache get failed: %v", err)
		}
		return "", false
	}
	return val, true
}

func (r *redisCache) Set(ctx context.Context, key, value string) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	now := time.Now()
	cutoff := now.Add(-r.ttl)

	evicted, err := setAndTrim.Run(ctx, r.client,
		[]string{r.valuePrefix + key, r.indexKey},
		value,
		strconv.FormatInt(r.ttl.Milliseconds(), 10),
		strconv.FormatInt(now.UnixMicro(), 10),
		key,
		strconv.FormatInt(cutoff.UnixMicro(), 10),
		strconv.Itoa(r.maxSize),
		r.valuePrefix,
	).StringSlice()
	if err != nil {
		r.logger.Warn("redis cache set failed: %v", err)
		return
	}

	if r.onEvict != nil {
		for _, k := range evicted {
			r.onEvict(k, "")
		}
	}
}

// Len counts index members written within the TTL window.
func (r *redisCache) Len() int {
	ctx, cancel := r.opContext(context.Background())
	defer cancel()

	cutoff := time.Now().Add(-r.ttl).UnixMicro()
	n, err := r.client.ZCount(ctx, r.indexKey, "("+strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		r.logger.Warn("redis cache len failed: %v", err)
		return 0
	}
	return int(n)
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
