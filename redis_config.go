package canarystore

import (
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Environment fallbacks for the config index connection. REDIS_URL, when
// set and parseable, replaces the address, password and database settings.
const (
	EnvRedisURL       = "REDIS_URL"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvRedisDB        = "REDIS_DB"
	EnvRedisKeyPrefix = "CANARYSTORE_REDIS_PREFIX"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "canarystore"
)

// Short timeouts keep a dead index from stalling config writes; the
// circuit breaker opens after repeated failures.
const (
	redisDialTimeout = 5 * time.Second
	redisIOTimeout   = 3 * time.Second
)

// RedisOptions builds client options from the environment.
//
//	client := redis.NewClient(canarystore.RedisOptions())
//	index := canarystore.NewRedisConfigIndex(client)
func RedisOptions() *redis.Options {
	opts := redisOptionsFromURL(os.Getenv(EnvRedisURL))
	if opts == nil {
		opts = &redis.Options{
			Addr:     DefaultRedisAddr,
			Password: os.Getenv(EnvRedisPassword),
		}
		if addr := os.Getenv(EnvRedisAddr); addr != "" {
			opts.Addr = addr
		}
		if db, ok := envInt(EnvRedisDB); ok {
			opts.DB = db
		}
	}
	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = redisIOTimeout
	opts.WriteTimeout = redisIOTimeout
	return opts
}

func redisOptionsFromURL(raw string) *redis.Options {
	if raw == "" {
		return nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil
	}
	return opts
}

// RedisOptionsWithOverrides applies configured values on top of RedisOptions.
// Zero values leave the environment setting in place.
func RedisOptionsWithOverrides(addr, password string, db, poolSize int) *redis.Options {
	opts := RedisOptions()
	if addr != "" {
		opts.Addr = addr
	}
	if password != "" {
		opts.Password = password
	}
	if db > 0 {
		opts.DB = db
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return opts
}

// RedisKeyPrefix namespaces every key canarystore writes to Redis.
func RedisKeyPrefix() string {
	if p := os.Getenv(EnvRedisKeyPrefix); p != "" {
		return p
	}
	return DefaultRedisKeyPrefix
}

// envInt reads an integer variable; ok is false when unset or malformed.
func envInt(key string) (n int, ok bool) {
	n, err := strconv.Atoi(os.Getenv(key))
	return n, err == nil
}
