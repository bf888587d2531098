package canarystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// finishScript commits a pending update only while its marker (KEYS[1] field
// ARGV[1]) still holds the value the caller read, so finishes for different
// ids never conflict and a marker is applied at most once.
var finishScript = redis.NewScript(`
if redis.call("hget", KEYS[1], ARGV[1]) ~= ARGV[2] then
	return 0
end
if ARGV[3] == "DELETE" then
	redis.call("hdel", KEYS[3], ARGV[4])
else
	redis.call("hset", KEYS[3], ARGV[4], ARGV[5])
end
redis.call("hdel", KEYS[1], ARGV[1])
redis.call("zrem", KEYS[2], ARGV[1])
return 1`)

// RedisConfigIndex keeps the config index in Redis so that every canarystore process
// sharing a storage account sees the same summaries and in-flight updates.
//
// Keys per account (the hash tag keeps them in one cluster slot):
//
//	<prefix>:{<account>}:config:by-id       HASH id -> summary JSON
//	<prefix>:{<account>}:config:pending     HASH correlation id -> pending update JSON
//	<prefix>:{<account>}:config:pending-ts  ZSET correlation id scored by timestamp
type RedisConfigIndex struct {
	client  *redis.Client
	prefix  string
	breaker *CircuitBreaker
	logger  Logger
	metrics Metrics
}

// RedisConfigIndexOption configures a RedisConfigIndex
type RedisConfigIndexOption func(*RedisConfigIndex)

// WithIndexKeyPrefix overrides the Redis key namespace
func WithIndexKeyPrefix(prefix string) RedisConfigIndexOption {
	return func(r *RedisConfigIndex) { r.prefix = prefix }
}

// WithIndexCircuitBreaker replaces the default breaker (5 failures, 30s reset)
func WithIndexCircuitBreaker(cb *CircuitBreaker) RedisConfigIndexOption {
	return func(r *RedisConfigIndex) { r.breaker = cb }
}

// WithIndexLogger sets the logger
func WithIndexLogger(logger Logger) RedisConfigIndexOption {
	return func(r *RedisConfigIndex) { r.logger = logger }
}

// WithIndexMetrics sets the metrics sink
func WithIndexMetrics(metrics Metrics) RedisConfigIndexOption {
	return func(r *RedisConfigIndex) { r.metrics = metrics }
}

// NewRedisConfigIndex creates a Redis-backed config index
func NewRedisConfigIndex(client *redis.Client, opts ...RedisConfigIndexOption) *RedisConfigIndex {
	r := &RedisConfigIndex{
		client:  client,
		prefix:  RedisKeyPrefix(),
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = NewCircuitBreaker("configindex", 5, 30*time.Second).
			WithStateChangeCallback(func(from, to CircuitState) {
				r.logger.Warn("config index circuit breaker changed state", "from", from.String(), "to", to.String())
			})
	}
	return r
}

func (r *RedisConfigIndex) byIDKey(account string) string {
	return fmt.Sprintf("%s:{%s}:config:by-id", r.prefix, account)
}

func (r *RedisConfigIndex) pendingKey(account string) string {
	return fmt.Sprintf("%s:{%s}:config:pending", r.prefix, account)
}

func (r *RedisConfigIndex) pendingTSKey(account string) string {
	return fmt.Sprintf("%s:{%s}:config:pending-ts", r.prefix, account)
}

// do runs fn through the circuit breaker
func (r *RedisConfigIndex) do(ctx context.Context, fn func() error) error {
	err := r.breaker.Execute(ctx, fn)
	if errors.Is(err, ErrBackendUnavailable) {
		r.metrics.Increment(MetricCircuitOpen, "breaker", "configindex")
	}
	return err
}

// CurrentTime reads the Redis server clock
func (r *RedisConfigIndex) CurrentTime(ctx context.Context) (int64, error) {
	var now time.Time
	err := r.do(ctx, func() error {
		var err error
		now, err = r.client.Time(ctx).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("config index time: %w", err)
	}
	return now.UnixMilli(), nil
}

func (r *RedisConfigIndex) StartPendingUpdate(ctx context.Context, account string, update PendingUpdate) error {
	raw, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode pending update: %w", err)
	}

	err = r.do(ctx, func() error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.pendingKey(account), update.CorrelationID, raw)
			pipe.ZAdd(ctx, r.pendingTSKey(account), redis.Z{
				Score:  float64(update.Timestamp),
				Member: update.CorrelationID,
			})
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("start pending update %s: %w", update.CorrelationID, err)
	}
	return nil
}

func (r *RedisConfigIndex) FinishPendingUpdate(ctx context.Context, account string, action IndexAction, correlationID string) error {
	pendingKey, tsKey, byIDKey := r.pendingKey(account), r.pendingTSKey(account), r.byIDKey(account)

	var raw string
	err := r.do(ctx, func() error {
		var err error
		raw, err = r.client.HGet(ctx, pendingKey, correlationID).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return unknownPendingUpdate(account, correlationID)
	}
	if err != nil {
		return fmt.Errorf("finish pending update %s: %w", correlationID, err)
	}

	var update PendingUpdate
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		return WithContext(ErrDeserialize, map[string]interface{}{
			"correlationId": correlationID,
			"error":         err.Error(),
		})
	}
	if update.Action != action {
		return unknownPendingUpdate(account, correlationID)
	}
	summary, err := json.Marshal(update.Summary)
	if err != nil {
		return err
	}

	var applied int
	err = r.do(ctx, func() error {
		var err error
		applied, err = finishScript.Run(ctx, r.client,
			[]string{pendingKey, tsKey, byIDKey},
			correlationID, raw, string(action), update.Summary.ID, summary,
		).Int()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish pending update %s: %w", correlationID, err)
	}
	if applied == 0 {
		// Finished or removed by someone else between the read and the script.
		return unknownPendingUpdate(account, correlationID)
	}
	return nil
}

func (r *RedisConfigIndex) RemoveFailedPendingUpdate(ctx context.Context, account string, update PendingUpdate) error {
	err := r.do(ctx, func() error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, r.pendingKey(account), update.CorrelationID)
			pipe.ZRem(ctx, r.pendingTSKey(account), update.CorrelationID)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("remove pending update %s: %w", update.CorrelationID, err)
	}
	return nil
}

func (r *RedisConfigIndex) IDForName(ctx context.Context, account, name string, applications []string) (string, error) {
	pending, err := r.PendingUpdates(ctx, account)
	if err != nil {
		return "", err
	}
	if id := inflightIDForName(pending, name, applications); id != "" {
		return id, nil
	}

	committed, err := r.committed(ctx, account)
	if err != nil {
		return "", err
	}
	return committedIDForName(committed, name, applications), nil
}

func (r *RedisConfigIndex) SummaryForID(ctx context.Context, account, id string) (*ObjectSummary, error) {
	var raw string
	err := r.do(ctx, func() error {
		var err error
		raw, err = r.client.HGet(ctx, r.byIDKey(account), id).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"account": account,
			"id":      id,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("config index summary %s: %w", id, err)
	}

	var summary ObjectSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, WithContext(ErrDeserialize, map[string]interface{}{"id": id, "error": err.Error()})
	}
	return &summary, nil
}

func (r *RedisConfigIndex) SummarySet(ctx context.Context, account string, applications []string) ([]ObjectSummary, error) {
	committed, err := r.committed(ctx, account)
	if err != nil {
		return nil, err
	}

	out := committed[:0]
	for _, summary := range committed {
		if appsOverlap(applications, summary.Applications) {
			out = append(out, summary)
		}
	}
	sortSummaries(out)
	return out, nil
}

func (r *RedisConfigIndex) committed(ctx context.Context, account string) ([]ObjectSummary, error) {
	var values []string
	err := r.do(ctx, func() error {
		var err error
		values, err = r.client.HVals(ctx, r.byIDKey(account)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("config index summaries: %w", err)
	}

	summaries := make([]ObjectSummary, 0, len(values))
	for _, raw := range values {
		var summary ObjectSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			r.logger.Warn("skipping unreadable config index entry", "account", account, "error", err)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (r *RedisConfigIndex) ReplaceCommitted(ctx context.Context, account string, summaries []ObjectSummary) error {
	fields := make(map[string]interface{}, len(summaries))
	for _, summary := range summaries {
		raw, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		fields[summary.ID] = raw
	}

	err := r.do(ctx, func() error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.byIDKey(account))
			if len(fields) > 0 {
				pipe.HSet(ctx, r.byIDKey(account), fields)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("replace config index: %w", err)
	}
	return nil
}

func (r *RedisConfigIndex) PendingUpdates(ctx context.Context, account string) ([]PendingUpdate, error) {
	var values []string
	err := r.do(ctx, func() error {
		var err error
		values, err = r.client.HVals(ctx, r.pendingKey(account)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("config index pending updates: %w", err)
	}

	pending := make([]PendingUpdate, 0, len(values))
	for _, raw := range values {
		var p PendingUpdate
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			r.logger.Warn("skipping unreadable pending update", "account", account, "error", err)
			continue
		}
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Timestamp < pending[j].Timestamp })
	return pending, nil
}

func (r *RedisConfigIndex) DropPending(ctx context.Context, account string, olderThan int64) (int, error) {
	var stale []string
	err := r.do(ctx, func() error {
		var err error
		stale, err = r.client.ZRangeByScore(ctx, r.pendingTSKey(account), &redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("(%d", olderThan),
		}).Result()
		if err != nil || len(stale) == 0 {
			return err
		}

		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, r.pendingKey(account), stale...)
			pipe.ZRem(ctx, r.pendingTSKey(account), members...)
			return nil
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("drop stale pending updates: %w", err)
	}
	return len(stale), nil
}

// Ping checks connectivity to Redis
func (r *RedisConfigIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
