package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
)

const mgetBatchSize = 100

// Redis stores each record as a JSON value under <prefix>:note:<id>
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedis connects to cfg.URL and verifies the connection
func NewRedis(cfg config.RedisConfig, log *logger.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Redis store initialized",
		zap.String("redis_url", logger.MaskURL(cfg.URL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("ttl", cfg.TTL))

	return NewRedisFromClient(client, cfg.KeyPrefix, cfg.TTL, log), nil
}

// NewRedisFromClient uses an existing client
func NewRedisFromClient(client *redis.Client, prefix string, ttl time.Duration, log *logger.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: log}
}

func (r *Redis) key(id string) string {
	return fmt.Sprintf("%s:note:%s", r.prefix, id)
}

// Put implements Writer
func (r *Redis) Put(ctx context.Context, record AuditRecord) error {
	if record.DetectedDescriptions == nil {
		record.DetectedDescriptions = []string{}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := r.client.Set(ctx, r.key(record.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	r.logger.Debug("Record stored", zap.String("id", record.ID))
	return nil
}

// Get returns the record with id
func (r *Redis) Get(ctx context.Context, id string) (AuditRecord, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return AuditRecord{}, ErrNotFound
	}
	if err != nil {
		return AuditRecord{}, fmt.Errorf("failed to get record: %w", err)
	}

	var record AuditRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return AuditRecord{}, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return record, nil
}

// List implements Lister. Keys are found with SCAN and fetched in MGET batches;
// values that vanish between the two calls are skipped.
func (r *Redis) List(ctx context.Context) ([]AuditRecord, error) {
	iter := r.client.Scan(ctx, 0, r.prefix+":note:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan record keys: %w", err)
	}

	records := make([]AuditRecord, 0, len(keys))
	for i := 0; i < len(keys); i += mgetBatchSize {
		end := i + mgetBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		values, err := r.client.MGet(ctx, keys[i:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch records: %w", err)
		}

		for j, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var record AuditRecord
			if err := json.Unmarshal([]byte(s), &record); err != nil {
				r.logger.Warn("Skipping unreadable record", zap.String("key", keys[i+j]), zap.Error(err))
				continue
			}
			records = append(records, record)
		}
	}

	sortNewestFirst(records)
	return records, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
