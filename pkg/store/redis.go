package store

import (
	"context"
	"fmt"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRedisHash is the hash holding all quote documents.
const DefaultRedisHash = "price-cache:quotes"

const backendRedis = "redis"

// RedisStore keeps quotes as JSON documents in one Redis hash, field = Key.String().
type RedisStore struct {
	redis  *redis.Client
	hash   string
	logger zerolog.Logger
}

// NewRedisStore creates a store on redisClient. An empty hash uses DefaultRedisHash.
func NewRedisStore(redisClient *redis.Client, hash string) (*RedisStore, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if hash == "" {
		hash = DefaultRedisHash
	}
	return &RedisStore{
		redis:  redisClient,
		hash:   hash,
		logger: log.With().Str("component", "redis-store").Logger(),
	}, nil
}

// LoadAll reads every document of the hash.
func (s *RedisStore) LoadAll(ctx context.Context) ([]*quote.Quote, error) {
	fields, err := s.redis.HGetAll(ctx, s.hash).Result()
	observe(backendRedis, "load", err)
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	quotes := make([]*quote.Quote, 0, len(fields))
	for field, data := range fields {
		key, err := quote.ParseKey(field)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping stored quote with invalid key")
			continue
		}
		q, err := decode([]byte(data))
		if err != nil {
			s.logger.Warn().Err(err).Str("key", field).Msg("Skipping invalid stored quote")
			continue
		}
		if q.Key() != key {
			s.logger.Warn().
				Str("key", field).
				Str("document_key", q.Key().String()).
				Msg("Skipping stored quote filed under another key")
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// SaveAll writes quotes with one pipelined HSET.
func (s *RedisStore) SaveAll(ctx context.Context, quotes []*quote.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	values := make([]any, 0, 2*len(quotes))
	for _, q := range quotes {
		if q == nil {
			continue
		}
		data, err := encode(q)
		if err != nil {
			observe(backendRedis, "save", err)
			return err
		}
		values = append(values, q.Key().String(), data)
	}

	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hash, values...)
		return nil
	})
	observe(backendRedis, "save", err)
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}

	quotesWritten.WithLabelValues(backendRedis).Add(float64(len(values) / 2))
	return nil
}

// Delete removes one quote.
func (s *RedisStore) Delete(ctx context.Context, key quote.Key) error {
	err := s.redis.HDel(ctx, s.hash, key.String()).Err()
	observe(backendRedis, "delete", err)
	if err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Clear removes the whole hash.
func (s *RedisStore) Clear(ctx context.Context) error {
	err := s.redis.Del(ctx, s.hash).Err()
	observe(backendRedis, "clear", err)
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
