// Package redis stores try-on sessions as Redis lists with a sliding TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

const defaultKeyPrefix = "tryon:session:"

// Config controls the Redis record store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration
}

// RecordStore keeps one list per session, oldest record first.
type RecordStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewClient builds a go-redis client from cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRecordStore wraps an existing client.
func NewRecordStore(client redis.UniversalClient, cfg Config) (*RecordStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("redis ttl must be >= 0")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RecordStore{client: client, keyPrefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RecordStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Save appends the record to its session list and refreshes the TTL.
func (s *RecordStore) Save(ctx context.Context, record tryon.TryOnRecord) error {
	if record.ID == "" || record.SessionID == "" {
		return errors.New("record id and session id are required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal tryon record: %w", err)
	}
	key := s.key(record.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", key, err)
	}
	return nil
}

// FindBySession returns up to limit records. limit <= 0 returns all.
func (s *RecordStore) FindBySession(ctx context.Context, sessionID string, limit int) ([]tryon.TryOnRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	key := s.key(sessionID)
	values, err := s.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	out := make([]tryon.TryOnRecord, 0, len(values))
	for _, v := range values {
		var rec tryon.TryOnRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode tryon record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RecordStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
