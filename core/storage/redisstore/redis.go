// Package redisstore persists menu sessions to Redis as JSON values,
// one key per chat. A TTL of zero keeps records until the chat restarts.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/m3rciful/telemenu/core/config"
	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
	"log/slog"
)

const keyPrefix = "telemenu:session:"

// Store wraps a Redis client holding one JSON record per chat.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Open connects to Redis and verifies connectivity with a ping.
func Open(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.STORE.Error("redis connect failed",
			slog.String("event", "store.connect"),
			slog.String("driver", "redis"),
			slog.String("addr", cfg.Addr),
			slog.Int("db", cfg.DB),
			slog.String("err", err.Error()),
		)
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	logger.STORE.Info("redis connected",
		slog.String("event", "store.connect"),
		slog.String("driver", "redis"),
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Duration("duration", logger.Took(start)),
	)
	return &Store{
		client: client,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
	}, nil
}

// Put inserts or replaces the record for rec.ChatID.
func (s *Store) Put(ctx context.Context, rec storage.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	return s.client.Set(ctx, key(rec.ChatID), data, s.ttl).Err()
}

// Get returns the record for the chat or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, chatID int64) (storage.Record, error) {
	data, err := s.client.Get(ctx, key(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("get session: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return storage.Record{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return rec, nil
}

// Delete removes the record for the chat if present.
func (s *Store) Delete(ctx context.Context, chatID int64) error {
	return s.client.Del(ctx, key(chatID)).Err()
}

// List scans all session keys and returns the stored records.
func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	var out []storage.Record
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		var rec storage.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal session state: %w", err)
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func key(chatID int64) string {
	return keyPrefix + strconv.FormatInt(chatID, 10)
}
