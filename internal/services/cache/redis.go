package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "relay:cache:"

type redisEntry struct {
	Persona   string    `json:"persona"`
	Text      string    `json:"text"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
}

type redisMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func newRedisMirror(cfg *config.RedisConfig, logger *logrus.Logger) (*redisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisMirror{client: client, ttl: cfg.TTL, logger: logger}, nil
}

func (r *redisMirror) get(ctx context.Context, key Key) (string, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key.Hash()).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var entry redisEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return "", false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return entry.Reply, entry.Reply != "", nil
}

func (r *redisMirror) set(ctx context.Context, key Key, reply string) error {
	data, err := json.Marshal(redisEntry{
		Persona:   key.Persona,
		Text:      key.Text,
		Reply:     reply,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+key.Hash(), data, r.ttl).Err()
}

func (r *redisMirror) clear(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	r.logger.WithField("keys", deleted).Debug("Redis cache mirror cleared")
	return nil
}
