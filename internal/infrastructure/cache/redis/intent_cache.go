package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

const keyPrefix = "evidence-router:intent:"

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// IntentCache keeps classified intents keyed by normalized question text.
type IntentCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIntentCache(cfg Config) *IntentCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &IntentCache{client: client, ttl: ttl}
}

func (c *IntentCache) GetIntent(ctx context.Context, key string) (domain.Intent, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Intent{}, false, nil
	}
	if err != nil {
		return domain.Intent{}, false, fmt.Errorf("redis get intent: %w", err)
	}
	var cached domain.Intent
	if err := json.Unmarshal(raw, &cached); err != nil {
		return domain.Intent{}, false, fmt.Errorf("decode cached intent: %w", err)
	}
	category, ok := domain.ParseIntentCategory(string(cached.Category))
	if !ok {
		return domain.Intent{}, false, nil
	}
	return domain.NewIntent(category, cached.Confidence), true, nil
}

func (c *IntentCache) SetIntent(ctx context.Context, key string, intent domain.Intent) error {
	raw, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set intent: %w", err)
	}
	return nil
}

func (c *IntentCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *IntentCache) Close() error {
	return c.client.Close()
}
