package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/driverag/backend/pkg/logger"
	"github.com/driverag/backend/pkg/utils"
)

// Client is a best-effort cache over redis. Lookup and store failures are
// logged and treated as misses; the pipeline never depends on the cache.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Hour
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, text string, embedding []float32) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	key := fmt.Sprintf("embedding:%s", utils.HashString(text))
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Warn("Failed to cache embedding", zap.Error(err))
	}
}

func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float32, bool) {
	key := fmt.Sprintf("embedding:%s", utils.HashString(text))
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("Embedding cache lookup failed", zap.Error(err))
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false
	}
	return embedding, true
}

func (c *Client) SetAnswer(ctx context.Context, question string, answer interface{}) {
	data, err := json.Marshal(answer)
	if err != nil {
		return
	}
	key := fmt.Sprintf("query:%s", utils.HashString(question))
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Warn("Failed to cache answer", zap.Error(err))
	}
}

func (c *Client) GetAnswer(ctx context.Context, question string, answer interface{}) bool {
	key := fmt.Sprintf("query:%s", utils.HashString(question))
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		logger.Warn("Answer cache lookup failed", zap.Error(err))
		return false
	}

	if err := json.Unmarshal(data, answer); err != nil {
		return false
	}
	logger.Debug("Answer cache hit", zap.String("question_hash", utils.HashString(question)))
	return true
}

// InvalidateAnswers drops every cached answer. Called after the indexed
// corpus changes so stale answers never survive a reconciliation pass.
func (c *Client) InvalidateAnswers(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "query:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Answer cache invalidated")
	return nil
}
