package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/metrics"
	"github.com/insight-agent/backend/pkg/logger"
)

// Client caches finished analysis and hypothesis responses. Sessions are
// ephemeral, so cache keys always include the session id and entries expire
// with a TTL rather than explicit invalidation.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// Close is nil-safe so a disabled cache can be shut down unconditionally.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// SetAnalysis caches a finished analysis response under its question hash.
func (c *Client) SetAnalysis(ctx context.Context, key string, response interface{}, ttl time.Duration) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis response: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("analysis:%s", key), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set analysis cache: %w", err)
	}

	logger.Debug("Analysis cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// GetAnalysis loads a cached analysis response into out. A nil client always
// misses.
func (c *Client) GetAnalysis(ctx context.Context, key string, out interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}

	data, err := c.client.Get(ctx, fmt.Sprintf("analysis:%s", key)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("analysis").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get analysis cache: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal analysis response: %w", err)
	}

	metrics.CacheHits.WithLabelValues("analysis").Inc()
	logger.Debug("Analysis cache hit", zap.String("key", key))
	return true, nil
}

// SetHypotheses caches a generated hypothesis batch for a session.
func (c *Client) SetHypotheses(ctx context.Context, key string, response interface{}, ttl time.Duration) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal hypotheses: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("hypotheses:%s", key), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set hypotheses cache: %w", err)
	}

	logger.Debug("Hypotheses cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetHypotheses(ctx context.Context, key string, out interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}

	data, err := c.client.Get(ctx, fmt.Sprintf("hypotheses:%s", key)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("hypotheses").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get hypotheses cache: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal hypotheses: %w", err)
	}

	metrics.CacheHits.WithLabelValues("hypotheses").Inc()
	return true, nil
}

// InvalidateSession drops every cached entry belonging to a deleted session.
func (c *Client) InvalidateSession(ctx context.Context, sessionID string) error {
	if c == nil {
		return nil
	}

	for _, pattern := range []string{
		fmt.Sprintf("analysis:%s*", sessionID),
		fmt.Sprintf("hypotheses:%s*", sessionID),
	} {
		iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				logger.Warn("Failed to delete cache key", zap.Error(err))
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to iterate cache keys: %w", err)
		}
	}

	logger.Debug("Session cache invalidated", zap.String("session_id", sessionID))
	return nil
}
