package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"riskgraph/pkg/models"
)

// Config configures the Redis record consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Consumer pops ingestion-boundary records from a Redis list. SIEM
// forwarders push one JSON record (or a JSON array of records) per entry.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis input: %w", err)
	}

	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop pops one list entry and decodes the contained records. A nil,
// nil return means the blocking pop timed out with no message.
func (c *Consumer) Pop(ctx context.Context) ([]models.Record, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return decodeRecords([]byte(res[1]))
}

func decodeRecords(payload []byte) ([]models.Record, error) {
	trimmed := firstNonSpace(payload)
	if trimmed == '[' {
		var batch []models.Record
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, fmt.Errorf("decode record batch: %w", err)
		}
		return batch, nil
	}

	var rec models.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return []models.Record{rec}, nil
}

func firstNonSpace(payload []byte) byte {
	for _, b := range payload {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
