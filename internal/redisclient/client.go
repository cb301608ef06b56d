package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	degradedQueueKey   = "checkout:degraded:queue"
	degradedRecordsKey = "checkout:degraded:records"
)

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MarkFinalized remembers that a payment already produced an order
func (c *Client) MarkFinalized(ctx context.Context, paymentID, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:payment:%s", paymentID), orderID, ttl).Err()
}

// LookupFinalized returns the order id recorded for a payment, if any
func (c *Client) LookupFinalized(ctx context.Context, paymentID string) (string, bool, error) {
	orderID, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:payment:%s", paymentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orderID, true, nil
}

// AcquireLock acquires a distributed lock and returns the owner token
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// AppendDegraded durably queues a degraded checkout record
func (c *Client) AppendDegraded(ctx context.Context, rec *models.DegradedRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal degraded record: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, degradedRecordsKey, rec.ID, raw)
	pipe.RPush(ctx, degradedQueueKey, rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// PendingDegraded returns up to limit oldest degraded records
func (c *Client) PendingDegraded(ctx context.Context, limit int) ([]models.DegradedRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := c.rdb.LRange(ctx, degradedQueueKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.DegradedRecord{}, nil
	}

	values, err := c.rdb.HMGet(ctx, degradedRecordsKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.DegradedRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("degraded record %s missing from hash", ids[i])
		}
		var rec models.DegradedRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal degraded record %s: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// UpdateDegraded rewrites a queued record without changing its position
func (c *Client) UpdateDegraded(ctx context.Context, rec *models.DegradedRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal degraded record: %w", err)
	}
	return c.rdb.HSet(ctx, degradedRecordsKey, rec.ID, raw).Err()
}

// AckDegraded removes a record once its order is durably saved
func (c *Client) AckDegraded(ctx context.Context, rec *models.DegradedRecord) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, degradedQueueKey, 0, rec.ID)
	pipe.HDel(ctx, degradedRecordsKey, rec.ID)
	_, err := pipe.Exec(ctx)
	return err
}
