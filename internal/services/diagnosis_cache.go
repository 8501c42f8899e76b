package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDiagnosisTTL is how long a diagnosis report stays cached
const DefaultDiagnosisTTL = 30 * time.Second

const diagnosisKeyPrefix = "batch-diagnosis:"

// RedisDiagnosisCache stores diagnosis reports in Redis. A nil client
// disables caching; every lookup misses and writes are dropped.
type RedisDiagnosisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisDiagnosisCache creates a cache backed by client
func NewRedisDiagnosisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisDiagnosisCache {
	if ttl <= 0 {
		ttl = DefaultDiagnosisTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDiagnosisCache{client: client, ttl: ttl, logger: logger}
}

func diagnosisKey(eventID string) string {
	return diagnosisKeyPrefix + eventID
}

// Get returns the cached report for eventID
func (c *RedisDiagnosisCache) Get(ctx context.Context, eventID string) (*DiagnosisReport, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, diagnosisKey(eventID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("diagnosis cache read failed", "event_id", eventID, "error", err)
		}
		return nil, false
	}

	var report DiagnosisReport
	if err := json.Unmarshal(data, &report); err != nil {
		c.logger.Warn("diagnosis cache entry unreadable", "event_id", eventID, "error", err)
		return nil, false
	}
	return &report, true
}

// Set stores report for eventID with the configured TTL
func (c *RedisDiagnosisCache) Set(ctx context.Context, eventID string, report *DiagnosisReport) {
	if c == nil || c.client == nil || report == nil {
		return
	}

	data, err := json.Marshal(report)
	if err != nil {
		c.logger.Warn("diagnosis report not cacheable", "event_id", eventID, "error", err)
		return
	}
	if err := c.client.Set(ctx, diagnosisKey(eventID), string(data), c.ttl).Err(); err != nil {
		c.logger.Warn("diagnosis cache write failed", "event_id", eventID, "error", err)
	}
}

// Invalidate drops the cached report for eventID
func (c *RedisDiagnosisCache) Invalidate(ctx context.Context, eventID string) {
	if c == nil || c.client == nil || eventID == "" {
		return
	}
	if err := c.client.Del(ctx, diagnosisKey(eventID)).Err(); err != nil {
		c.logger.Warn("diagnosis cache invalidation failed", "event_id", eventID, "error", err)
	}
}
