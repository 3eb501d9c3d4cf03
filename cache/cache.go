// Package cache keeps the latest-prediction payload per company in
// Redis. Ingestion invalidates it so freshness is recomputed on the
// next read.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const predictionTTL = 5 * time.Minute

type PredictionCache struct {
	rdb *redis.Client
}

func NewPredictionCache(rdb *redis.Client) *PredictionCache {
	return &PredictionCache{rdb: rdb}
}

func key(companyID uint) string {
	return fmt.Sprintf("company:%d:prediction:latest", companyID)
}

// Get returns the cached payload and whether it was present.
func (c *PredictionCache) Get(ctx context.Context, companyID uint) (string, bool) {
	v, err := c.rdb.Get(ctx, key(companyID)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *PredictionCache) Set(ctx context.Context, companyID uint, payload string) error {
	return c.rdb.Set(ctx, key(companyID), payload, predictionTTL).Err()
}

func (c *PredictionCache) Invalidate(ctx context.Context, companyID uint) error {
	return c.rdb.Del(ctx, key(companyID)).Err()
}
