package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/listing-crawler/pkg/utils"
)

// ScrapedRepoImpl marks recently scraped items with expiring keys.
type ScrapedRepoImpl struct {
	client *redis.Client
	prefix string
}

// NewScrapedRepo creates a new instance of ScrapedRepoImpl.
func NewScrapedRepo(client *redis.Client, prefix string) *ScrapedRepoImpl {
	return &ScrapedRepoImpl{client: client, prefix: prefix}
}

// generateKey hashes the external id so arbitrary ids make safe keys.
func (r *ScrapedRepoImpl) generateKey(externalID string) string {
	return r.prefix + "scraped:" + utils.Hash(externalID)
}

// MarkScraped sets the marker with SETEX.
func (r *ScrapedRepoImpl) MarkScraped(ctx context.Context, externalID string, expiry time.Duration) error {
	return r.client.SetEx(ctx, r.generateKey(externalID), "1", expiry).Err()
}

// IsScraped checks for the marker with EXISTS.
func (r *ScrapedRepoImpl) IsScraped(ctx context.Context, externalID string) (bool, error) {
	val, err := r.client.Exists(ctx, r.generateKey(externalID)).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}
