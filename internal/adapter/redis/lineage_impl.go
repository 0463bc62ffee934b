package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
)

// LineageRepoImpl keeps one JSON-encoded status per combo in a Redis hash.
type LineageRepoImpl struct {
	client *redis.Client
	key    string
}

// NewLineageRepo creates a new instance of LineageRepoImpl.
func NewLineageRepo(client *redis.Client, prefix string) *LineageRepoImpl {
	return &LineageRepoImpl{client: client, key: prefix + "lineages"}
}

func (r *LineageRepoImpl) Save(ctx context.Context, status entity.LineageStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode lineage %s: %w", status.ComboKey, err)
	}
	return r.client.HSet(ctx, r.key, status.ComboKey, payload).Err()
}

func (r *LineageRepoImpl) Get(ctx context.Context, comboKey string) (entity.LineageStatus, error) {
	raw, err := r.client.HGet(ctx, r.key, comboKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity.LineageStatus{}, repository.ErrNotFound
		}
		return entity.LineageStatus{}, err
	}
	var status entity.LineageStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return entity.LineageStatus{}, fmt.Errorf("decode lineage %s: %w", comboKey, err)
	}
	return status, nil
}

// List returns every lineage ordered by combo key.
func (r *LineageRepoImpl) List(ctx context.Context) ([]entity.LineageStatus, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	statuses := make([]entity.LineageStatus, 0, len(all))
	for key, raw := range all {
		var status entity.LineageStatus
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			return nil, fmt.Errorf("decode lineage %s: %w", key, err)
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ComboKey < statuses[j].ComboKey })
	return statuses, nil
}
