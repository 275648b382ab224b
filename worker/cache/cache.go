package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaPipeline/api/models"
)

const (
	statusKeyPrefix = "task:status:"
	statusTTL       = 24 * time.Hour
)

var ErrStatusNotFound = errors.New("status not cached")

type StatusEntry struct {
	Status    models.TaskStatus `json:"status"`
	Progress  int               `json:"progress"`
	Error     string            `json:"error,omitempty"`
	OutputURL string            `json:"output_url,omitempty"`
	Preview   string            `json:"preview,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func key(taskID string) string {
	return statusKeyPrefix + taskID
}

// Set mirrors the latest status of a task. Entries older than the cached one
// are ignored so redelivered events cannot roll a task back.
func (c *StatusCache) Set(ctx context.Context, taskID string, entry StatusEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key(taskID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cached StatusEntry
			if json.Unmarshal([]byte(current), &cached) == nil && cached.UpdatedAt.After(entry.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(taskID), data, statusTTL)
			return nil
		})
		return err
	}, key(taskID))
}

func (c *StatusCache) Get(ctx context.Context, taskID string) (*StatusEntry, error) {
	data, err := c.client.Get(ctx, key(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry StatusEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
